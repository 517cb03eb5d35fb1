package proxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobsync/pkg/scheduler"
	"github.com/3leaps/jobsync/pkg/transfer"
)

func TestBridge_UnrecoverableJobStatusRemovesJob(t *testing.T) {
	for _, status := range []scheduler.JobStatus{scheduler.JobKilled, scheduler.JobCanceled} {
		t.Run(status.String(), func(t *testing.T) {
			env := newTestEnv(t)
			env.init(t)
			env.seed(t, awaited("7", true, "A"))

			env.sched.Emit(context.Background(), jobEvent("7", status))
			assert.False(t, env.proxy.registry.Contains("7"))

			// Idempotent: a second delivery, and one for a job never tracked.
			env.sched.Emit(context.Background(), jobEvent("7", status))
			env.sched.Emit(context.Background(), jobEvent("404", status))
			assert.Empty(t, env.proxy.AwaitedJobIDs())
		})
	}
}

func TestBridge_FinishedAndFailedJobsAreKept(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A"))

	for _, status := range []scheduler.JobStatus{scheduler.JobRunning, scheduler.JobFinished, scheduler.JobFailed} {
		env.sched.Emit(context.Background(), jobEvent("7", status))
	}
	assert.True(t, env.proxy.registry.Contains("7"))
}

func TestBridge_TasksWithoutOutputAreDropped(t *testing.T) {
	statuses := []scheduler.TaskStatus{scheduler.TaskAborted, scheduler.TaskNotStarted, scheduler.TaskNotRestarted, scheduler.TaskSkipped}
	for _, status := range statuses {
		t.Run(status.String(), func(t *testing.T) {
			env := newTestEnv(t)
			env.init(t)
			env.seed(t, awaited("7", true, "A", "B"))

			env.sched.Emit(context.Background(), taskEvent("7", "B", status))
			env.proxy.bridge.Wait()

			job, ok := env.proxy.AwaitedJob("7")
			require.True(t, ok)
			assert.Nil(t, job.Task("B"))
			assert.NotNil(t, job.Task("A"))
			assert.Empty(t, env.space.Downloads())
		})
	}
}

func TestBridge_DuplicateFinishedEnqueuesOneDownload(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A"))
	env.space.gate = make(chan struct{})

	ctx := context.Background()
	env.sched.Emit(ctx, taskEvent("7", "A", scheduler.TaskFinished))
	<-env.space.started

	job, _ := env.proxy.AwaitedJob("7")
	assert.True(t, job.Task("A").Transferring, "guard is committed while the download runs")

	env.sched.Emit(ctx, taskEvent("7", "A", scheduler.TaskFinished))
	env.sched.Emit(ctx, taskEvent("7", "A", scheduler.TaskFaulty))
	close(env.space.gate)
	env.proxy.bridge.Wait()

	require.Len(t, env.space.Downloads(), 1)
	d := env.space.Downloads()[0]
	assert.Equal(t, "s3://spaces/pull/alice_1", d.src)
	assert.Equal(t, "/tmp/out", d.dst)
	assert.Equal(t, []string{"A/*.out"}, d.selectors)

	job, _ = env.proxy.AwaitedJob("7")
	a := job.Task("A")
	require.NotNil(t, a)
	assert.False(t, a.Transferring)
	assert.True(t, a.Transferred)
	assert.Equal(t, "t-A", a.TaskID)

	// Finished after the transfer completed: still no second download.
	env.sched.Emit(ctx, taskEvent("7", "A", scheduler.TaskFinished))
	env.proxy.bridge.Wait()
	assert.Len(t, env.space.Downloads(), 1)
}

func TestBridge_ManualJobsAreNotTransferred(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", false, "A"))

	env.sched.Emit(context.Background(), taskEvent("7", "A", scheduler.TaskFinished))
	env.proxy.bridge.Wait()
	assert.Empty(t, env.space.Downloads())

	job, _ := env.proxy.AwaitedJob("7")
	assert.False(t, job.Task("A").Transferring)
}

func TestBridge_FailedDownloadDropsTask(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A", "B"))
	rec := &recorder{}
	env.proxy.AddEventListener(rec)
	boom := errors.New("network down")
	env.space.downloadErr = boom

	env.sched.Emit(context.Background(), taskEvent("7", "A", scheduler.TaskFinished))
	env.proxy.bridge.Wait()

	job, ok := env.proxy.AwaitedJob("7")
	require.True(t, ok, "the job itself stays tracked")
	assert.Nil(t, job.Task("A"))
	assert.NotNil(t, job.Task("B"))

	transfers := rec.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, scheduler.DirectionDownload, transfers[0].Direction)
	assert.Equal(t, "A", transfers[0].TaskName)
	assert.ErrorIs(t, transfers[0].Err, boom)
	assert.True(t, transfer.IsTransferError(transfers[0].Err))

	// No retry on a later duplicate.
	env.sched.Emit(context.Background(), taskEvent("7", "A", scheduler.TaskFinished))
	env.proxy.bridge.Wait()
	assert.Len(t, env.space.Downloads(), 1)
}

func TestBridge_SuccessfulDownloadIsBroadcast(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A"))
	rec := &recorder{}
	env.proxy.AddEventListener(rec)
	env.space.gate = make(chan struct{})

	env.sched.Emit(context.Background(), taskEvent("7", "A", scheduler.TaskFinished))
	close(env.space.gate)
	env.proxy.bridge.Wait()

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, scheduler.KindTaskStatus, events[0].Kind(), "scheduler events are re-broadcast first")
	te, ok := events[1].(*scheduler.TransferEvent)
	require.True(t, ok)
	assert.NoError(t, te.Err)
	assert.Equal(t, 1, te.Files)
	assert.Equal(t, "/tmp/out", te.Destination)
}

func TestBridge_IsolatedOutputUsesTaskID(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	job := awaited("7", true, "A")
	job.IsolateTaskOutputs = true
	env.seed(t, job)

	ctx := context.Background()
	env.sched.Emit(ctx, &scheduler.TaskEvent{JobID: "7", TaskName: "A", TaskID: "70001", Status: scheduler.TaskRunning})
	got, _ := env.proxy.AwaitedJob("7")
	assert.Equal(t, "70001", got.Task("A").TaskID)

	env.sched.Emit(ctx, &scheduler.TaskEvent{JobID: "7", TaskName: "A", Status: scheduler.TaskFinished})
	env.proxy.bridge.Wait()

	require.Len(t, env.space.Downloads(), 1)
	assert.Equal(t, "s3://spaces/pull/alice_1/70001", env.space.Downloads()[0].src)
}

func TestBridge_IsolatedOutputWithoutTaskIDFails(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	job := awaited("7", true, "A")
	job.IsolateTaskOutputs = true
	env.seed(t, job)

	env.sched.Emit(context.Background(), &scheduler.TaskEvent{JobID: "7", TaskName: "A", Status: scheduler.TaskFinished})
	env.proxy.bridge.Wait()

	assert.Empty(t, env.space.Downloads())
	got, _ := env.proxy.AwaitedJob("7")
	assert.Nil(t, got.Task("A"))
}

func TestBridge_UnknownJobOrTaskIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A"))
	before, _ := env.proxy.AwaitedJob("7")

	ctx := context.Background()
	env.sched.Emit(ctx, taskEvent("404", "A", scheduler.TaskFinished))
	env.sched.Emit(ctx, taskEvent("7", "Z", scheduler.TaskFinished))
	env.sched.Emit(ctx, taskEvent("7", "Z", scheduler.TaskAborted))
	env.proxy.bridge.Wait()

	after, _ := env.proxy.AwaitedJob("7")
	assert.Equal(t, before, after)
	assert.Empty(t, env.space.Downloads())
}

func TestBridge_EnqueueAfterShutdownReleasesClaim(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A"))
	require.NoError(t, env.proxy.executor.Shutdown(context.Background()))

	env.proxy.bridge.Handle(context.Background(), taskEvent("7", "A", scheduler.TaskFinished))

	job, _ := env.proxy.AwaitedJob("7")
	assert.False(t, job.Task("A").Transferring)
	assert.False(t, job.Task("A").Transferred)
}

func TestBridge_HandleSurvivesClosedRegistry(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A"))
	rec := &recorder{}
	env.proxy.AddEventListener(rec)
	require.NoError(t, env.proxy.registry.Close())

	assert.NotPanics(t, func() {
		env.proxy.bridge.Handle(context.Background(), taskEvent("7", "A", scheduler.TaskAborted))
	})
	assert.Len(t, rec.Events(), 1, "events are re-broadcast even when local handling fails")
}

func TestBridge_ConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	env.seed(t, awaited("7", true, "A"))
	env.space.gate = make(chan struct{})

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			env.proxy.bridge.Handle(context.Background(), taskEvent("7", "A", scheduler.TaskFinished))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handler blocked on the transfer")
		}
	}
	close(env.space.gate)
	env.proxy.bridge.Wait()
	assert.Len(t, env.space.Downloads(), 1)
}
