// Package schedulertest provides an in-memory Scheduler for tests.
package schedulertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/3leaps/jobsync/pkg/scheduler"
)

// Fake is an in-memory scheduler.Scheduler.
//
// Job states and task results are seeded by the test; notifications are
// delivered with Emit. Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	connected bool
	nextID    int
	handlers  map[int]scheduler.EventHandler
	nextSub   int

	submitted []*scheduler.Job
	states    map[string]*scheduler.JobState
	results   map[string]*scheduler.TaskResult
	stateErrs map[string]error
	resultErr map[string]error

	// SubmitErr, when set, is returned by Submit.
	SubmitErr error

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error

	connects    int
	disconnects int
	stateCalls  int
}

// New returns a connected fake scheduler.
func New() *Fake {
	return &Fake{
		connected: true,
		handlers:  make(map[int]scheduler.EventHandler),
		states:    make(map[string]*scheduler.JobState),
		results:   make(map[string]*scheduler.TaskResult),
		stateErrs: make(map[string]error),
		resultErr: make(map[string]error),
	}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	f.handlers = make(map[int]scheduler.EventHandler)
	return nil
}

func (f *Fake) Submit(ctx context.Context, job *scheduler.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return "", &scheduler.Error{Op: "Submit", Err: scheduler.ErrNotConnected}
	}
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	cp := *job
	f.submitted = append(f.submitted, &cp)

	st := &scheduler.JobState{JobID: id, Status: scheduler.JobPending, Tasks: make(map[string]scheduler.TaskState)}
	for _, t := range job.Tasks {
		st.Tasks[t.Name] = scheduler.TaskState{Name: t.Name, Status: scheduler.TaskPending}
	}
	f.states[id] = st
	return id, nil
}

func (f *Fake) JobState(ctx context.Context, jobID string) (*scheduler.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if err := f.stateErrs[jobID]; err != nil {
		return nil, err
	}
	if !f.connected {
		return nil, &scheduler.Error{Op: "JobState", JobID: jobID, Err: scheduler.ErrNotConnected}
	}
	st, ok := f.states[jobID]
	if !ok {
		return nil, &scheduler.Error{Op: "JobState", JobID: jobID, Err: scheduler.ErrUnknownJob}
	}
	cp := *st
	cp.Tasks = make(map[string]scheduler.TaskState, len(st.Tasks))
	for k, v := range st.Tasks {
		cp.Tasks[k] = v
	}
	return &cp, nil
}

func (f *Fake) TaskResult(ctx context.Context, jobID, taskName string) (*scheduler.TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[jobID]
	if !ok {
		return nil, &scheduler.Error{Op: "TaskResult", JobID: jobID, TaskName: taskName, Err: scheduler.ErrUnknownJob}
	}
	if _, ok := st.Tasks[taskName]; !ok {
		return nil, &scheduler.Error{Op: "TaskResult", JobID: jobID, TaskName: taskName, Err: scheduler.ErrUnknownTask}
	}
	if err := f.resultErr[resultKey(jobID, taskName)]; err != nil {
		return nil, err
	}
	res, ok := f.results[resultKey(jobID, taskName)]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (f *Fake) Subscribe(ctx context.Context, handler scheduler.EventHandler) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, &scheduler.Error{Op: "Subscribe", Err: scheduler.ErrNotConnected}
	}
	f.nextSub++
	id := f.nextSub
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, id)
	}, nil
}

// Emit delivers ev synchronously to every subscribed handler.
func (f *Fake) Emit(ctx context.Context, ev scheduler.Event) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.handlers))
	for id := range f.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]scheduler.EventHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, f.handlers[id])
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// SetJobState seeds or replaces the state of a job.
func (f *Fake) SetJobState(st *scheduler.JobState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.JobID] = st
}

// SetJobStatus updates the status of a known job.
func (f *Fake) SetJobStatus(jobID string, status scheduler.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[jobID]; ok {
		st.Status = status
	}
}

// SetTaskState updates a task of a known job.
func (f *Fake) SetTaskState(jobID string, ts scheduler.TaskState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[jobID]; ok {
		st.Tasks[ts.Name] = ts
	}
}

// SetTaskResult makes a result available for a task.
func (f *Fake) SetTaskResult(jobID string, res *scheduler.TaskResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[resultKey(jobID, res.TaskName)] = res
}

// ForgetJob makes the scheduler report the job as unknown.
func (f *Fake) ForgetJob(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, jobID)
}

// FailJobState makes JobState return err for the job. A nil err clears it.
func (f *Fake) FailJobState(jobID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.stateErrs, jobID)
		return
	}
	f.stateErrs[jobID] = err
}

// FailTaskResult makes TaskResult return err for the task. A nil err
// clears it.
func (f *Fake) FailTaskResult(jobID, taskName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.resultErr, resultKey(jobID, taskName))
		return
	}
	f.resultErr[resultKey(jobID, taskName)] = err
}

// Submitted returns the jobs accepted so far.
func (f *Fake) Submitted() []*scheduler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*scheduler.Job(nil), f.submitted...)
}

// Subscribers returns the number of active subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// Connected reports the session state.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Connects returns how many times Connect was called.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// JobStateCalls returns how many times JobState was called.
func (f *Fake) JobStateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateCalls
}

func resultKey(jobID, taskName string) string {
	return jobID + "\x00" + taskName
}

var _ scheduler.Scheduler = (*Fake)(nil)
