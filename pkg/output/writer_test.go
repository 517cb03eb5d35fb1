package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobsync/pkg/scheduler"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var records []Record
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "line: %s", sc.Text())
		records = append(records, rec)
	}
	require.NoError(t, sc.Err())
	return records
}

func TestJSONLWriter_HandleEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "alpha")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	ctx := context.Background()
	require.NoError(t, w.HandleEvent(ctx, &scheduler.JobEvent{JobID: "7", Status: scheduler.JobFinished, Synthetic: true}))
	require.NoError(t, w.HandleEvent(ctx, &scheduler.TaskEvent{JobID: "7", TaskName: "A", TaskID: "7t0", Status: scheduler.TaskFinished}))
	require.NoError(t, w.HandleEvent(ctx, &scheduler.TransferEvent{
		Direction:   scheduler.DirectionDownload,
		JobID:       "7",
		TaskName:    "A",
		Source:      "s3://b/pull/x",
		Destination: "/tmp/out",
		Err:         errors.New("denied"),
	}))

	records := decodeLines(t, &buf)
	require.Len(t, records, 3)

	assert.Equal(t, TypeJob, records[0].Type)
	assert.Equal(t, "alpha", records[0].Session)
	assert.Equal(t, "7", records[0].JobID)
	assert.True(t, records[0].TS.Equal(fixed))
	var job JobRecord
	require.NoError(t, json.Unmarshal(records[0].Data, &job))
	assert.Equal(t, scheduler.JobFinished, job.Status)
	assert.True(t, job.Synthetic)

	assert.Equal(t, TypeTask, records[1].Type)
	var task TaskRecord
	require.NoError(t, json.Unmarshal(records[1].Data, &task))
	assert.Equal(t, "A", task.TaskName)
	assert.Equal(t, "7t0", task.TaskID)

	assert.Equal(t, TypeTransfer, records[2].Type)
	var xfer TransferRecord
	require.NoError(t, json.Unmarshal(records[2].Data, &xfer))
	assert.Equal(t, scheduler.DirectionDownload, xfer.Direction)
	assert.Equal(t, "denied", xfer.Error)
	assert.Zero(t, xfer.Files)
}

func TestJSONLWriter_Closed(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "s")
	require.NoError(t, w.Close())

	err := w.HandleEvent(context.Background(), &scheduler.JobEvent{JobID: "1", Status: scheduler.JobRunning})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Zero(t, buf.Len())
}

func TestJSONLWriter_CanceledContext(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "s")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.HandleEvent(ctx, &scheduler.JobEvent{JobID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
}

type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 7 {
		p = p[:7]
	}
	return s.buf.Write(p)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONLWriter_ShortAndFailedWrites(t *testing.T) {
	sw := &shortWriter{}
	w := NewJSONLWriter(sw, "s")
	require.NoError(t, w.HandleEvent(context.Background(), &scheduler.JobEvent{JobID: "1", Status: scheduler.JobPending}))
	assert.True(t, strings.HasSuffix(sw.buf.String(), "}\n"))

	w = NewJSONLWriter(failWriter{}, "s")
	err := w.HandleEvent(context.Background(), &scheduler.JobEvent{JobID: "1"})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "write", werr.Op)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "s")

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = w.HandleEvent(context.Background(), &scheduler.TaskEvent{JobID: "1", TaskName: "A", Status: scheduler.TaskRunning})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, decodeLines(t, &buf), writers*perWriter)
}
