package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/3leaps/jobsync/pkg/scheduler"
)

// JSONLWriter journals events as newline-delimited JSON to an io.Writer.
//
// JSONLWriter implements scheduler.Listener, so it can be registered on a
// proxy directly. It is safe for concurrent use; writes are serialized so
// lines never interleave.
type JSONLWriter struct {
	w       io.Writer
	session string
	mu      sync.Mutex

	closed bool

	// now is replaced in tests.
	now func() time.Time
}

// NewJSONLWriter creates a journal writer tagging every record with session.
func NewJSONLWriter(w io.Writer, session string) *JSONLWriter {
	return &JSONLWriter{
		w:       w,
		session: session,
		now:     time.Now,
	}
}

// HandleEvent writes one record for ev. Returning an error evicts the
// writer from the fanout, which is what a broken journal should do.
func (jw *JSONLWriter) HandleEvent(ctx context.Context, ev scheduler.Event) error {
	recordType, data, err := recordFor(ev)
	if err != nil {
		return fmt.Errorf("output: %s: %w", ev.Kind(), err)
	}
	return jw.writeRecord(ctx, recordType, ev.JobRef(), data)
}

// Close marks the writer as closed. The underlying writer is not closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType, jobID string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:    recordType,
		TS:      jw.now().UTC(),
		Session: jw.session,
		JobID:   jobID,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ scheduler.Listener = (*JSONLWriter)(nil)
