// Package jobregistry durably tracks the jobs a client still awaits output for.
//
// A Registry is scoped to a session name: each session owns one SQLite
// database under the registry directory, so several clients can share a
// machine without seeing each other's jobs.
//
// Every mutation is committed before the call returns (write-through); the
// in-memory view is only updated once the commit succeeded.
package jobregistry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/jobsync/internal/metrics"
)

// Config configures a Registry.
type Config struct {
	// Dir holds the session databases. Defaults to DefaultDir().
	Dir string

	// SessionName namespaces the database. Defaults to DefaultSessionName.
	SessionName string

	Logger *zap.Logger
}

// Registry is the durable keyed store of AwaitedJob records.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	dir     string
	session string
	logger  *zap.Logger

	db     *sql.DB
	jobs   map[string]*AwaitedJob
	opened bool
}

// New creates an unloaded registry. Call Load before using it.
func New(cfg Config) *Registry {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = DefaultDir()
	}
	session := strings.TrimSpace(cfg.SessionName)
	if session == "" {
		session = DefaultSessionName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{dir: dir, session: session, logger: logger}
}

// SessionName returns the active session name.
func (r *Registry) SessionName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Dir returns the directory holding session databases.
func (r *Registry) Dir() string {
	return r.dir
}

// Path returns the database path of the active session.
func (r *Registry) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return DatabasePath(r.dir, r.session)
}

// SetSessionName changes the session. It must be called before Load.
func (r *Registry) SetSessionName(name string) error {
	if err := ValidateSessionName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return fmt.Errorf("%w: session name cannot change after the registry was opened", ErrInvalidState)
	}
	r.session = name
	return nil
}

// Load opens (or creates) the session database and reads every record.
//
// A store written by an incompatible schema is purged and reloaded empty.
// Any record persisted with Transferring set is reset: a transfer cannot
// survive the process that ran it.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ValidateSessionName(r.session); err != nil {
		return err
	}
	if r.db != nil {
		return nil
	}

	db, jobs, err := r.open(ctx)
	if IsSchemaError(err) {
		r.logger.Warn("Registry store is incompatible; purging session",
			zap.String("session", r.session),
			zap.String("path", DatabasePath(r.dir, r.session)),
			zap.Error(err))
		if perr := PurgeSession(r.dir, r.session); perr != nil {
			return fmt.Errorf("purge incompatible registry: %w", perr)
		}
		db, jobs, err = r.open(ctx)
	}
	if err != nil {
		return err
	}

	r.db = db
	r.jobs = jobs
	r.opened = true

	if err := r.resetTransferring(ctx); err != nil {
		return err
	}

	r.logger.Debug("Registry loaded",
		zap.String("session", r.session),
		zap.Int("jobs", len(r.jobs)))
	r.updateGauge()
	return nil
}

func (r *Registry) open(ctx context.Context) (*sql.DB, map[string]*AwaitedJob, error) {
	path := DatabasePath(r.dir, r.session)
	db, err := openDB(ctx, path)
	if err != nil {
		if isCorruptDatabase(err) {
			return nil, nil, &SchemaError{Path: path, Err: err}
		}
		return nil, nil, err
	}
	if err := migrate(ctx, db, path); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	jobs, err := readAll(ctx, db, path)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, jobs, nil
}

func readAll(ctx context.Context, db *sql.DB, path string) (map[string]*AwaitedJob, error) {
	rows, err := db.QueryContext(ctx, `SELECT job_id, record FROM awaited_jobs`)
	if err != nil {
		if isCorruptDatabase(err) {
			return nil, &SchemaError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("read awaited jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make(map[string]*AwaitedJob)
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan awaited job: %w", err)
		}
		var job AwaitedJob
		if err := json.Unmarshal([]byte(record), &job); err != nil {
			return nil, &SchemaError{Path: path, Err: fmt.Errorf("decode job %s: %w", id, err)}
		}
		if job.Tasks == nil {
			job.Tasks = make(map[string]*AwaitedTask)
		}
		for name, t := range job.Tasks {
			if t == nil {
				delete(job.Tasks, name)
			}
		}
		job.JobID = id
		jobs[id] = &job
	}
	if err := rows.Err(); err != nil {
		if isCorruptDatabase(err) {
			return nil, &SchemaError{Path: path, Err: err}
		}
		return nil, fmt.Errorf("read awaited jobs: %w", err)
	}
	return jobs, nil
}

func (r *Registry) resetTransferring(ctx context.Context) error {
	for id, job := range r.jobs {
		dirty := false
		for _, t := range job.Tasks {
			if t != nil && t.Transferring {
				t.Transferring = false
				dirty = true
			}
		}
		if !dirty {
			continue
		}
		r.logger.Info("Abandoned in-flight transfer reset", zap.String("job_id", id))
		if err := r.write(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the awaited job, if tracked.
func (r *Registry) Get(jobID string) (*AwaitedJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// Contains reports whether the job is tracked.
func (r *Registry) Contains(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[jobID]
	return ok
}

// ListIDs returns all tracked job ids in lexical order.
func (r *Registry) ListIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Put stores (or replaces) a job and commits it.
func (r *Registry) Put(ctx context.Context, job *AwaitedJob) error {
	if job == nil {
		return fmt.Errorf("awaited job is nil")
	}
	if strings.TrimSpace(job.JobID) == "" {
		return fmt.Errorf("job_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return ErrNotLoaded
	}

	c := job.Clone()
	if c.Tasks == nil {
		c.Tasks = make(map[string]*AwaitedTask)
	}
	if err := r.write(ctx, c); err != nil {
		return err
	}
	r.jobs[c.JobID] = c
	r.updateGauge()
	return nil
}

// Update applies fn to a copy of the job and commits the result atomically
// with respect to other registry calls.
//
// It reports whether the job was tracked; fn is not called otherwise. If fn
// returns ErrNoChange nothing is written.
func (r *Registry) Update(ctx context.Context, jobID string, fn func(job *AwaitedJob) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return false, ErrNotLoaded
	}

	cur, ok := r.jobs[jobID]
	if !ok {
		return false, nil
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return true, nil
		}
		return true, err
	}
	next.JobID = jobID
	if err := r.write(ctx, next); err != nil {
		return true, err
	}
	r.jobs[jobID] = next
	return true, nil
}

// Remove deletes a job. Removing an untracked job is a no-op.
func (r *Registry) Remove(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return ErrNotLoaded
	}
	if _, ok := r.jobs[jobID]; !ok {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM awaited_jobs WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete awaited job %s: %w", jobID, err)
	}
	delete(r.jobs, jobID)
	r.updateGauge()
	return nil
}

// DiscardAll removes every job of the session.
func (r *Registry) DiscardAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return ErrNotLoaded
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM awaited_jobs`); err != nil {
		return fmt.Errorf("discard awaited jobs: %w", err)
	}
	r.jobs = make(map[string]*AwaitedJob)
	r.updateGauge()
	return nil
}

// Reset closes the store, deletes the session's files and reopens it empty.
func (r *Registry) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			return fmt.Errorf("close registry: %w", err)
		}
		r.db = nil
	}
	if err := PurgeSession(r.dir, r.session); err != nil {
		return err
	}
	db, jobs, err := r.open(ctx)
	if err != nil {
		return err
	}
	r.db = db
	r.jobs = jobs
	r.opened = true
	r.updateGauge()
	return nil
}

// Ping checks that the database is open and reachable.
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.Lock()
	db := r.db
	r.mu.Unlock()
	if db == nil {
		return ErrNotLoaded
	}
	return db.PingContext(ctx)
}

// Close releases the database. The registry may be loaded again afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	r.jobs = nil
	return err
}

func (r *Registry) write(ctx context.Context, job *AwaitedJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal awaited job: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO awaited_jobs (job_id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			record=excluded.record,
			updated_at=excluded.updated_at
	`, job.JobID, string(b), now)
	if err != nil {
		return fmt.Errorf("write awaited job %s: %w", job.JobID, err)
	}
	return nil
}

func (r *Registry) updateGauge() {
	metrics.AwaitedJobs.WithLabelValues(r.session).Set(float64(len(r.jobs)))
}
