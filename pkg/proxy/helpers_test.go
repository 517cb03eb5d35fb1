package proxy

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/jobsync/pkg/dataspace"
	"github.com/3leaps/jobsync/pkg/jobregistry"
	"github.com/3leaps/jobsync/pkg/scheduler"
	"github.com/3leaps/jobsync/pkg/scheduler/schedulertest"
)

type download struct {
	src       string
	selectors []string
	dst       string
}

// fakeSpace records data-space calls. Downloads block on gate when it is set.
type fakeSpace struct {
	mu        sync.Mutex
	created   []string
	deleted   []string
	uploads   []string
	downloads []download

	createErr   error
	uploadErr   error
	downloadErr error

	gate    chan struct{}
	started chan struct{}

	// uploadGate blocks uploads the same way gate blocks downloads.
	uploadGate chan struct{}
}

var _ dataspace.Client = (*fakeSpace)(nil)

func newFakeSpace() *fakeSpace {
	return &fakeSpace{started: make(chan struct{}, 64)}
}

func (s *fakeSpace) CreateFolder(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, url)
	return nil
}

func (s *fakeSpace) DeleteFolder(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, url)
	return nil
}

func (s *fakeSpace) Upload(ctx context.Context, localDir, remoteURL string, selectors []string) (int, error) {
	s.mu.Lock()
	gate, err := s.uploadGate, s.uploadErr
	if err == nil {
		s.uploads = append(s.uploads, remoteURL)
	}
	s.mu.Unlock()

	if gate != nil {
		s.started <- struct{}{}
		<-gate
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *fakeSpace) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

func (s *fakeSpace) Download(ctx context.Context, remoteURL string, selectors []string, localDir string) (int, error) {
	s.mu.Lock()
	s.downloads = append(s.downloads, download{src: remoteURL, selectors: selectors, dst: localDir})
	gate, err := s.gate, s.downloadErr
	s.mu.Unlock()

	s.started <- struct{}{}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return 0, err
	}
	return len(selectors), nil
}

func (s *fakeSpace) Downloads() []download {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]download(nil), s.downloads...)
}

func (s *fakeSpace) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

func (s *fakeSpace) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// recorder is a comparable listener that keeps every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []scheduler.Event
	failOn int // 1-based event number to fail on; 0 never fails
}

func (r *recorder) HandleEvent(ctx context.Context, ev scheduler.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.failOn > 0 && len(r.events) == r.failOn {
		return errFailingListener
	}
	return nil
}

func (r *recorder) Events() []scheduler.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduler.Event(nil), r.events...)
}

func (r *recorder) Transfers() []*scheduler.TransferEvent {
	var out []*scheduler.TransferEvent
	for _, ev := range r.Events() {
		if te, ok := ev.(*scheduler.TransferEvent); ok {
			out = append(out, te)
		}
	}
	return out
}

type testEnv struct {
	proxy *Proxy
	sched *schedulertest.Fake
	space *fakeSpace
	dir   string
}

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		sched: schedulertest.New(),
		space: newFakeSpace(),
		dir:   t.TempDir(),
	}
	opts := Options{
		Scheduler: env.sched,
		DataSpace: env.space,
		Dir:       env.dir,
		Identity:  "alice",
		PushURL:   "s3://spaces/push",
		PullURL:   "s3://spaces/pull",
		Workers:   4,
		Logger:    zap.NewNop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	p, err := New(opts)
	require.NoError(t, err)
	env.proxy = p
	t.Cleanup(func() { _ = p.Terminate(context.Background()) })
	return env
}

func (e *testEnv) init(t *testing.T) {
	t.Helper()
	_, err := e.proxy.Init(context.Background())
	require.NoError(t, err)
}

// seed stores an awaited job directly, bypassing submission.
func (e *testEnv) seed(t *testing.T, job *jobregistry.AwaitedJob) {
	t.Helper()
	require.NoError(t, e.proxy.registry.Put(context.Background(), job))
}

func awaited(jobID string, automatic bool, tasks ...string) *jobregistry.AwaitedJob {
	j := &jobregistry.AwaitedJob{
		JobID:             jobID,
		LocalOutputFolder: "/tmp/out",
		PullURL:           "s3://spaces/pull/alice_1",
		AutomaticTransfer: automatic,
		Tasks:             make(map[string]*jobregistry.AwaitedTask),
	}
	for _, name := range tasks {
		j.Tasks[name] = &jobregistry.AwaitedTask{Name: name, OutputSelectors: []string{name + "/*.out"}}
	}
	return j
}

func taskEvent(jobID, task string, status scheduler.TaskStatus) *scheduler.TaskEvent {
	return &scheduler.TaskEvent{JobID: jobID, TaskName: task, TaskID: "t-" + task, Status: status}
}

func jobEvent(jobID string, status scheduler.JobStatus) *scheduler.JobEvent {
	return &scheduler.JobEvent{JobID: jobID, Status: status}
}

// transferring reports the persisted transferring flag of a task.
func (e *testEnv) transferring(jobID, taskName string) bool {
	job, ok := e.proxy.AwaitedJob(jobID)
	if !ok || job.Task(taskName) == nil {
		return false
	}
	return job.Task(taskName).Transferring
}
