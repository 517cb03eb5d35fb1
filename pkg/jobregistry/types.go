package jobregistry

import (
	"sort"
	"time"
)

// AwaitedTask tracks the transfer status of one task within an awaited job.
//
// NOTE: These field names are persisted in the registry and are part of the
// stable on-disk contract.
type AwaitedTask struct {
	Name string `json:"task_name"`

	// OutputSelectors are glob patterns, relative to the task's output
	// location, selecting the files to download once the task completes.
	OutputSelectors []string `json:"output_selectors,omitempty"`

	// TaskID is bound when the scheduler reports the task running.
	TaskID string `json:"task_id,omitempty"`

	// Transferring is true only while an output transfer is in flight.
	Transferring bool `json:"transferring"`

	// Transferred is set once the task's output has been retrieved.
	Transferred bool `json:"transferred,omitempty"`
}

// AwaitedJob is the durable record of a submitted job whose output the client
// still cares about.
//
// The schema is designed for backward-compatible extension (additive fields).
type AwaitedJob struct {
	JobID string `json:"job_id"`

	LocalInputFolder    string `json:"local_input_folder,omitempty"`
	RemoteInputSpaceURL string `json:"remote_input_space_url,omitempty"`
	PushURL             string `json:"push_url,omitempty"`

	LocalOutputFolder    string `json:"local_output_folder,omitempty"`
	RemoteOutputSpaceURL string `json:"remote_output_space_url,omitempty"`
	PullURL              string `json:"pull_url,omitempty"`

	IsolateTaskOutputs bool `json:"isolate_task_outputs"`
	AutomaticTransfer  bool `json:"automatic_transfer"`

	Tasks map[string]*AwaitedTask `json:"tasks"`

	SubmittedAt time.Time `json:"submitted_at"`
}

// Task returns the awaited task with the given name, or nil.
func (j *AwaitedJob) Task(name string) *AwaitedTask {
	if j == nil || j.Tasks == nil {
		return nil
	}
	return j.Tasks[name]
}

// RemoveTask drops a task from the job and reports whether it existed.
func (j *AwaitedJob) RemoveTask(name string) bool {
	if j == nil || j.Tasks == nil {
		return false
	}
	if _, ok := j.Tasks[name]; !ok {
		return false
	}
	delete(j.Tasks, name)
	return true
}

// TaskNames returns the awaited task names in lexical order.
func (j *AwaitedJob) TaskNames() []string {
	if j == nil {
		return nil
	}
	names := make([]string, 0, len(j.Tasks))
	for name := range j.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the job.
func (j *AwaitedJob) Clone() *AwaitedJob {
	if j == nil {
		return nil
	}
	out := *j
	out.Tasks = make(map[string]*AwaitedTask, len(j.Tasks))
	for name, t := range j.Tasks {
		if t == nil {
			continue
		}
		tc := *t
		tc.OutputSelectors = append([]string(nil), t.OutputSelectors...)
		out.Tasks[name] = &tc
	}
	return &out
}
