package proxy

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/jobsync/pkg/dataspace"
	"github.com/3leaps/jobsync/pkg/scheduler"
)

// Generic-info keys attached to staged jobs.
const (
	MetaInputLocalFolder  = "jobsync.input.local_folder"
	MetaInputPushURL      = "jobsync.input.push_url"
	MetaOutputLocalFolder = "jobsync.output.local_folder"
	MetaOutputPullURL     = "jobsync.output.pull_url"
	MetaOutputIsolate     = "jobsync.output.isolate"
)

const folderTimeLayout = "20060102150405.000"

var identityReplacer = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// UniqueFolderName derives a per-submission folder name:
// <identity>_<yyyyMMddHHmmssSSS>_<8 hex chars>.
//
// The random suffix separates submissions by the same identity within one
// millisecond.
func UniqueFolderName(identity string, now time.Time) string {
	id := identityReplacer.ReplaceAllString(strings.TrimSpace(identity), "_")
	id = strings.Trim(id, "_")
	if id == "" {
		id = "anonymous"
	}
	stamp := strings.Replace(now.UTC().Format(folderTimeLayout), ".", "", 1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return id + "_" + stamp + "_" + suffix
}

// StagedSpace describes a remote folder created for a submission.
type StagedSpace struct {
	// URL is the client-visible folder (under the push or pull root).
	URL string

	// SpaceURL is the scheduler-visible folder written into the job.
	SpaceURL string

	// LocalFolder is the absolute local folder paired with the space.
	LocalFolder string
}

// PrepareInput creates <pushURL>/<folderName>, points job.InputSpace at the
// matching sub-folder and records the staging metadata on the job.
//
// A job without a declared input space reads directly from the push folder.
func PrepareInput(ctx context.Context, space dataspace.Client, job *scheduler.Job, localFolder, pushURL, folderName string) (*StagedSpace, error) {
	st, err := stage(ctx, space, job.InputSpace, localFolder, pushURL, folderName)
	if err != nil {
		return nil, fmt.Errorf("prepare input: %w", err)
	}
	job.InputSpace = st.SpaceURL
	job.SetGenericInfo(MetaInputLocalFolder, st.LocalFolder)
	job.SetGenericInfo(MetaInputPushURL, st.URL)
	return st, nil
}

// PrepareOutput creates <pullURL>/<folderName>, points job.OutputSpace at the
// matching sub-folder and records the staging metadata on the job.
//
// With isolate set, the scheduler writes each task's output under
// <outputSpace>/<taskId>.
func PrepareOutput(ctx context.Context, space dataspace.Client, job *scheduler.Job, localFolder, pullURL, folderName string, isolate bool) (*StagedSpace, error) {
	st, err := stage(ctx, space, job.OutputSpace, localFolder, pullURL, folderName)
	if err != nil {
		return nil, fmt.Errorf("prepare output: %w", err)
	}
	job.OutputSpace = st.SpaceURL
	job.SetGenericInfo(MetaOutputLocalFolder, st.LocalFolder)
	job.SetGenericInfo(MetaOutputPullURL, st.URL)
	job.SetGenericInfo(MetaOutputIsolate, strconv.FormatBool(isolate))
	return st, nil
}

func stage(ctx context.Context, space dataspace.Client, declared, localFolder, rootURL, folderName string) (*StagedSpace, error) {
	if strings.TrimSpace(rootURL) == "" {
		return nil, fmt.Errorf("%w: data space root url is required", ErrInvalidOptions)
	}
	if strings.TrimSpace(folderName) == "" {
		return nil, fmt.Errorf("%w: folder name is required", ErrInvalidOptions)
	}
	abs, err := filepath.Abs(localFolder)
	if err != nil {
		return nil, fmt.Errorf("resolve local folder %s: %w", localFolder, err)
	}

	sub, err := dataspace.Join(rootURL, folderName)
	if err != nil {
		return nil, err
	}
	spaceURL := sub
	if strings.TrimSpace(declared) != "" {
		spaceURL, err = dataspace.Join(declared, folderName)
		if err != nil {
			return nil, err
		}
	}

	if err := space.CreateFolder(ctx, sub); err != nil {
		return nil, err
	}
	return &StagedSpace{URL: sub, SpaceURL: spaceURL, LocalFolder: abs}, nil
}

// outputSource returns where a task's output is read from.
func outputSource(pullURL string, isolate bool, taskID string) (string, error) {
	if !isolate {
		return pullURL, nil
	}
	if taskID == "" {
		return "", fmt.Errorf("task id is not known; isolated output cannot be located")
	}
	return dataspace.Join(pullURL, taskID)
}

// inputSelectors returns the union of the tasks' input selectors in
// declaration order. No selectors means every file.
func inputSelectors(job *scheduler.Job) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range job.Tasks {
		for _, s := range t.InputFiles {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
