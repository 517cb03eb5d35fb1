package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/jobsync/internal/errors"
	"github.com/3leaps/jobsync/pkg/jobregistry"
)

// JobSource is the read side of the awaited-job registry.
type JobSource interface {
	SessionName() string
	ListIDs() []string
	Get(jobID string) (*jobregistry.AwaitedJob, bool)
}

// JobsResponse is the body of GET /v1/jobs.
type JobsResponse struct {
	Session string                    `json:"session"`
	Count   int                       `json:"count"`
	Jobs    []*jobregistry.AwaitedJob `json:"jobs"`
}

// JobsHandler serves the awaited-job registry read-only.
type JobsHandler struct {
	source JobSource
}

func NewJobsHandler(source JobSource) *JobsHandler {
	return &JobsHandler{source: source}
}

// List returns every awaited job, ordered by job id.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.source.ListIDs()
	jobs := make([]*jobregistry.AwaitedJob, 0, len(ids))
	for _, id := range ids {
		// Removed between ListIDs and Get.
		if job, ok := h.source.Get(id); ok {
			jobs = append(jobs, job)
		}
	}
	apperrors.WriteJSON(w, http.StatusOK, JobsResponse{
		Session: h.source.SessionName(),
		Count:   len(jobs),
		Jobs:    jobs,
	})
}

// Get returns one awaited job or JOB_NOT_FOUND.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, ok := h.source.Get(id)
	if !ok {
		err := apperrors.New(http.StatusNotFound, apperrors.CodeJobNotFound, "job is not awaited").
			WithDetails(map[string]any{"job_id": id})
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, job)
}
