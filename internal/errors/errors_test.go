package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	fulerrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not found", NewNotFoundError("no such job"), http.StatusNotFound, CodeNotFound, "no such job"},
		{"wrapped app error", fmt.Errorf("lookup: %w", NewBadRequestError("bad id")), http.StatusBadRequest, CodeBadRequest, "bad id"},
		{"external", NewExternalServiceError("scheduler down"), http.StatusBadGateway, CodeExternalService, "scheduler down"},
		{"plain error is hidden", stderrors.New("secret path /etc/x"), http.StatusInternalServerError, CodeInternal, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, "req-1")
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantMsg, body.Error.Message)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

func TestAppError(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewInternalError("write failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, CodeInternal, err.Code())

	withDetails := err.WithDetails(map[string]any{"path": "/tmp"})
	assert.Empty(t, err.Envelope.Context, "WithDetails copies")
	assert.Equal(t, "/tmp", withDetails.Envelope.Context["path"])
	assert.Equal(t, "write failed", withDetails.Message())
	assert.ErrorIs(t, withDetails, cause)
}

func TestWriteEnvelope(t *testing.T) {
	env := fulerrors.NewErrorEnvelope(CodeJobNotFound, "job is not awaited").
		WithCorrelationID("corr-123")
	env, err := env.WithContext(map[string]interface{}{"job_id": "7"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	WriteEnvelope(rec, env, http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeJobNotFound, body.Error.Code)
	assert.Equal(t, "corr-123", body.Error.RequestID)
	assert.Equal(t, "7", body.Error.Details["job_id"])
}
