package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Default().Warn("failed to encode response", "error", err)
	}
}

// decodeJSON reads the request body into v. Oversized or malformed bodies
// are reported as validation errors.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return goerr.Wrap(err, "Invalid request body", goerr.T(model.ErrTagValidation))
	}
	return nil
}

// rootMessage returns the message of the innermost error, which is the
// upstream cause for wrapped errors.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// writeError maps an error to a status code by its tag. summary is the
// user facing message for server side failures.
func writeError(w http.ResponseWriter, r *http.Request, summary string, err error) {
	logger := logging.From(r.Context())

	switch {
	case goerr.HasTag(err, model.ErrTagValidation):
		logger.Warn("invalid request", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

	case goerr.HasTag(err, model.ErrTagNotFound):
		logger.Warn("resource not found", "error", err)
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not Found"})

	case goerr.HasTag(err, model.ErrTagConfig):
		logger.Error("server is not configured", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})

	default:
		logger.Error(summary, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   summary,
			Details: rootMessage(err),
		})
	}
}
