package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pureboot/pureboot/internal/files"
	"github.com/pureboot/pureboot/internal/lifecycle"
	"github.com/pureboot/pureboot/internal/statemachine"
	"github.com/pureboot/pureboot/internal/store"
	"github.com/pureboot/pureboot/internal/workflows"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Total   *int   `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeData writes a singleton response.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeList writes a list response with its total.
func writeList(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Total: &total})
}

// writeMessage writes a data-less confirmation.
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: true, Message: message})
}

// writeErrorCode writes a structured error with an explicit code.
func writeErrorCode(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, envelope{Success: false, Error: code, Detail: detail})
}

// writeError maps domain errors onto HTTP status codes and structured error
// bodies. Unknown errors become opaque 500s; the cause is logged, not leaked.
func writeError(w http.ResponseWriter, err error) {
	var invalid *statemachine.InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		writeErrorCode(w, http.StatusBadRequest, "InvalidStateTransition", invalid.Error())
	case errors.Is(err, store.ErrNodeNotFound):
		writeErrorCode(w, http.StatusNotFound, "NodeNotFound", err.Error())
	case errors.Is(err, store.ErrGroupNotFound):
		writeErrorCode(w, http.StatusNotFound, "GroupNotFound", err.Error())
	case errors.Is(err, store.ErrAlertNotFound):
		writeErrorCode(w, http.StatusNotFound, "AlertNotFound", err.Error())
	case errors.Is(err, workflows.ErrWorkflowNotFound):
		writeErrorCode(w, http.StatusNotFound, "WorkflowNotFound", err.Error())
	case errors.Is(err, files.ErrFileNotFound):
		writeErrorCode(w, http.StatusNotFound, "FileNotFound", err.Error())
	case errors.Is(err, files.ErrNotSupported):
		writeErrorCode(w, http.StatusBadRequest, "NotSupported", err.Error())
	case errors.Is(err, store.ErrDuplicateMAC):
		writeErrorCode(w, http.StatusConflict, "DuplicateMAC", err.Error())
	case errors.Is(err, lifecycle.ErrDuplicateEvent):
		writeErrorCode(w, http.StatusConflict, "DuplicateEvent", err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeErrorCode(w, http.StatusInternalServerError, "InternalError", "")
	}
}

// writeValidationError writes a 400 for malformed input.
func writeValidationError(w http.ResponseWriter, detail string) {
	writeErrorCode(w, http.StatusBadRequest, "ValidationError", detail)
}
