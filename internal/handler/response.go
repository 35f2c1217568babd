package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
	"github.com/mir00r/sip-dispatcher/internal/middleware"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

var validate = validator.New()

// ErrorResponse represents error responses
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Status    int                    `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Contacts  []domain.Contact       `json:"contacts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps err onto its HTTP status and writes a standardized body
func writeError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	resp := errorResponse(r, log, err)
	writeJSON(w, resp.Status, resp)
}

// errorResponse builds and logs the body written for err
func errorResponse(r *http.Request, log *logger.Logger, err error) ErrorResponse {
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      string(errors.GetErrorCode(err)),
		Status:    errors.GetHTTPStatusCode(err),
		Timestamp: time.Now(),
		RequestID: middleware.RequestID(r.Context()),
	}
	if de, ok := errors.AsDispatchError(err); ok {
		resp.Error = de.Message
		resp.Metadata = de.Metadata
	}

	entry := log.WithFields(map[string]interface{}{
		"code":       resp.Code,
		"status":     resp.Status,
		"request_id": resp.RequestID,
	}).WithError(err)
	if resp.Status >= 500 {
		entry.Error("API error response")
	} else {
		entry.Debug("API error response")
	}
	return resp
}

func badRequest(message string) error {
	return errors.NewError(errors.ErrCodeInvalidRequest, "admin", message)
}

// decodeBody decodes and validates a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	if err := validate.Struct(v); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

// groupVar parses the {group} path variable
func groupVar(r *http.Request) (int, error) {
	raw := mux.Vars(r)["group"]
	group, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid set id " + strconv.Quote(raw))
	}
	return group, nil
}

func loadNotFound(callID string) error {
	return errors.NewError(errors.ErrCodeCallLoadNotFound, "admin",
		"no load tracked for call-id "+callID)
}
