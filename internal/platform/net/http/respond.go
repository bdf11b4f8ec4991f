package http

import (
	"encoding/json"
	stdhttp "net/http"

	perr "clinicaletl/internal/platform/errors"
	"clinicaletl/internal/platform/logger"
)

// Envelope wraps every API body
type Envelope struct {
	StatusCode int            `json:"status_code"`
	Status     string         `json:"status"`
	Code       perr.ErrorCode `json:"code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Field      string         `json:"field,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Data       any            `json:"data,omitempty"`
}

// Response is what a handler returns; Handle writes it
type Response struct {
	Status int
	Body   any
	Err    error
}

// OK is a 200 with data
func OK(data any) Response { return Response{Status: stdhttp.StatusOK, Body: data} }

// Accepted is a 202 with data
func Accepted(data any) Response { return Response{Status: stdhttp.StatusAccepted, Body: data} }

// Error answers with the status mapped from err
func Error(err error) Response { return Response{Err: err} }

// Handle adapts a Response handler to net/http
func Handle(h func(*stdhttp.Request) Response) stdhttp.HandlerFunc {
	return func(w stdhttp.ResponseWriter, r *stdhttp.Request) { Write(w, r, h(r)) }
}

// Get mounts a read-only handler that returns data or an error
func Get(r Router, path string, h func(*stdhttp.Request) (any, error)) {
	r.Get(path, Handle(func(req *stdhttp.Request) Response {
		v, err := h(req)
		if err != nil {
			return Error(err)
		}
		return OK(v)
	}))
}

// Write renders resp in the envelope
func Write(w stdhttp.ResponseWriter, r *stdhttp.Request, resp Response) {
	env := Envelope{StatusCode: resp.Status, RequestID: logger.RequestID(r.Context()), Data: resp.Body}
	if resp.Err != nil {
		wire := perr.WireFrom(resp.Err)
		env = Envelope{
			StatusCode: perr.HTTPStatus(resp.Err),
			Code:       wire.Code,
			Error:      wire.Message,
			Field:      wire.Field,
			RequestID:  env.RequestID,
		}
		if env.StatusCode >= stdhttp.StatusInternalServerError {
			logger.C(r.Context()).Error().Err(resp.Err).Str("path", r.URL.Path).Msg("http: request failed")
		}
	}
	if env.StatusCode == 0 {
		env.StatusCode = stdhttp.StatusOK
	}
	env.Status = stdhttp.StatusText(env.StatusCode)
	JSON(w, env.StatusCode, env)
}

// JSON writes v with status
func JSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
