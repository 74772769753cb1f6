// Package report wraps results and failures in the response envelope shared by
// every API operation.
package report

import (
	"net/http"
	"time"
)

// ISO8601 matches JavaScript's Date.prototype.toISOString output.
const ISO8601 = "2006-01-02T15:04:05.000Z"

const (
	MsgInternal     = "Internal server error"
	MsgInvalidInput = "Invalid input data"
	MsgUnauthorized = "Unauthorized"
)

type Success[T any] struct {
	Success   bool   `json:"success"`
	Data      T      `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Failure is the error envelope. It satisfies huma.StatusError so handlers can
// return it directly.
type Failure struct {
	status    int
	Success   bool   `json:"success"`
	Message   string `json:"error"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (f *Failure) GetStatus() int { return f.status }
func (f *Failure) Error() string  { return f.Message }

// Unauthenticated is the bare 401 body. It is not an envelope.
type Unauthenticated struct {
	Message string `json:"error"`
}

// Assembler stamps envelopes with the instant they are built.
type Assembler struct {
	Now func() time.Time
}

func (a Assembler) stamp() string {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return now().UTC().Format(ISO8601)
}

// OK wraps data in a success envelope.
func OK[T any](a Assembler, data T) Success[T] {
	return Success[T]{Success: true, Data: data, Timestamp: a.stamp()}
}

func (a Assembler) Fail(status int, message, details string) *Failure {
	return &Failure{
		status:    status,
		Success:   false,
		Message:   message,
		Details:   details,
		Timestamp: a.stamp(),
	}
}

// Invalid reports a validation failure with the offending details.
func (a Assembler) Invalid(details string) *Failure {
	return a.Fail(http.StatusBadRequest, MsgInvalidInput, details)
}

// Internal reports a collaborator failure without leaking its cause.
func (a Assembler) Internal() *Failure {
	return a.Fail(http.StatusInternalServerError, MsgInternal, "")
}

func (a Assembler) NotFound(message string) *Failure {
	return a.Fail(http.StatusNotFound, message, "")
}
