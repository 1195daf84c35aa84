// Package api holds the JSON wire types shared by the coordinator HTTP
// server and its client.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/hay-kot/criterio"
)

// Error codes carried in the "error" field of an error body.
const (
	CodeNotFound               = "not_found"
	CodeAlreadyClaimed         = "already_claimed"
	CodeNotOwner               = "not_owner"
	CodeDependencyNotSatisfied = "dependency_not_satisfied"
	CodeInvalidTransition      = "invalid_transition"
	CodeDuplicate              = "duplicate"
	CodeInvalid                = "invalid"
	CodeNoneAvailable          = "none_available"
	CodeCorruptRecord          = "corrupt_record"
	CodeInternal               = "internal"
)

// kinds names the sentinel errors that travel over the wire so the client
// can hand the same values back to errors.Is.
var kinds = []struct {
	kind   string
	code   string
	status int
	err    error
}{
	{"task_not_found", CodeNotFound, http.StatusNotFound, task.ErrNotFound},
	{"message_not_found", CodeNotFound, http.StatusNotFound, messaging.ErrNotFound},
	{"not_owner", CodeNotOwner, http.StatusForbidden, task.ErrNotOwner},
	{"duplicate", CodeDuplicate, http.StatusConflict, task.ErrDuplicate},
	{"none_available", CodeNoneAvailable, http.StatusNotFound, task.ErrNoneAvailable},
	{"reason_required", CodeInvalid, http.StatusBadRequest, task.ErrReasonRequired},
	{"holder_required", CodeInvalid, http.StatusBadRequest, task.ErrHolderRequired},
	{"invalid_status", CodeInvalid, http.StatusBadRequest, messaging.ErrInvalidStatus},
	{"invalid_sender", CodeInvalid, http.StatusBadRequest, messaging.ErrInvalidSender},
	{"empty_session", CodeInvalid, http.StatusBadRequest, messaging.ErrEmptySession},
	{"empty_content", CodeInvalid, http.StatusBadRequest, messaging.ErrEmptyContent},
	{"payload_too_large", CodeInvalid, http.StatusBadRequest, messaging.ErrPayloadTooLarge},
}

// FieldError is one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`

	TaskID     string       `json:"taskId,omitempty"`
	Holder     string       `json:"holder,omitempty"`
	AgeSeconds int64        `json:"ageSeconds,omitempty"`
	Pending    []string     `json:"pending,omitempty"`
	From       task.Status  `json:"from,omitempty"`
	To         task.Status  `json:"to,omitempty"`
	Fields     []FieldError `json:"fields,omitempty"`
	// Detail is the decode or invariant failure behind a corrupt record.
	Detail string `json:"detail,omitempty"`
}

// BadRequest builds an invalid-input body for malformed requests.
func BadRequest(msg string) Error {
	return Error{Code: CodeInvalid, Message: msg}
}

// FromError maps a coordinator error onto an HTTP status and body. Unknown
// errors become a 500 with a generic message.
func FromError(err error) (int, Error) {
	var (
		claimed   *task.AlreadyClaimedError
		deps      *task.DependencyNotSatisfiedError
		trans     *task.InvalidTransitionError
		corrupt   *task.CorruptRecordError
		fieldErrs criterio.FieldErrors
	)

	switch {
	case errors.As(err, &claimed):
		return http.StatusConflict, Error{
			Code:       CodeAlreadyClaimed,
			Message:    err.Error(),
			TaskID:     claimed.TaskID,
			Holder:     claimed.Holder,
			AgeSeconds: int64(claimed.Age / time.Second),
		}
	case errors.As(err, &deps):
		return http.StatusPreconditionFailed, Error{
			Code:    CodeDependencyNotSatisfied,
			Message: err.Error(),
			TaskID:  deps.TaskID,
			Pending: deps.Pending,
		}
	case errors.As(err, &trans):
		return http.StatusConflict, Error{
			Code:    CodeInvalidTransition,
			Message: err.Error(),
			TaskID:  trans.TaskID,
			From:    trans.From,
			To:      trans.To,
		}
	case errors.As(err, &corrupt):
		body := Error{Code: CodeCorruptRecord, Message: err.Error(), TaskID: corrupt.TaskID}
		if corrupt.Err != nil {
			body.Detail = corrupt.Err.Error()
		}
		return http.StatusInternalServerError, body
	case errors.As(err, &fieldErrs):
		body := Error{Code: CodeInvalid, Message: err.Error()}
		for _, fe := range fieldErrs {
			body.Fields = append(body.Fields, FieldError{Field: fe.Field, Message: fe.Err.Error()})
		}
		return http.StatusBadRequest, body
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status, Error{Code: k.code, Message: err.Error(), Kind: k.kind}
		}
	}

	return http.StatusInternalServerError, Error{Code: CodeInternal, Message: "internal error"}
}

// RemoteError is an error returned by the coordinator that has no typed
// equivalent. It unwraps to the matching sentinel when there is one.
type RemoteError struct {
	Status int
	Body   Error
	target error
}

func (e *RemoteError) Error() string {
	if e.Body.Message != "" {
		return e.Body.Message
	}
	return e.Body.Code
}

func (e *RemoteError) Unwrap() error { return e.target }

// Err converts a decoded body back into the error the server started from,
// so callers can branch with errors.Is and errors.As.
func (e Error) Err(status int) error {
	switch e.Code {
	case CodeAlreadyClaimed:
		return &task.AlreadyClaimedError{
			TaskID: e.TaskID,
			Holder: e.Holder,
			Age:    time.Duration(e.AgeSeconds) * time.Second,
		}
	case CodeDependencyNotSatisfied:
		return &task.DependencyNotSatisfiedError{TaskID: e.TaskID, Pending: e.Pending}
	case CodeInvalidTransition:
		return &task.InvalidTransitionError{TaskID: e.TaskID, From: e.From, To: e.To}
	case CodeCorruptRecord:
		return &task.CorruptRecordError{TaskID: e.TaskID, Err: errors.New(e.Detail)}
	}

	remote := &RemoteError{Status: status, Body: e}
	for _, k := range kinds {
		if k.kind == e.Kind {
			remote.target = k.err
			return remote
		}
	}

	// Bodies without a kind fall back on the code.
	switch e.Code {
	case CodeNotFound:
		remote.target = task.ErrNotFound
	case CodeNotOwner:
		remote.target = task.ErrNotOwner
	case CodeDuplicate:
		remote.target = task.ErrDuplicate
	case CodeNoneAvailable:
		remote.target = task.ErrNoneAvailable
	}
	return remote
}
