package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		check  func(t *testing.T, got error)
	}{
		{
			name:   "already claimed",
			err:    &task.AlreadyClaimedError{TaskID: "a", Holder: "w1", Age: 90 * time.Second},
			status: http.StatusConflict,
			code:   CodeAlreadyClaimed,
			check: func(t *testing.T, got error) {
				var e *task.AlreadyClaimedError
				require.ErrorAs(t, got, &e)
				assert.Equal(t, "w1", e.Holder)
				assert.Equal(t, 90*time.Second, e.Age)
			},
		},
		{
			name:   "dependencies",
			err:    fmt.Errorf("claim: %w", &task.DependencyNotSatisfiedError{TaskID: "b", Pending: []string{"a"}}),
			status: http.StatusPreconditionFailed,
			code:   CodeDependencyNotSatisfied,
			check: func(t *testing.T, got error) {
				var e *task.DependencyNotSatisfiedError
				require.ErrorAs(t, got, &e)
				assert.Equal(t, []string{"a"}, e.Pending)
			},
		},
		{
			name:   "invalid transition",
			err:    &task.InvalidTransitionError{TaskID: "a", From: task.StatusDone, To: task.StatusBlocked},
			status: http.StatusConflict,
			code:   CodeInvalidTransition,
			check: func(t *testing.T, got error) {
				var e *task.InvalidTransitionError
				require.ErrorAs(t, got, &e)
				assert.Equal(t, task.StatusDone, e.From)
			},
		},
		{
			name:   "not owner",
			err:    fmt.Errorf("heartbeat: %w", task.ErrNotOwner),
			status: http.StatusForbidden,
			code:   CodeNotOwner,
			check:  func(t *testing.T, got error) { assert.ErrorIs(t, got, task.ErrNotOwner) },
		},
		{
			name:   "message not found",
			err:    messaging.ErrNotFound,
			status: http.StatusNotFound,
			code:   CodeNotFound,
			check: func(t *testing.T, got error) {
				assert.ErrorIs(t, got, messaging.ErrNotFound)
				assert.NotErrorIs(t, got, task.ErrNotFound)
			},
		},
		{
			name:   "none available",
			err:    task.ErrNoneAvailable,
			status: http.StatusNotFound,
			code:   CodeNoneAvailable,
			check:  func(t *testing.T, got error) { assert.ErrorIs(t, got, task.ErrNoneAvailable) },
		},
		{
			name:   "corrupt record",
			err:    fmt.Errorf("get task: %w", &task.CorruptRecordError{TaskID: "c", Err: errors.New("unknown status \"later\"")}),
			status: http.StatusInternalServerError,
			code:   CodeCorruptRecord,
			check: func(t *testing.T, got error) {
				var e *task.CorruptRecordError
				require.ErrorAs(t, got, &e)
				assert.Equal(t, "c", e.TaskID)
				assert.Equal(t, `task c: corrupt record: unknown status "later"`, e.Error())
			},
		},
		{
			name:   "unknown",
			err:    errors.New("disk on fire"),
			status: http.StatusInternalServerError,
			code:   CodeInternal,
			check: func(t *testing.T, got error) {
				var remote *RemoteError
				require.ErrorAs(t, got, &remote)
				assert.Equal(t, "internal error", remote.Error())
				assert.NoError(t, remote.Unwrap())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := FromError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			tt.check(t, body.Err(status))
		})
	}
}

func TestFromError_FieldErrors(t *testing.T) {
	err := task.Task{}.Validate()
	require.Error(t, err)

	status, body := FromError(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeInvalid, body.Code)
	require.NotEmpty(t, body.Fields)
	assert.Equal(t, "title", body.Fields[0].Field)
}

func TestError_ErrFallsBackOnCode(t *testing.T) {
	err := Error{Code: CodeNotFound, Message: "gone"}.Err(http.StatusNotFound)
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.Equal(t, "gone", err.Error())
}
