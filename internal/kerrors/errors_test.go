package kerrors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionNotFound(t *testing.T) {
	err := NewSessionNotFound("sess-123")

	assert.Equal(t, CodeSessionNotFound, err.Code())
	assert.True(t, err.Recoverable())
	assert.Equal(t, "sess-123", err.Context()["session_id"])
	assert.Contains(t, err.Error(), "sess-123")
	assert.Equal(t, 404, HTTPStatus(err.Code()))
}

func TestDataConsistencyErrorNotRecoverable(t *testing.T) {
	err := NewDataConsistencyError("PTRN|abc", "index_without_body", true, false)

	require.False(t, err.Recoverable())
	assert.Equal(t, CodeDataConsistencyError, err.Code())
	assert.Equal(t, 500, HTTPStatus(err.Code()))
}

func TestToWireShape(t *testing.T) {
	err := NewValidationError("emotives.value", "not-a-number", "must be numeric")
	envelope := ToWire("ValidationError", err)

	assert.Equal(t, "ValidationError", envelope.Error.Type)
	assert.Equal(t, CodeValidationError, envelope.Error.Code)
	assert.True(t, envelope.Error.Recoverable)
	assert.False(t, envelope.Error.Timestamp.IsZero())
	assert.Equal(t, "emotives.value", envelope.Error.Context["field_name"])
}

func TestResourceExhaustedUtilization(t *testing.T) {
	err := NewResourceExhausted("session_table", 950, 1000)
	assert.InDelta(t, 0.95, err.Context()["utilization"], 0.0001)
}

func TestCircuitBreakerOpenRecoverable(t *testing.T) {
	err := NewCircuitBreakerOpen("pattern_index", 5, 3)
	assert.True(t, err.Recoverable())
	assert.Equal(t, 5, err.FailureCount)
}
