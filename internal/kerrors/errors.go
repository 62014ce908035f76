// Package kerrors is KATO's structured error taxonomy. Every error the
// engine surfaces across an API boundary implements Error, carrying a
// stable wire code, free-form context, a recoverability flag, and the
// time it was raised.
package kerrors

import (
	"fmt"
	"time"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	CodePatternNotFound      Code = "PATTERN_NOT_FOUND"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeSessionLimitExceeded Code = "SESSION_LIMIT_EXCEEDED"
	CodeValidationError      Code = "VALIDATION_ERROR"
	CodeInvalidVectorDim     Code = "INVALID_VECTOR_DIM"
	CodeStorageUnavailable   Code = "STORAGE_UNAVAILABLE"
	CodeCircuitBreakerOpen   Code = "CIRCUIT_BREAKER_OPEN"
	CodeDataConsistencyError Code = "DATA_CONSISTENCY_ERROR"
	CodeConfigurationError   Code = "CONFIGURATION_ERROR"
	CodeTimeout              Code = "TIMEOUT_ERROR"
	CodeInternal             Code = "INTERNAL_ERROR"
	CodeConcurrencyError     Code = "CONCURRENCY_ERROR"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeResourceExhausted    Code = "RESOURCE_EXHAUSTED"
)

// httpStatus maps each code to the HTTP status spec.md §7 names.
var httpStatus = map[Code]int{
	CodePatternNotFound:      404,
	CodeSessionNotFound:      404,
	CodeSessionExpired:       404,
	CodeSessionLimitExceeded: 429,
	CodeValidationError:      400,
	CodeInvalidVectorDim:     422,
	CodeStorageUnavailable:   503,
	CodeCircuitBreakerOpen:   503,
	CodeDataConsistencyError: 500,
	CodeConfigurationError:   500,
	CodeTimeout:              504,
	CodeInternal:             500,
	CodeConcurrencyError:     409,
	CodeRateLimitExceeded:    429,
	CodeResourceExhausted:    429,
}

// HTTPStatus returns the status code spec.md §7 assigns to code, or 500 if
// unknown.
func HTTPStatus(code Code) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return 500
}

// Error is the common interface every KATO error implements.
type Error interface {
	error
	Code() Code
	Context() map[string]any
	Recoverable() bool
	Timestamp() time.Time
}

// base carries the fields common to every KatoError.
type base struct {
	message     string
	code        Code
	context     map[string]any
	recoverable bool
	timestamp   time.Time
}

func newBase(message string, code Code, recoverable bool, context map[string]any) base {
	if context == nil {
		context = map[string]any{}
	}
	return base{
		message:     message,
		code:        code,
		context:     context,
		recoverable: recoverable,
		timestamp:   time.Now(),
	}
}

func (b base) Error() string           { return b.message }
func (b base) Code() Code              { return b.code }
func (b base) Context() map[string]any { return b.context }
func (b base) Recoverable() bool       { return b.recoverable }
func (b base) Timestamp() time.Time    { return b.timestamp }

// WireError is the JSON shape spec.md §7 requires:
// { error: { type, message, code, context, recoverable, timestamp } }.
type WireError struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Code        Code           `json:"code"`
	Context     map[string]any `json:"context"`
	Recoverable bool           `json:"recoverable"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Envelope wraps a WireError under the top-level "error" key.
type Envelope struct {
	Error WireError `json:"error"`
}

// ToWire converts any KATO error into its wire envelope. typ is the
// exception class name the original taxonomy used (e.g.
// "SessionNotFoundError"); callers that only have a generic kerrors.Error
// should pass the Go type name instead.
func ToWire(typ string, e Error) Envelope {
	return Envelope{Error: WireError{
		Type:        typ,
		Message:     e.Error(),
		Code:        e.Code(),
		Context:     e.Context(),
		Recoverable: e.Recoverable(),
		Timestamp:   e.Timestamp(),
	}}
}

// SessionNotFound is raised when a session id is unknown or already
// deleted.
type SessionNotFound struct {
	base
	SessionID string
}

func NewSessionNotFound(sessionID string) *SessionNotFound {
	return &SessionNotFound{
		base: newBase(
			fmt.Sprintf("session %q not found or has expired", sessionID),
			CodeSessionNotFound, true,
			map[string]any{"session_id": sessionID},
		),
		SessionID: sessionID,
	}
}

// PatternNotFound is raised when a named pattern does not exist in the
// given knowledge base.
type PatternNotFound struct {
	base
	KBID, Name string
}

func NewPatternNotFound(kbID, name string) *PatternNotFound {
	return &PatternNotFound{
		base: newBase(
			fmt.Sprintf("pattern %q not found in kb %q", name, kbID),
			CodePatternNotFound, false,
			map[string]any{"kb_id": kbID, "name": name},
		),
		KBID: kbID,
		Name: name,
	}
}

// SessionExpired is raised when a session's TTL has elapsed.
type SessionExpired struct {
	base
	SessionID string
	ExpiredAt time.Time
}

func NewSessionExpired(sessionID string, expiredAt time.Time) *SessionExpired {
	return &SessionExpired{
		base: newBase(
			fmt.Sprintf("session %q has expired", sessionID),
			CodeSessionExpired, true,
			map[string]any{"session_id": sessionID, "expired_at": expiredAt},
		),
		SessionID: sessionID,
		ExpiredAt: expiredAt,
	}
}

// SessionLimitExceeded is raised when the process-wide session ceiling is
// reached.
type SessionLimitExceeded struct {
	base
	Current, Limit int
}

func NewSessionLimitExceeded(current, limit int) *SessionLimitExceeded {
	return &SessionLimitExceeded{
		base: newBase(
			fmt.Sprintf("session limit exceeded: %d > %d", current, limit),
			CodeSessionLimitExceeded, true,
			map[string]any{"current_value": current, "limit_value": limit},
		),
		Current: current,
		Limit:   limit,
	}
}

// ConcurrencyError is raised when concurrent operations conflict on the
// same resource.
type ConcurrencyError struct {
	base
	ResourceID, Operation string
}

func NewConcurrencyError(resourceID, operation string) *ConcurrencyError {
	return &ConcurrencyError{
		base: newBase(
			fmt.Sprintf("concurrent access conflict for %s during %s", resourceID, operation),
			CodeConcurrencyError, true,
			map[string]any{"resource_id": resourceID, "operation": operation},
		),
		ResourceID: resourceID,
		Operation:  operation,
	}
}

// DataConsistencyError is raised when a storage tier invariant is
// violated, e.g. an index row with no matching body. Not recoverable by
// the caller; left for the repair task.
type DataConsistencyError struct {
	base
	ResourceID, ConsistencyType string
}

func NewDataConsistencyError(resourceID, consistencyType string, expected, actual any) *DataConsistencyError {
	return &DataConsistencyError{
		base: newBase(
			fmt.Sprintf("data consistency violation for %s: %s", resourceID, consistencyType),
			CodeDataConsistencyError, false,
			map[string]any{
				"resource_id":      resourceID,
				"consistency_type": consistencyType,
				"expected_value":   expected,
				"actual_value":     actual,
			},
		),
		ResourceID:       resourceID,
		ConsistencyType:  consistencyType,
	}
}

// StorageUnavailable is raised when a storage-tier connection fails.
type StorageUnavailable struct {
	base
	StorageType, Operation string
}

func NewStorageUnavailable(storageType, operation string, cause error) *StorageUnavailable {
	ctx := map[string]any{"storage_type": storageType, "operation": operation}
	if cause != nil {
		ctx["cause"] = cause.Error()
	}
	return &StorageUnavailable{
		base: newBase(
			fmt.Sprintf("storage operation failed: %s on %s", operation, storageType),
			CodeStorageUnavailable, true, ctx,
		),
		StorageType: storageType,
		Operation:   operation,
	}
}

// CircuitBreakerOpen is raised when a storage-tier pool's breaker has
// tripped after too many recent failures.
type CircuitBreakerOpen struct {
	base
	ServiceName               string
	FailureCount, FailureThreshold int
}

func NewCircuitBreakerOpen(serviceName string, failureCount, threshold int) *CircuitBreakerOpen {
	return &CircuitBreakerOpen{
		base: newBase(
			fmt.Sprintf("circuit breaker open for %s (%d/%d failures)", serviceName, failureCount, threshold),
			CodeCircuitBreakerOpen, true,
			map[string]any{
				"service_name":      serviceName,
				"failure_count":     failureCount,
				"failure_threshold": threshold,
			},
		),
		ServiceName:      serviceName,
		FailureCount:     failureCount,
		FailureThreshold: threshold,
	}
}

// RateLimitExceeded is raised when a rate-limited resource is over
// budget.
type RateLimitExceeded struct {
	base
	ResourceType           string
	CurrentRate, RateLimit float64
}

func NewRateLimitExceeded(resourceType string, current, limit float64, windowSeconds int) *RateLimitExceeded {
	return &RateLimitExceeded{
		base: newBase(
			fmt.Sprintf("rate limit exceeded for %s: %.2f/%.2f per %ds", resourceType, current, limit, windowSeconds),
			CodeRateLimitExceeded, true,
			map[string]any{
				"resource_type":  resourceType,
				"current_rate":   current,
				"rate_limit":     limit,
				"window_seconds": windowSeconds,
			},
		),
		ResourceType: resourceType,
		CurrentRate:  current,
		RateLimit:    limit,
	}
}

// ValidationError is raised for malformed input or a bad config value.
type ValidationError struct {
	base
	FieldName, Rule string
}

func NewValidationError(field string, value any, rule string) *ValidationError {
	return &ValidationError{
		base: newBase(
			fmt.Sprintf("validation failed for field %q: %s", field, rule),
			CodeValidationError, true,
			map[string]any{"field_name": field, "field_value": value, "validation_rule": rule},
		),
		FieldName: field,
		Rule:      rule,
	}
}

// InvalidVectorDim is raised when an observation's vector dimensionality
// does not match the session's established dimensionality.
type InvalidVectorDim struct {
	base
	Expected, Got int
}

func NewInvalidVectorDim(expected, got int) *InvalidVectorDim {
	return &InvalidVectorDim{
		base: newBase(
			fmt.Sprintf("vector dimensionality mismatch: expected %d, got %d", expected, got),
			CodeInvalidVectorDim, true,
			map[string]any{"expected_dim": expected, "actual_dim": got},
		),
		Expected: expected,
		Got:      got,
	}
}

// ConfigurationError is raised for an unrecognized config enum value or
// other admin-actionable misconfiguration. Not recoverable by the caller.
type ConfigurationError struct {
	base
	ConfigKey string
}

func NewConfigurationError(key string, value any, expectedType string) *ConfigurationError {
	return &ConfigurationError{
		base: newBase(
			fmt.Sprintf("invalid configuration for %q: %v", key, value),
			CodeConfigurationError, false,
			map[string]any{"config_key": key, "config_value": value, "expected_type": expectedType},
		),
		ConfigKey: key,
	}
}

// ResourceExhausted is raised when a bounded in-process resource (session
// table, connection pool) is at capacity.
type ResourceExhausted struct {
	base
	ResourceType             string
	CurrentUsage, MaxCapacity float64
}

func NewResourceExhausted(resourceType string, current, max float64) *ResourceExhausted {
	util := 1.0
	if max > 0 {
		util = current / max
	}
	return &ResourceExhausted{
		base: newBase(
			fmt.Sprintf("resource exhausted: %s (%.0f/%.0f)", resourceType, current, max),
			CodeResourceExhausted, true,
			map[string]any{
				"resource_type": resourceType,
				"current_usage": current,
				"max_capacity":  max,
				"utilization":   util,
			},
		),
		ResourceType: resourceType,
		CurrentUsage: current,
		MaxCapacity:  max,
	}
}

// Timeout is raised when a storage call exceeds its derived deadline.
type Timeout struct {
	base
	Operation      string
	TimeoutSeconds float64
}

func NewTimeout(operation string, timeoutSeconds, elapsedSeconds float64) *Timeout {
	return &Timeout{
		base: newBase(
			fmt.Sprintf("operation %q timed out after %.2fs", operation, timeoutSeconds),
			CodeTimeout, true,
			map[string]any{
				"operation":       operation,
				"timeout_seconds": timeoutSeconds,
				"elapsed_seconds": elapsedSeconds,
			},
		),
		Operation:      operation,
		TimeoutSeconds: timeoutSeconds,
	}
}

// Internal marks an invariant violation with no recovery path.
type Internal struct {
	base
}

func NewInternal(message string, context map[string]any) *Internal {
	return &Internal{base: newBase(message, CodeInternal, false, context)}
}
