// Package errors provides standardized error handling patterns for Fabula components.
// It includes error classification, standard error variables, and helper functions
// for consistent error wrapping and classification across the platform.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360/fabula/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorStructural represents violations of graph structure invariants
	// (entry node uniqueness, hub/jump resolution, cross-flow connections)
	ErrorStructural
	// ErrorSchema represents node payloads that fail their type's schema
	ErrorSchema
	// ErrorLockRequired represents writes attempted without holding the node lease
	ErrorLockRequired
	// ErrorLockConflict represents lease acquisition while another session holds it
	ErrorLockConflict
	// ErrorNotFound represents lookups for records that do not exist
	ErrorNotFound
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorStructural:
		return "structural_violation"
	case ErrorSchema:
		return "payload_schema_violation"
	case ErrorLockRequired:
		return "lock_required"
	case ErrorLockConflict:
		return "lock_conflict"
	case ErrorNotFound:
		return "not_found"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Graph structure errors
	ErrStructuralViolation = errors.New("graph structure invariant violated")
	ErrEntryNodeExists     = errors.New("flow already has an entry node")
	ErrEntryNodeRequired   = errors.New("flow must keep its entry node")
	ErrHubLabelTaken       = errors.New("hub label already used in flow")
	ErrHubNotFound         = errors.New("jump target hub not found in flow")
	ErrCrossFlowConnection = errors.New("connection endpoints belong to different flows")
	ErrFlowTreeCycle       = errors.New("flow move would create a tree cycle")

	// Payload schema errors
	ErrPayloadSchemaViolation = errors.New("node payload does not match type schema")
	ErrUnknownNodeKind        = errors.New("unknown node kind")

	// Collaborative editing errors
	ErrLockRequired  = errors.New("node lease required for this operation")
	ErrLockConflict  = errors.New("node is locked by another session")
	ErrSessionClosed = errors.New("session is closed")

	// Record lookup errors
	ErrFlowNotFound       = errors.New("flow not found")
	ErrNodeNotFound       = errors.New("node not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrVariableNotFound   = errors.New("variable not found in catalog")

	// Storage errors
	ErrRecordExists       = errors.New("record already exists")
	ErrVersionConflict    = errors.New("record was modified concurrently")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Connection and networking errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
)

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need not import both error packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// Re-exported so callers need not import both error packages.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf extracts the class from a classified error, or reports absence
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsStructural checks if an error is a graph structure invariant violation
func IsStructural(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorStructural
	}
	return errors.Is(err, ErrStructuralViolation) ||
		errors.Is(err, ErrEntryNodeExists) ||
		errors.Is(err, ErrEntryNodeRequired) ||
		errors.Is(err, ErrHubLabelTaken) ||
		errors.Is(err, ErrHubNotFound) ||
		errors.Is(err, ErrCrossFlowConnection) ||
		errors.Is(err, ErrFlowTreeCycle)
}

// IsSchema checks if an error is a payload schema violation
func IsSchema(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorSchema
	}
	return errors.Is(err, ErrPayloadSchemaViolation) || errors.Is(err, ErrUnknownNodeKind)
}

// IsLockRequired checks if an error is a missing-lease rejection
func IsLockRequired(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorLockRequired
	}
	return errors.Is(err, ErrLockRequired)
}

// IsLockConflict checks if an error is a lease held by another session.
// Lock conflicts are expected during normal collaboration and are surfaced
// to the UI rather than treated as failures.
func IsLockConflict(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorLockConflict
	}
	return errors.Is(err, ErrLockConflict)
}

// IsNotFound checks if an error is a missing-record lookup
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorNotFound
	}
	return errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrConnectionNotFound) ||
		errors.Is(err, ErrVariableNotFound)
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}
	return errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}
	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if class, ok := classOf(err); ok {
		return class
	}
	switch {
	case IsStructural(err):
		return ErrorStructural
	case IsSchema(err):
		return ErrorSchema
	case IsLockRequired(err):
		return ErrorLockRequired
	case IsLockConflict(err):
		return ErrorLockConflict
	case IsNotFound(err):
		return ErrorNotFound
	case IsInvalid(err):
		return ErrorInvalid
	case IsFatal(err):
		return ErrorFatal
	default:
		// Default to transient for unknown errors to allow retry
		return ErrorTransient
	}
}

// newClassified creates a new classified error
// This is an internal helper - use the Wrap* functions instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// wrapClass wraps an error with the given class and context
func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(class, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClass(ErrorTransient, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

// WrapStructural wraps an error as a graph structure violation with context
func WrapStructural(err error, component, method, action string) error {
	return wrapClass(ErrorStructural, err, component, method, action)
}

// WrapSchema wraps an error as a payload schema violation with context
func WrapSchema(err error, component, method, action string) error {
	return wrapClass(ErrorSchema, err, component, method, action)
}

// WrapLockRequired wraps an error as a missing-lease rejection with context
func WrapLockRequired(err error, component, method, action string) error {
	return wrapClass(ErrorLockRequired, err, component, method, action)
}

// WrapLockConflict wraps an error as a held-lease conflict with context
func WrapLockConflict(err error, component, method, action string) error {
	return wrapClass(ErrorLockConflict, err, component, method, action)
}

// WrapNotFound wraps an error as a missing-record lookup with context
func WrapNotFound(err error, component, method, action string) error {
	return wrapClass(ErrorNotFound, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// ToRetryConfig converts to the retry framework's Config type so callers can
// use retry.Do with classification-aware settings. MaxRetries counts
// additional attempts, the framework counts total attempts, hence the +1.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
