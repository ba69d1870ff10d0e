package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormatsContext(t *testing.T) {
	base := fmt.Errorf("boom")
	err := Wrap(base, "Store", "CreateNode", "persist flow")
	require.Error(t, err)
	assert.Equal(t, "Store.CreateNode: persist flow failed: boom", err.Error())
	assert.True(t, Is(err, base))

	assert.Nil(t, Wrap(nil, "Store", "CreateNode", "persist flow"))
}

func TestClassificationPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"structural via wrap", WrapStructural(ErrEntryNodeExists, "Store", "CreateNode", "entry check"), IsStructural},
		{"structural via sentinel", fmt.Errorf("save: %w", ErrHubLabelTaken), IsStructural},
		{"schema via wrap", WrapSchema(ErrUnknownNodeKind, "Registry", "Decode", "kind lookup"), IsSchema},
		{"lock required", WrapLockRequired(ErrLockRequired, "Hub", "UpdateNodePayload", "lease check"), IsLockRequired},
		{"lock conflict", WrapLockConflict(ErrLockConflict, "Room", "acquire", "lease check"), IsLockConflict},
		{"not found via sentinel", fmt.Errorf("lookup: %w", ErrNodeNotFound), IsNotFound},
		{"transient via version conflict", fmt.Errorf("put: %w", ErrVersionConflict), IsTransient},
		{"transient via deadline", context.DeadlineExceeded, IsTransient},
		{"invalid", WrapInvalid(ErrInvalidConfig, "Config", "Validate", "driver check"), IsInvalid},
		{"fatal", WrapFatal(fmt.Errorf("corrupt"), "Store", "Load", "decode"), IsFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestClassTakesPrecedenceOverSentinel(t *testing.T) {
	// Once classified, the class wins even when the chain carries a sentinel
	// of another family
	err := WrapNotFound(ErrVersionConflict, "Backend", "Get", "lookup")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"structural", WrapStructural(ErrFlowTreeCycle, "Store", "MoveFlow", "cycle check"), ErrorStructural},
		{"schema", fmt.Errorf("decode: %w", ErrPayloadSchemaViolation), ErrorSchema},
		{"lock required", fmt.Errorf("save: %w", ErrLockRequired), ErrorLockRequired},
		{"lock conflict", fmt.Errorf("acquire: %w", ErrLockConflict), ErrorLockConflict},
		{"not found", fmt.Errorf("get: %w", ErrFlowNotFound), ErrorNotFound},
		{"invalid", fmt.Errorf("config: %w", ErrMissingConfig), ErrorInvalid},
		{"unknown defaults to transient", fmt.Errorf("mystery"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassStrings(t *testing.T) {
	assert.Equal(t, "structural_violation", ErrorStructural.String())
	assert.Equal(t, "payload_schema_violation", ErrorSchema.String())
	assert.Equal(t, "lock_required", ErrorLockRequired.String())
	assert.Equal(t, "lock_conflict", ErrorLockConflict.String())
	assert.Equal(t, "not_found", ErrorNotFound.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestUnwrapChain(t *testing.T) {
	base := fmt.Errorf("disk full")
	err := WrapTransient(base, "Backend", "Put", "write document")

	var ce *ClassifiedError
	require.True(t, As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Backend", ce.Component)
	assert.True(t, Is(err, base))
}

func TestShouldRetry(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.ShouldRetry(ErrVersionConflict, 0))
	assert.False(t, cfg.ShouldRetry(ErrVersionConflict, cfg.MaxRetries))
	assert.False(t, cfg.ShouldRetry(ErrFlowNotFound, 0))
	assert.False(t, cfg.ShouldRetry(nil, 0))
}
