package booking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "slot_conflict", Kind(fmt.Errorf("%w: slot 4", ErrSlotConflict)))
	assert.Equal(t, "draft_expired_or_missing", Kind(ErrDraftExpiredOrMissing))
	assert.Equal(t, "signature_verification_failed", Kind(ErrSignatureVerificationFailed))
	assert.Equal(t, "internal", Kind(errors.New("connection reset")))
	assert.Equal(t, "internal", Kind(nil))
}

func TestIsBusiness(t *testing.T) {
	assert.True(t, IsBusiness(fmt.Errorf("wrap: %w", ErrCancellationNotAllowed)))
	assert.False(t, IsBusiness(errors.New("timeout")))
	assert.False(t, IsBusiness(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrSlotConflict))
	assert.False(t, Retryable(ErrInvalidSlot))
}
