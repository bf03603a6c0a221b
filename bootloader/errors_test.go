package bootloader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreError(t *testing.T) {
	cause := errors.New("flash worn out")
	err := &StoreError{Op: "write", Key: "UPDATE_ATTEMPTS", Err: cause}

	assert.Equal(t, "write UPDATE_ATTEMPTS: flash worn out", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestBudgetError(t *testing.T) {
	err := &BudgetError{Attempts: 10, Max: 10}
	assert.Equal(t, "image failed 10 of 10 update attempts", err.Error())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateSearching, "searching"},
		{StateProgramming, "programming"},
		{StateRetry, "retry"},
		{State(42), "state(42)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
