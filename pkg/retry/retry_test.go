package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTemporary struct{ temp bool }

func (f fakeTemporary) Error() string   { return "fake" }
func (f fakeTemporary) Temporary() bool { return f.temp }

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "net error" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return e.timeout }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil error is not transient", nil, false},
		{"deadline exceeded is transient", context.DeadlineExceeded, true},
		{"wrapped deadline exceeded is transient", fmt.Errorf("stage: %w", context.DeadlineExceeded), true},
		{"Temporary(true) error is transient", fakeTemporary{temp: true}, true},
		{"Temporary(false) error is permanent", fakeTemporary{temp: false}, false},
		{"timeout net.Error is transient", fakeNetError{timeout: true}, true},
		{"non-timeout net.Error is permanent", fakeNetError{timeout: false}, false},
		{"unclassified error defaults to permanent", errors.New("bad input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, Classify(tt.err))
		})
	}
}

func TestClassify_NetErrorInterface(t *testing.T) {
	var _ net.Error = fakeNetError{}
}

func TestNextBackoff_GrowsAndCaps(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		d, err := NextBackoff(attempt)
		require.NoError(t, err)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxInterval*time.Second)
		if attempt > 1 {
			// Jitter means this isn't strictly monotonic, but the lower
			// bound of each successive attempt should clear the previous
			// attempt's jittered floor given a 2x multiplier.
			assert.Greater(t, d, prev/2)
		}
		prev = d
	}
}

func TestNextBackoff_RejectsNonPositiveAttempt(t *testing.T) {
	_, err := NextBackoff(0)
	assert.Error(t, err)
}
