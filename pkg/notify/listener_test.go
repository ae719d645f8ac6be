package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewListener(t *testing.T) {
	l := NewListener("host=localhost dbname=test")

	assert.NotNil(t, l)
	assert.Equal(t, "host=localhost dbname=test", l.connString)
	assert.NotNil(t, l.channels)
	assert.NotNil(t, l.subs)
}

func TestListener_SubscribeWithoutConnection(t *testing.T) {
	l := NewListener("host=localhost dbname=test")

	wake, err := l.Subscribe(t.Context(), ChannelTaskReady)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not established")
	assert.Nil(t, wake)
}

func TestListener_WakeCoalescesAndDoesNotBlock(t *testing.T) {
	l := NewListener("host=localhost dbname=test")

	ch1 := make(chan struct{}, 1)
	ch2 := make(chan struct{}, 1)
	l.subs[ChannelTaskReady] = []chan struct{}{ch1, ch2}

	// Fire twice in a row; the second wake must not block even though
	// nothing has drained the channel yet.
	l.wake(ChannelTaskReady)
	l.wake(ChannelTaskReady)

	select {
	case <-ch1:
	default:
		t.Fatal("expected ch1 to receive a wake-up")
	}
	select {
	case <-ch2:
	default:
		t.Fatal("expected ch2 to receive a wake-up")
	}
}

func TestListener_WakeIgnoresUnknownChannel(t *testing.T) {
	l := NewListener("host=localhost dbname=test")
	// Must not panic when no one has subscribed.
	l.wake("nobody_is_listening")
}
