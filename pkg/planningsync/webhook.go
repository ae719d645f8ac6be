package planningsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidSignature indicates the webhook's HMAC signature did not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature validates an inbound planning-store webhook's HMAC-SHA256
// signature against secret using a constant-time comparison - never a
// plain equality operator, which would leak timing information. sig is
// the hex-encoded digest carried in the request header.
func VerifySignature(secret string, body []byte, sig string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(expected, got) {
		return ErrInvalidSignature
	}
	return nil
}

// PlanEvent is the planning-store webhook's event payload: enough to call
// enqueue without the ingest handler doing any stage work.
type PlanEvent struct {
	ChannelKey     string `json:"channel_key"`
	PlanningPageID string `json:"planning_page_id"`
	Title          string `json:"title"`
	Topic          string `json:"topic"`
	StoryDirection string `json:"story_direction"`
	Priority       string `json:"priority"`
}

// Validate reports whether the event carries the fields enqueue requires.
func (e *PlanEvent) Validate() error {
	if e.ChannelKey == "" {
		return fmt.Errorf("plan event missing channel_key")
	}
	if e.PlanningPageID == "" {
		return fmt.Errorf("plan event missing planning_page_id")
	}
	return nil
}
