package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsExpired(t *testing.T) {
	deadline := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	c := &OtpChallenge{ExpiresAt: deadline}

	assert.False(t, c.IsExpired(deadline.Add(-time.Second)))
	assert.False(t, c.IsExpired(deadline)) // valid through the deadline itself
	assert.True(t, c.IsExpired(deadline.Add(time.Second)))
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]string{
		{StatusPending, StatusSent},
		{StatusPending, StatusCancelled},
		{StatusSent, StatusVerified},
		{StatusSent, StatusExpired},
		{StatusSent, StatusFailed},
		{StatusSent, StatusCancelled},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]string{
		{StatusPending, StatusVerified}, // must pass through sent
		{StatusVerified, StatusSent},
		{StatusVerified, StatusExpired},
		{StatusFailed, StatusSent},
		{StatusExpired, StatusVerified},
		{StatusCancelled, StatusSent},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusVerified, StatusExpired, StatusFailed, StatusCancelled} {
		assert.True(t, IsTerminal(s), s)
	}
	for _, s := range []string{StatusPending, StatusSent} {
		assert.False(t, IsTerminal(s), s)
	}
}
