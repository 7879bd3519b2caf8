package handlers

import (
	"testing"
	"time"
)

func TestSubmitLimiterEnforcesWindowBudget(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	limiter := newSubmitLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("s1") || !limiter.Allow("s1") {
		t.Fatal("first two attempts should pass")
	}
	if limiter.Allow("s1") {
		t.Fatal("third attempt inside the window should be rejected")
	}
	if !limiter.Allow("s2") {
		t.Fatal("another session has its own budget")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("s1") {
		t.Fatal("budget should reset after the window elapses")
	}
}

func TestSubmitLimiterSharesBucketForMissingSession(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	limiter := newSubmitLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("") {
		t.Fatal("first anonymous attempt should pass")
	}
	if limiter.Allow("  ") {
		t.Fatal("blank session ids share one bucket")
	}
}

func TestSubmitLimiterDisabledForNonPositiveSettings(t *testing.T) {
	if newSubmitLimiter(0, time.Minute, nil) != nil {
		t.Fatal("zero limit should disable the limiter")
	}
	if newSubmitLimiter(5, 0, nil) != nil {
		t.Fatal("zero window should disable the limiter")
	}
	var disabled *submitLimiter
	if !disabled.Allow("s1") {
		t.Fatal("nil limiter admits everything")
	}
}
