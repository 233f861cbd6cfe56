package ratelimit

import "testing"

func TestNewClampsRateAndBurst(t *testing.T) {
	l := New("localhost:6379", 0, 0, nil)
	if l.rule.Limit != 1 {
		t.Errorf("expected burst to clamp to 1, got %v", l.rule.Limit)
	}
}

func TestNewKeepsBurstAboveRate(t *testing.T) {
	l := New("localhost:6379", 50, 10, nil)
	if l.rule.Limit != 50 {
		t.Errorf("expected burst to be raised to at least rps (50), got %v", l.rule.Limit)
	}
}

func TestFormatHeadersRendersLimitFields(t *testing.T) {
	r := Result{Allowed: true, Limit: 100, Remaining: 42}
	headers := r.FormatHeaders()
	if headers["X-RateLimit-Limit"] != "100" {
		t.Errorf("expected limit header 100, got %s", headers["X-RateLimit-Limit"])
	}
	if headers["X-RateLimit-Remaining"] != "42" {
		t.Errorf("expected remaining header 42, got %s", headers["X-RateLimit-Remaining"])
	}
}
