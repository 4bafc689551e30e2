package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := NewLimiter(3, time.Minute)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("user-1") {
			t.Fatalf("request %d rejected within limit", i)
		}
	}
	if l.Allow("user-1") {
		t.Error("request over limit allowed")
	}
}

func TestAllowIsolatesKeys(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	defer l.Stop()

	if !l.Allow("user-1") {
		t.Fatal("first request rejected")
	}
	if !l.Allow("user-2") {
		t.Error("different key shares a window")
	}
}

func TestAllowEmptyKeyNeverLimited(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	defer l.Stop()

	for i := 0; i < 10; i++ {
		if !l.Allow("") {
			t.Fatal("empty key was limited")
		}
	}
}

func TestWindowSlides(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)
	defer l.Stop()

	if !l.Allow("user-1") {
		t.Fatal("first request rejected")
	}
	if l.Allow("user-1") {
		t.Fatal("second request inside window allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("user-1") {
		t.Error("request after window expiry rejected")
	}
}

func TestAllowStrictSeparateKeySpace(t *testing.T) {
	l := NewLimiter(100, time.Minute)
	defer l.Stop()

	if !l.AllowStrict("1.2.3.4", 1, time.Minute) {
		t.Fatal("first strict request rejected")
	}
	if l.AllowStrict("1.2.3.4", 1, time.Minute) {
		t.Error("strict limit not enforced")
	}
	// The regular window is untouched.
	if !l.Allow("1.2.3.4") {
		t.Error("regular window affected by strict key")
	}
}
