package core

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestAddSafe(t *testing.T) {
	if v, err := AddSafe(10, 5); err != nil || v != 15 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddSafe(math.MaxInt64, 1); err == nil {
		t.Fatalf("expected overflow")
	}
}

func TestAddCounterRejectsNegative(t *testing.T) {
	if v, err := AddCounter(2, -2); err != nil || v != 0 {
		t.Fatalf("got %v %v", v, err)
	}
	if _, err := AddCounter(1, -2); !errors.Is(err, ErrNegativeCounter) {
		t.Fatalf("expected ErrNegativeCounter, got %v", err)
	}
}

func TestNormalizeUserID(t *testing.T) {
	id, err := NormalizeUserID(" 6F1C0A52-8C5B-4E4B-9C0B-2D7E4B1F9A10 ")
	if err != nil || id != "6f1c0a52-8c5b-4e4b-9c0b-2d7e4b1f9a10" {
		t.Fatalf("got %v %v", id, err)
	}
	if _, err := NormalizeUserID("   "); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected empty error")
	}
	if _, err := NormalizeUserID("alice"); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected parse error")
	}
}

func TestNormalizeName(t *testing.T) {
	if n, err := NormalizeName("  Alice "); err != nil || n != "Alice" {
		t.Fatalf("got %q %v", n, err)
	}
	if _, err := NormalizeName(strings.Repeat("x", MaxNameLength+1)); err == nil {
		t.Fatal("expected length error")
	}
	if _, err := NormalizeName("bad\nname"); err == nil {
		t.Fatal("expected charset error")
	}
}

func TestValidateCounter(t *testing.T) {
	if err := ValidateCounter("wins"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := ValidateCounter("Bad Counter"); err == nil {
		t.Fatalf("expected invalid counter err")
	}
}

func TestUserCloneIsDeep(t *testing.T) {
	u := NewUser(NewUserID(), "alice", time.Now())
	u.Counters[CounterWins] = 3
	cp := u.Clone()
	cp.Counters[CounterWins] = 7
	if u.Wins() != 3 {
		t.Fatalf("clone shared counters: %d", u.Wins())
	}
}

func TestResultStatus(t *testing.T) {
	if _, ok := Unavailable[int]().Get(); ok {
		t.Fatal("unavailable must not be present")
	}
	if v, ok := Present(4).Get(); !ok || v != 4 {
		t.Fatalf("got %v %v", v, ok)
	}
	if NotFound[string]().Status.String() != "not_found" {
		t.Fatal("unexpected status string")
	}
}

func TestMatchOutcomeRule(t *testing.T) {
	w, l := NewUserID(), NewUserID()
	out := MatchOutcomeRule{}.Evaluate(context.Background(), NewMatchRecorded(w, l))
	if len(out) != 2 {
		t.Fatalf("expected 2 derived events, got %d", len(out))
	}
	if out[0].UserID != w || out[0].Counter != CounterWins || out[0].Delta != 1 {
		t.Fatalf("unexpected winner event: %+v", out[0])
	}
	if out[1].UserID != l || out[1].Counter != CounterLosses || out[1].Delta != 1 {
		t.Fatalf("unexpected loser event: %+v", out[1])
	}
	if got := (MatchOutcomeRule{}).Evaluate(context.Background(), NewUserCreated(w, "a")); got != nil {
		t.Fatalf("expected no events, got %v", got)
	}
}
