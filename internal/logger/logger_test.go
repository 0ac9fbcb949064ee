package logger

import "testing"

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestSetIgnoresNil(t *testing.T) {
	prev := L
	Set(nil)
	if L != prev {
		t.Fatal("Set(nil) replaced the logger")
	}
}
