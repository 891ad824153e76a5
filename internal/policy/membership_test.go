package policy

import (
	"errors"
	"testing"
)

func TestCanRemoveMember(t *testing.T) {
	if err := CanRemoveMember("alice", "bob"); err != nil {
		t.Fatalf("removing another member should be allowed, got %v", err)
	}
	if err := CanRemoveMember("alice", "alice"); !errors.Is(err, ErrSelfRemoval) {
		t.Fatalf("self removal should be rejected, got %v", err)
	}
}
