// Package policy holds the membership rules applied before a thread's
// member list is changed.
package policy

import "errors"

var ErrSelfRemoval = errors.New("members cannot remove themselves")

// CanRemoveMember reports whether actor may remove target from a thread
// both belong to. Any member may remove any other member; removing
// oneself is rejected, so a thread always keeps at least one member.
func CanRemoveMember(actor, target string) error {
	if actor == target {
		return ErrSelfRemoval
	}
	return nil
}
