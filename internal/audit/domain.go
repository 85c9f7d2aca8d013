package audit

import (
	"errors"
	"time"
)

// ErrInvalidEntry indicates an entry missing required fields.
var ErrInvalidEntry = errors.New("audit: entry requires actor and action")

// Action enumerates the mutations the authorization engine records.
type Action string

const (
	ActionRoleCreated       Action = "ROLE_CREATED"
	ActionRoleUpdated       Action = "ROLE_UPDATED"
	ActionRoleDeleted       Action = "ROLE_DELETED"
	ActionRoleAssigned      Action = "ROLE_ASSIGNED"
	ActionRoleRemoved       Action = "ROLE_REMOVED"
	ActionPermissionGranted Action = "PERMISSION_GRANTED"
	ActionPermissionRevoked Action = "PERMISSION_REVOKED"
)

// Valid reports whether a is a recognised action.
func (a Action) Valid() bool {
	switch a {
	case ActionRoleCreated, ActionRoleUpdated, ActionRoleDeleted,
		ActionRoleAssigned, ActionRoleRemoved,
		ActionPermissionGranted, ActionPermissionRevoked:
		return true
	}
	return false
}

// Entry is one append-only audit record. Entries are written exactly once,
// inside the transaction of the mutation they describe, and never updated
// or deleted afterwards.
type Entry struct {
	ID                int64
	TenantID          int64
	ActorID           int64
	Action            Action
	TargetPrincipalID int64 // zero when the mutation has no principal target
	TargetRoleID      int64 // zero when the mutation has no role target
	Permission        string
	OccurredAt        time.Time
}

// Validate checks the required fields.
func (e Entry) Validate() error {
	if e.ActorID == 0 || !e.Action.Valid() {
		return ErrInvalidEntry
	}
	return nil
}

// Filters narrows audit queries.
type Filters struct {
	ActorID  int64
	Action   Action
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// PagingInfo describes the result window.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps a page of entries with paging metadata.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}
