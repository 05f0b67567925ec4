package roster

import (
	"errors"
	"time"
)

// ActionKind identifies what a request proposes to do with a service number.
type ActionKind string

const (
	KindAssign      ActionKind = "assign"       // give a member a number
	KindUnassign    ActionKind = "unassign"     // take a member's number away
	KindReassign    ActionKind = "reassign"     // change a member's number
	KindSelfRequest ActionKind = "self_request" // member requests a number for themselves
	KindManual      ActionKind = "manual"       // amendment record, never goes through the decision workflow
)

// Status is the decision state of a request. Pending transitions exactly once
// to Accepted or Rejected. Manual records are terminal from creation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusManual   Status = "manual"
)

// Terminal reports whether the status admits no further decision.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusManual
}

// Request is one entry in the tenant's append-only request log. Once written,
// only Status (at decision time), DecidedBy/DecidedAt and LinkedRequestID are
// ever mutated; entries are never deleted.
type Request struct {
	ID          string     `json:"id"`
	Kind        ActionKind `json:"kind"`
	RequesterID string     `json:"requester_id"`
	TargetID    string     `json:"target_id,omitempty"`
	Number      string     `json:"number,omitempty"`
	PrevNumber  string     `json:"prev_number,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	// LinkedRequestID links an amended request and its superseding manual
	// record in both directions.
	LinkedRequestID string `json:"linked_request_id,omitempty"`
	Note            string `json:"note,omitempty"`
	// MessageRef is the notifier's handle for the posted decision request.
	MessageRef string `json:"message_ref,omitempty"`
}

// Subject returns the member the request affects: the explicit target, or the
// requester for self-service requests.
func (r Request) Subject() string {
	if r.TargetID != "" {
		return r.TargetID
	}
	return r.RequesterID
}

// Config carries per-tenant authorization and routing data.
type Config struct {
	// DeciderRoles may decide requests and propose changes for others.
	DeciderRoles []string `json:"decider_roles"`
	// StaffRoles may request a number for themselves.
	StaffRoles []string `json:"staff_roles"`
	// WebhookURL, when set, is where decision requests are posted.
	WebhookURL string `json:"webhook_url,omitempty"`
}

var (
	ErrNumberUnavailable = errors.New("roster: number already assigned or reserved")
	ErrNoCurrentNumber   = errors.New("roster: member has no service number")
	ErrSameNumber        = errors.New("roster: new number equals the current one")
	ErrAlreadyDecided    = errors.New("roster: request already decided")
	ErrStillPending      = errors.New("roster: request still pending")
	ErrNotFound          = errors.New("roster: not found")
	ErrInvalidInput      = errors.New("roster: invalid input")
	ErrStorage           = errors.New("roster: storage unavailable")
)
