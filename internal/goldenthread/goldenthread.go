// Package goldenthread implements the accountability linkage from a
// governed event back to an authorized work item (Linked) or an explicit
// orphan declaration (Orphan).
package goldenthread

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Status values for a Linked Golden Thread.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusUnknown   = "unknown"
)

const minRemediationNoteLen = 10

var (
	// ErrOrphanNoteTooShort is returned when an orphan's remediation note is
	// shorter than the minimum required length.
	ErrOrphanNoteTooShort = errors.New("remediation note too short")
	// ErrMissingFields is returned when a Linked thread is missing required fields.
	ErrMissingFields = errors.New("golden thread missing required fields")
)

// Thread is the tagged variant discriminated by Type: "linked" or "orphan".
// Exactly one of Linked or Orphan is populated, matching Type.
type Thread struct {
	Type   string  `json:"type"`
	Linked *Linked `json:"linked,omitempty"`
	Orphan *Orphan `json:"orphan,omitempty"`
}

// Linked ties an event to an approved business authorization.
type Linked struct {
	System     string     `json:"system"`
	Ref        string     `json:"ref"`
	URL        string     `json:"url,omitempty"`
	Status     string     `json:"status"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	ApprovedAt time.Time  `json:"approvedAt"`
	ApprovedBy string     `json:"approvedBy"`
	TicketID   string     `json:"ticketId"`
}

// Orphan declares that an event has no active authorization link, with a
// remediation plan.
type Orphan struct {
	Reason               string    `json:"reason"`
	DeclaredBy           string    `json:"declaredBy"`
	DeclaredAt           time.Time `json:"declaredAt"`
	RemediationDeadline  time.Time `json:"remediationDeadline"`
	RemediationNote      string    `json:"remediationNote"`
}

const (
	typeLinked = "linked"
	typeOrphan = "orphan"
)

// Validate checks the tagged-variant invariants: a Linked thread has its
// required fields, an Orphan thread's remediation note is long enough.
func (t Thread) Validate() error {
	switch t.Type {
	case typeLinked:
		if t.Linked == nil || t.Linked.System == "" || t.Linked.Ref == "" {
			return ErrMissingFields
		}

		return nil
	case typeOrphan:
		if t.Orphan == nil {
			return ErrMissingFields
		}

		if len(t.Orphan.RemediationNote) < minRemediationNoteLen {
			return fmt.Errorf("%w: got %d chars, need >= %d",
				ErrOrphanNoteTooShort, len(t.Orphan.RemediationNote), minRemediationNoteLen)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMissingFields, t.Type)
	}
}

// CanonicalString builds the canonical pipe-delimited string for a Linked
// thread's approval components, with pairs already sorted alphabetically by
// key: "approved_at=...|approved_by=...|ticket_id=...".
func CanonicalString(approvedAt time.Time, approvedBy, ticketID string) string {
	return "approved_at=" + isoUTCZ(approvedAt) + "|approved_by=" + approvedBy + "|ticket_id=" + ticketID
}

// Hash computes "sha256:" + lowercase_hex(SHA256(canonical)).
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))

	return "sha256:" + hex.EncodeToString(sum[:])
}

// isoUTCZ normalizes a timestamp to UTC with sub-second fractions stripped,
// rendered with a literal "Z" suffix.
func isoUTCZ(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}
