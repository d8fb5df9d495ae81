package api

import (
	"github.com/aigrc/govevents/internal/events"
	"github.com/aigrc/govevents/internal/goldenthread"
)

// verifyGoldenThreadSignature checks an event's optional Golden Thread
// signature against the configured public key when verification is
// enabled. A signature is only meaningful for a linked thread (the
// canonical string it covers is built from the thread's approval fields);
// an orphan thread or an event with no signature always passes.
func (s *Server) verifyGoldenThreadSignature(event *events.GovernanceEvent) error {
	if !s.config.VerifyGoldenThreadSignatures || event.Signature == "" {
		return nil
	}

	linked := event.GoldenThread.Linked
	if event.GoldenThread.Type != "linked" || linked == nil {
		return nil
	}

	canonical := goldenthread.CanonicalString(linked.ApprovedAt, linked.ApprovedBy, linked.TicketID)

	return goldenthread.VerifySignature(event.Signature, canonical, s.config.GoldenThreadPublicKey)
}
