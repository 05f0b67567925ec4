package roster

import (
	"context"
	"fmt"

	"signum.org/internal/audit"
	"signum.org/internal/ids"
	"signum.org/internal/obs"
)

// Amendment reconciliation results, recorded on the manual record and in
// metrics. "applied" means the registry was changed, "skipped" means the flip
// could not be replayed safely (a competing claim got there first), "none"
// means the amendment only documents the outcome it confirms.
const (
	reconcileApplied = "applied"
	reconcileSkipped = "skipped"
	reconcileNone    = "none"
)

// Amend supersedes a decided request with a manual record carrying the
// desired outcome. The original's status is never rewritten; both records are
// linked bidirectionally. When the desired outcome flips the original
// decision, the registry is reconciled best effort: a flip that can no longer
// be replayed safely is skipped silently, but the skip is surfaced in the
// manual record's note and in the amendment metrics.
func (s *Service) Amend(ctx context.Context, tenantID, requestID string, outcome Status, actorID, note string) (Request, error) {
	if outcome != StatusAccepted && outcome != StatusRejected {
		return Request{}, fmt.Errorf("%w: outcome must be %q or %q", ErrInvalidInput, StatusAccepted, StatusRejected)
	}
	var out Request
	var result string
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		orig, ok := doc.Requests[requestID]
		if !ok {
			return false, ErrNotFound
		}
		if orig.Status == StatusPending {
			return false, ErrStillPending
		}

		manual := &Request{
			ID:          ids.New(),
			Kind:        KindManual,
			RequesterID: actorID,
			TargetID:    orig.TargetID,
			Number:      orig.Number,
			PrevNumber:  orig.PrevNumber,
			Status:      StatusManual,
			CreatedAt:   s.now(),
		}

		result = reconcileNone
		kind := effectKind(doc, orig)
		switch {
		case orig.Status == StatusRejected && outcome == StatusAccepted:
			result = replayAccept(doc, kind, orig)
			manual.Status = outcome
		case orig.Status == StatusAccepted && outcome == StatusRejected:
			result = reverseAccept(doc, kind, orig)
			manual.Status = outcome
		}

		manual.Note = fmt.Sprintf("supersedes %s: %s -> %s (reconciliation %s)", orig.ID, orig.Status, outcome, result)
		if note != "" {
			manual.Note += "; " + note
		}

		doc.Requests[manual.ID] = manual
		orig.LinkedRequestID = manual.ID
		manual.LinkedRequestID = orig.ID
		out = *manual
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}
	obs.AmendmentRecorded(result)
	_ = audit.LogEvent(ctx, "roster.request.amended", map[string]any{
		"tenant_id":      tenantID,
		"request_id":     requestID,
		"amendment_id":   out.ID,
		"outcome":        string(outcome),
		"reconciliation": result,
	})
	return out, nil
}

// effectKind resolves the registry effect of a request. Manual records carry
// no effect of their own; the effect is that of the request they supersede,
// found by walking the supersession chain backwards.
func effectKind(doc *Document, req *Request) ActionKind {
	seen := map[string]bool{}
	for req.Kind == KindManual && !seen[req.ID] {
		seen[req.ID] = true
		prev, ok := doc.Requests[req.LinkedRequestID]
		if !ok {
			return KindManual
		}
		req = prev
	}
	return req.Kind
}

// replayAccept applies the accept effect a rejected request would have had,
// but only where the registry still permits it.
func replayAccept(doc *Document, kind ActionKind, orig *Request) string {
	switch kind {
	case KindAssign, KindSelfRequest:
		if orig.Number == "" || !doc.NumberAvailable(orig.Number) {
			return reconcileSkipped
		}
		doc.Assign(orig.Subject(), orig.Number)
	case KindUnassign:
		if _, ok := doc.Assignments[orig.TargetID]; !ok {
			return reconcileSkipped
		}
		doc.Unassign(orig.TargetID)
	case KindReassign:
		if orig.Number == "" {
			return reconcileSkipped
		}
		if owner, held := doc.OwnerOf(orig.Number); held && owner != orig.TargetID {
			return reconcileSkipped
		}
		doc.Assign(orig.TargetID, orig.Number)
	default:
		return reconcileSkipped
	}
	return reconcileApplied
}

// reverseAccept undoes the effect of an accepted request, guarding against
// clobbering unrelated later changes: an assignment is only removed while the
// target still holds the proposed number, and a previous number is only
// restored while no other member has claimed it since.
func reverseAccept(doc *Document, kind ActionKind, orig *Request) string {
	switch kind {
	case KindAssign, KindSelfRequest:
		if doc.Assignments[orig.Subject()] != orig.Number {
			return reconcileSkipped
		}
		doc.Unassign(orig.Subject())
	case KindUnassign, KindReassign:
		if orig.PrevNumber == "" {
			return reconcileSkipped
		}
		if owner, held := doc.OwnerOf(orig.PrevNumber); held && owner != orig.TargetID {
			return reconcileSkipped
		}
		doc.Assign(orig.TargetID, orig.PrevNumber)
	default:
		return reconcileSkipped
	}
	return reconcileApplied
}
