// Package notify delivers decision requests to whatever surface the
// reviewers watch. All implementations are fire-and-forget from the
// workflow's point of view: a failed delivery never unwinds the reservation.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"signum.org/internal/obs"
	"signum.org/internal/roster"
)

// LogNotifier records decision requests on the structured log only. Used when
// no delivery channel is configured.
type LogNotifier struct{}

var _ roster.Notifier = LogNotifier{}

func (LogNotifier) PostDecisionRequest(ctx context.Context, tenantID string, req roster.Request) (string, error) {
	ref := uuid.NewString()
	obs.LogRequest(map[string]any{
		"type":        "decision_request",
		"tenant_id":   tenantID,
		"request_id":  req.ID,
		"kind":        string(req.Kind),
		"message_ref": ref,
	})
	return ref, nil
}

// Multi fans a decision request out to several notifiers. The first non-empty
// message reference wins; delivery errors are joined but do not stop the
// remaining notifiers.
type Multi []roster.Notifier

var _ roster.Notifier = Multi{}

func (m Multi) PostDecisionRequest(ctx context.Context, tenantID string, req roster.Request) (string, error) {
	var ref string
	var errs []error
	for _, n := range m {
		r, err := n.PostDecisionRequest(ctx, tenantID, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ref == "" {
			ref = r
		}
	}
	return ref, errors.Join(errs...)
}
