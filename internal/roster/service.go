package roster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"signum.org/internal/audit"
	"signum.org/internal/ids"
	"signum.org/internal/obs"
)

// Store persists one document per tenant. Load must return the empty default
// document for tenants that have never been saved. Implementations wrap I/O
// failures with ErrStorage.
type Store interface {
	Load(ctx context.Context, tenantID string) (*Document, error)
	Save(ctx context.Context, tenantID string, doc *Document) error
}

// Notifier posts a decision request to whatever surface the reviewers watch
// and returns an opaque message reference. Delivery is best effort: a failed
// post never rolls back the reservation that was already committed.
type Notifier interface {
	PostDecisionRequest(ctx context.Context, tenantID string, req Request) (string, error)
}

// Service serializes all operations against one tenant's document: every call
// is a load -> check/mutate -> save cycle under that tenant's lock. Operations
// on distinct tenants proceed in parallel.
type Service struct {
	store    Store
	notifier Notifier
	webhooks func(url string) Notifier
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTenantWebhooks enables per-tenant webhook delivery: when a tenant's
// config carries a webhook URL, decision requests are additionally posted to
// the notifier the factory builds for that URL.
func WithTenantWebhooks(factory func(url string) Notifier) ServiceOption {
	return func(s *Service) {
		s.webhooks = factory
	}
}

// NewService creates a Service over the given store. The notifier may be nil,
// in which case decision requests are recorded but not delivered anywhere.
func NewService(store Store, notifier Notifier, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tenantID] = l
	}
	return l
}

// withTenant runs fn inside the tenant's critical section. The document is
// saved only when fn succeeds and requests it; a save failure surfaces as
// ErrStorage with no visible state change, since the next operation reloads
// the persisted document.
func (s *Service) withTenant(ctx context.Context, tenantID string, fn func(doc *Document) (save bool, err error)) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	doc, err := s.store.Load(ctx, tenantID)
	if err != nil {
		return err
	}
	doc.normalize()

	save, err := fn(doc)
	if err != nil {
		return err
	}
	if !save {
		return nil
	}
	return s.store.Save(ctx, tenantID, doc)
}

// ProposeAssign files a request to give target the number. The number is
// reserved until the request is decided.
func (s *Service) ProposeAssign(ctx context.Context, tenantID, requesterID, targetID, number string) (Request, error) {
	if targetID == "" {
		return Request{}, fmt.Errorf("%w: target member is required", ErrInvalidInput)
	}
	return s.propose(ctx, tenantID, KindAssign, requesterID, targetID, number, "")
}

// ProposeSelf files a self-service request: the requester asks for the number
// for themselves.
func (s *Service) ProposeSelf(ctx context.Context, tenantID, requesterID, number string) (Request, error) {
	return s.propose(ctx, tenantID, KindSelfRequest, requesterID, requesterID, number, "")
}

// ProposeUnassign files a request to remove the target's current number. The
// current number is recorded as PrevNumber so a later amendment can restore it.
func (s *Service) ProposeUnassign(ctx context.Context, tenantID, requesterID, targetID string) (Request, error) {
	if targetID == "" {
		return Request{}, fmt.Errorf("%w: target member is required", ErrInvalidInput)
	}
	var req Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		curr, ok := doc.Assignments[targetID]
		if !ok {
			return false, ErrNoCurrentNumber
		}
		req = s.appendRequest(doc, KindUnassign, requesterID, targetID, "", curr)
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}
	s.dispatch(ctx, tenantID, req)
	return req, nil
}

// ProposeReassign files a request to change the target's number. The new
// number is reserved until the request is decided.
func (s *Service) ProposeReassign(ctx context.Context, tenantID, requesterID, targetID, newNumber string) (Request, error) {
	if targetID == "" {
		return Request{}, fmt.Errorf("%w: target member is required", ErrInvalidInput)
	}
	var req Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		if newNumber == "" {
			return false, fmt.Errorf("%w: number is required", ErrInvalidInput)
		}
		curr, ok := doc.Assignments[targetID]
		if !ok {
			return false, ErrNoCurrentNumber
		}
		if curr == newNumber {
			return false, ErrSameNumber
		}
		if !doc.NumberAvailable(newNumber) {
			return false, ErrNumberUnavailable
		}
		doc.Reserve(newNumber)
		req = s.appendRequest(doc, KindReassign, requesterID, targetID, newNumber, curr)
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}
	s.dispatch(ctx, tenantID, req)
	return req, nil
}

func (s *Service) propose(ctx context.Context, tenantID string, kind ActionKind, requesterID, targetID, number, prev string) (Request, error) {
	var req Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		if number == "" {
			return false, fmt.Errorf("%w: number is required", ErrInvalidInput)
		}
		if !doc.NumberAvailable(number) {
			return false, ErrNumberUnavailable
		}
		doc.Reserve(number)
		req = s.appendRequest(doc, kind, requesterID, targetID, number, prev)
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}
	s.dispatch(ctx, tenantID, req)
	return req, nil
}

func (s *Service) appendRequest(doc *Document, kind ActionKind, requesterID, targetID, number, prev string) Request {
	req := Request{
		ID:          ids.New(),
		Kind:        kind,
		RequesterID: requesterID,
		TargetID:    targetID,
		Number:      number,
		PrevNumber:  prev,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	doc.Requests[req.ID] = &req
	obs.ProposalCreated(string(kind))
	return req
}

// dispatch posts the decision request after the critical section has been
// committed and stores the returned message reference. Delivery goes to the
// process-wide notifier and, when the tenant's config names a webhook URL, to
// that webhook as well. Failures are logged only; the reservation stands
// regardless.
func (s *Service) dispatch(ctx context.Context, tenantID string, req Request) {
	notifiers := make([]Notifier, 0, 2)
	if s.notifier != nil {
		notifiers = append(notifiers, s.notifier)
	}
	if s.webhooks != nil {
		if cfg, err := s.GetConfig(ctx, tenantID); err == nil && cfg.WebhookURL != "" {
			notifiers = append(notifiers, s.webhooks(cfg.WebhookURL))
		}
	}
	var ref string
	for _, n := range notifiers {
		r, err := n.PostDecisionRequest(ctx, tenantID, req)
		if err != nil {
			_ = audit.LogEvent(ctx, "roster.notify.failed", map[string]any{
				"tenant_id":  tenantID,
				"request_id": req.ID,
				"error":      err.Error(),
			})
			continue
		}
		if ref == "" {
			ref = r
		}
	}
	if ref == "" {
		return
	}
	_ = s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		stored, ok := doc.Requests[req.ID]
		if !ok {
			return false, nil
		}
		stored.MessageRef = ref
		return true, nil
	})
}

// Accept applies the pending request's effect and closes it. Exactly one of
// two concurrent decisions can win: the Pending guard runs inside the
// tenant's critical section, the loser gets ErrAlreadyDecided. A guard
// failure of the effect itself (number taken, target without a number) leaves
// the request Pending and its reservation intact.
func (s *Service) Accept(ctx context.Context, tenantID, requestID, deciderID string) (Request, error) {
	var out Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		req, ok := doc.Requests[requestID]
		if !ok {
			return false, ErrNotFound
		}
		if req.Status != StatusPending {
			return false, ErrAlreadyDecided
		}

		switch req.Kind {
		case KindAssign, KindSelfRequest:
			// Re-checked at accept time: another member may have been
			// assigned the number since the request was created.
			if doc.NumberInUse(req.Number) {
				return false, ErrNumberUnavailable
			}
			doc.Assign(req.Subject(), req.Number)
		case KindUnassign:
			if _, ok := doc.Assignments[req.TargetID]; !ok {
				return false, ErrNoCurrentNumber
			}
			doc.Unassign(req.TargetID)
		case KindReassign:
			if owner, held := doc.OwnerOf(req.Number); held && owner != req.TargetID {
				return false, ErrNumberUnavailable
			}
			doc.Assign(req.TargetID, req.Number)
		default:
			return false, fmt.Errorf("%w: kind %q is not decidable", ErrInvalidInput, req.Kind)
		}

		s.close(req, StatusAccepted, deciderID)
		out = *req
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}
	obs.DecisionTaken(string(out.Kind), string(StatusAccepted))
	s.auditDecision(ctx, tenantID, out)
	return out, nil
}

// Reject releases the request's reservation and closes it. Same Pending guard
// as Accept.
func (s *Service) Reject(ctx context.Context, tenantID, requestID, deciderID string) (Request, error) {
	var out Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		req, ok := doc.Requests[requestID]
		if !ok {
			return false, ErrNotFound
		}
		if req.Status != StatusPending {
			return false, ErrAlreadyDecided
		}
		doc.Release(req.Number)
		s.close(req, StatusRejected, deciderID)
		out = *req
		return true, nil
	})
	if err != nil {
		return Request{}, err
	}
	obs.DecisionTaken(string(out.Kind), string(StatusRejected))
	s.auditDecision(ctx, tenantID, out)
	return out, nil
}

func (s *Service) close(req *Request, status Status, deciderID string) {
	now := s.now()
	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = deciderID
}

func (s *Service) auditDecision(ctx context.Context, tenantID string, req Request) {
	_ = audit.LogEvent(ctx, "roster.request.decided", map[string]any{
		"tenant_id":  tenantID,
		"request_id": req.ID,
		"kind":       string(req.Kind),
		"status":     string(req.Status),
		"decided_by": req.DecidedBy,
	})
}

// GetRequest returns one request by id.
func (s *Service) GetRequest(ctx context.Context, tenantID, requestID string) (Request, error) {
	var out Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		req, ok := doc.Requests[requestID]
		if !ok {
			return false, ErrNotFound
		}
		out = *req
		return false, nil
	})
	return out, err
}

// GetRequestByRef resolves a request via the notifier's message reference, so
// a decision callback can address it without knowing the request id.
func (s *Service) GetRequestByRef(ctx context.Context, tenantID, ref string) (Request, error) {
	if ref == "" {
		return Request{}, ErrNotFound
	}
	var out Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		for _, req := range doc.Requests {
			if req.MessageRef == ref {
				out = *req
				return false, nil
			}
		}
		return false, ErrNotFound
	})
	return out, err
}

// ListRequests returns the tenant's request log, newest first, optionally
// filtered by status.
func (s *Service) ListRequests(ctx context.Context, tenantID string, status Status) ([]Request, error) {
	var out []Request
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		for _, req := range doc.Requests {
			if status != "" && req.Status != status {
				continue
			}
			out = append(out, *req)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Assignments returns the tenant's roster in presentation order.
func (s *Service) Assignments(ctx context.Context, tenantID string) ([]Assignment, error) {
	var out []Assignment
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		out = doc.SortedAssignments()
		return false, nil
	})
	return out, err
}

// NumberOf returns the member's current number.
func (s *Service) NumberOf(ctx context.Context, tenantID, memberID string) (string, error) {
	var out string
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		n, ok := doc.Assignments[memberID]
		if !ok {
			return false, ErrNoCurrentNumber
		}
		out = n
		return false, nil
	})
	return out, err
}

// OwnerOf returns the member currently holding the number.
func (s *Service) OwnerOf(ctx context.Context, tenantID, number string) (string, error) {
	var out string
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		owner, ok := doc.OwnerOf(number)
		if !ok {
			return false, ErrNotFound
		}
		out = owner
		return false, nil
	})
	return out, err
}

// GetConfig returns the tenant's configuration.
func (s *Service) GetConfig(ctx context.Context, tenantID string) (Config, error) {
	var out Config
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		out = doc.Config
		return false, nil
	})
	return out, err
}

// TenantRoles returns the tenant's decider and staff role names. This is the
// role source consumed by the authorization oracle.
func (s *Service) TenantRoles(ctx context.Context, tenantID string) (deciders, staff []string, err error) {
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return cfg.DeciderRoles, cfg.StaffRoles, nil
}

// Configure replaces the tenant's configuration.
func (s *Service) Configure(ctx context.Context, tenantID string, cfg Config) error {
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		doc.Config = cfg
		return true, nil
	})
	if err != nil {
		return err
	}
	return audit.LogEvent(ctx, "roster.config.updated", map[string]any{
		"tenant_id": tenantID,
	})
}

// WipeAll clears every assignment and reservation. The request log is kept:
// history is never deleted.
func (s *Service) WipeAll(ctx context.Context, tenantID string) error {
	err := s.withTenant(ctx, tenantID, func(doc *Document) (bool, error) {
		doc.Assignments = make(map[string]string)
		doc.Reserved = []string{}
		return true, nil
	})
	if err != nil {
		return err
	}
	return audit.LogEvent(ctx, "roster.wiped", map[string]any{
		"tenant_id": tenantID,
	})
}
