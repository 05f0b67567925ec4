package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type stubNotifier struct {
	mu   sync.Mutex
	ref  string
	err  error
	sent []Request
}

func (n *stubNotifier) PostDecisionRequest(ctx context.Context, tenantID string, req Request) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
	return n.ref, n.err
}

func newTestService(t *testing.T) (*Service, *stubNotifier) {
	t.Helper()
	n := &stubNotifier{ref: "msg-1"}
	return NewService(NewMemoryStore(), n), n
}

func TestProposeAssignReservesNumber(t *testing.T) {
	s, n := newTestService(t)
	ctx := context.Background()

	req, err := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != StatusPending || req.Kind != KindAssign {
		t.Fatalf("unexpected request: %+v", req)
	}

	doc, _ := s.store.Load(ctx, "g1")
	if !doc.NumberReserved("7") {
		t.Fatal("7 must be reserved while the request is pending")
	}
	if len(n.sent) != 1 || n.sent[0].ID != req.ID {
		t.Fatalf("notifier not invoked: %+v", n.sent)
	}

	// the message ref returned by the notifier must be persisted
	stored, err := s.GetRequest(ctx, "g1", req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.MessageRef != "msg-1" {
		t.Fatalf("message ref not stored: %+v", stored)
	}
	if byRef, err := s.GetRequestByRef(ctx, "g1", "msg-1"); err != nil || byRef.ID != req.ID {
		t.Fatalf("lookup by ref failed: %v %+v", err, byRef)
	}
}

func TestProposeConflictsWithReservation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.ProposeAssign(ctx, "g1", "boss", "42", "7"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ProposeAssign(ctx, "g1", "boss", "99", "7"); !errors.Is(err, ErrNumberUnavailable) {
		t.Fatalf("expected ErrNumberUnavailable, got %v", err)
	}
	if _, err := s.ProposeSelf(ctx, "g1", "99", "7"); !errors.Is(err, ErrNumberUnavailable) {
		t.Fatalf("expected ErrNumberUnavailable for self request, got %v", err)
	}
	// a different tenant is unaffected
	if _, err := s.ProposeAssign(ctx, "g2", "boss", "42", "7"); err != nil {
		t.Fatalf("tenants must be independent: %v", err)
	}
}

func TestAcceptAssign(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	decided, err := s.Accept(ctx, "g1", req.ID, "reviewer")
	if err != nil {
		t.Fatal(err)
	}
	if decided.Status != StatusAccepted || decided.DecidedBy != "reviewer" || decided.DecidedAt == nil {
		t.Fatalf("unexpected decision: %+v", decided)
	}

	if n, err := s.NumberOf(ctx, "g1", "42"); err != nil || n != "7" {
		t.Fatalf("expected member 42 to hold 7, got %q (%v)", n, err)
	}
	doc, _ := s.store.Load(ctx, "g1")
	if doc.NumberReserved("7") {
		t.Fatal("reservation must end with the decision")
	}
}

func TestRejectReleasesReservation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	if _, err := s.Reject(ctx, "g1", req.ID, "reviewer"); err != nil {
		t.Fatal(err)
	}

	doc, _ := s.store.Load(ctx, "g1")
	if !doc.NumberAvailable("7") {
		t.Fatal("rejected number must be available again")
	}
	if _, err := s.ProposeAssign(ctx, "g1", "boss", "42", "7"); err != nil {
		t.Fatalf("number must be proposable after rejection: %v", err)
	}
}

func TestDecisionGuardIsExclusive(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = s.Accept(ctx, "g1", req.ID, "reviewer-a")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = s.Reject(ctx, "g1", req.ID, "reviewer-b")
	}()
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyDecided):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winning decision, got wins=%d losses=%d", wins, losses)
	}

	// a second decision attempt is rejected outright, not re-applied
	if _, err := s.Accept(ctx, "g1", req.ID, "reviewer-c"); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
}

func TestAcceptRechecksAvailability(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	// a competing allocation lands while the request is pending
	other, _ := s.ProposeSelf(ctx, "g1", "99", "8")
	if _, err := s.Accept(ctx, "g1", other.ID, "reviewer"); err != nil {
		t.Fatal(err)
	}
	// force the conflict behind the service's back
	doc, _ := s.store.Load(ctx, "g1")
	doc.Assignments["55"] = "7"
	if err := s.store.Save(ctx, "g1", doc); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Accept(ctx, "g1", req.ID, "reviewer"); !errors.Is(err, ErrNumberUnavailable) {
		t.Fatalf("expected ErrNumberUnavailable, got %v", err)
	}

	// the guard failure must leave the request pending and reserved
	stored, _ := s.GetRequest(ctx, "g1", req.ID)
	if stored.Status != StatusPending {
		t.Fatalf("request must stay pending, got %s", stored.Status)
	}
	doc, _ = s.store.Load(ctx, "g1")
	if !doc.NumberReserved("7") {
		t.Fatal("reservation must stay intact after a failed accept")
	}
}

func TestUnassignFlow(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if _, err := s.ProposeUnassign(ctx, "g1", "boss", "42"); !errors.Is(err, ErrNoCurrentNumber) {
		t.Fatalf("expected ErrNoCurrentNumber, got %v", err)
	}

	assign, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	if _, err := s.Accept(ctx, "g1", assign.ID, "reviewer"); err != nil {
		t.Fatal(err)
	}

	remove, err := s.ProposeUnassign(ctx, "g1", "boss", "42")
	if err != nil {
		t.Fatal(err)
	}
	if remove.PrevNumber != "7" {
		t.Fatalf("previous number must be recorded for rollback, got %+v", remove)
	}
	if _, err := s.Accept(ctx, "g1", remove.ID, "reviewer"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.NumberOf(ctx, "g1", "42"); !errors.Is(err, ErrNoCurrentNumber) {
		t.Fatalf("expected no number after unassign, got %v", err)
	}
}

func TestReassignFlow(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	assign, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Accept(ctx, "g1", assign.ID, "reviewer")

	if _, err := s.ProposeReassign(ctx, "g1", "boss", "42", "7"); !errors.Is(err, ErrSameNumber) {
		t.Fatalf("expected ErrSameNumber, got %v", err)
	}

	edit, err := s.ProposeReassign(ctx, "g1", "boss", "42", "9")
	if err != nil {
		t.Fatal(err)
	}
	if edit.PrevNumber != "7" || edit.Number != "9" {
		t.Fatalf("unexpected edit request: %+v", edit)
	}
	if _, err := s.Accept(ctx, "g1", edit.ID, "reviewer"); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.NumberOf(ctx, "g1", "42"); n != "9" {
		t.Fatalf("expected 9 after reassign, got %q", n)
	}
	// the old number is free again, the new one is not
	doc, _ := s.store.Load(ctx, "g1")
	if !doc.NumberAvailable("7") || doc.NumberAvailable("9") {
		t.Fatalf("unexpected availability after reassign: %v", doc.Assignments)
	}
}

func TestUniquenessUnderConcurrentProposals(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	const n = 20
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := fmt.Sprintf("m%d", i)
			req, err := s.ProposeAssign(ctx, "g1", "boss", member, "7")
			if err != nil {
				return
			}
			_, _ = s.Accept(ctx, "g1", req.ID, "reviewer")
		}(i)
	}
	wg.Wait()

	doc, _ := s.store.Load(ctx, "g1")
	owners := 0
	for _, number := range doc.Assignments {
		if number == "7" {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("number 7 held by %d members", owners)
	}
}

func TestWipeAllKeepsRequestLog(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Accept(ctx, "g1", req.ID, "reviewer")
	_, _ = s.ProposeAssign(ctx, "g1", "boss", "43", "8")

	if err := s.WipeAll(ctx, "g1"); err != nil {
		t.Fatal(err)
	}

	items, err := s.Assignments(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("assignments must be wiped, got %v", items)
	}
	doc, _ := s.store.Load(ctx, "g1")
	if len(doc.Reserved) != 0 {
		t.Fatalf("reservations must be wiped, got %v", doc.Reserved)
	}
	if len(doc.Requests) != 2 {
		t.Fatalf("request history must survive the wipe, got %d entries", len(doc.Requests))
	}
}

func TestListRequestsStatusFilter(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	a, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	b, _ := s.ProposeAssign(ctx, "g1", "boss", "43", "8")
	_, _ = s.Accept(ctx, "g1", a.ID, "reviewer")

	pending, err := s.ListRequests(ctx, "g1", StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("unexpected pending list: %+v", pending)
	}
	all, _ := s.ListRequests(ctx, "g1", "")
	if len(all) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(all))
	}
}

type failingStore struct {
	inner    Store
	failSave bool
}

func (f *failingStore) Load(ctx context.Context, tenantID string) (*Document, error) {
	return f.inner.Load(ctx, tenantID)
}

func (f *failingStore) Save(ctx context.Context, tenantID string, doc *Document) error {
	if f.failSave {
		return fmt.Errorf("%w: disk full", ErrStorage)
	}
	return f.inner.Save(ctx, tenantID, doc)
}

func TestStorageFailureLeavesNoPartialState(t *testing.T) {
	fs := &failingStore{inner: NewMemoryStore()}
	s := NewService(fs, nil)
	ctx := context.Background()

	fs.failSave = true
	if _, err := s.ProposeAssign(ctx, "g1", "boss", "42", "7"); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}

	fs.failSave = false
	// nothing of the failed proposal may be visible
	doc, err := fs.Load(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Requests) != 0 || !doc.NumberAvailable("7") {
		t.Fatalf("failed save leaked state: %+v", doc)
	}
}

func TestTenantWebhookDelivery(t *testing.T) {
	global := &stubNotifier{ref: "global-ref"}
	tenantHook := &stubNotifier{ref: "hook-ref"}
	var gotURL string
	s := NewService(NewMemoryStore(), global, WithTenantWebhooks(func(url string) Notifier {
		gotURL = url
		return tenantHook
	}))
	ctx := context.Background()

	// no webhook configured yet: only the global notifier is used
	if _, err := s.ProposeAssign(ctx, "g1", "boss", "42", "7"); err != nil {
		t.Fatal(err)
	}
	if gotURL != "" || len(tenantHook.sent) != 0 {
		t.Fatalf("webhook used without configuration: url=%q sent=%d", gotURL, len(tenantHook.sent))
	}

	if err := s.Configure(ctx, "g1", Config{WebhookURL: "https://hooks.example/g1"}); err != nil {
		t.Fatal(err)
	}
	req, err := s.ProposeAssign(ctx, "g1", "boss", "43", "8")
	if err != nil {
		t.Fatal(err)
	}
	if gotURL != "https://hooks.example/g1" {
		t.Fatalf("factory got url %q", gotURL)
	}
	if len(tenantHook.sent) != 1 || tenantHook.sent[0].ID != req.ID {
		t.Fatalf("tenant webhook not invoked: %+v", tenantHook.sent)
	}

	// the global notifier's ref wins for the stored message reference
	stored, _ := s.GetRequest(ctx, "g1", req.ID)
	if stored.MessageRef != "global-ref" {
		t.Fatalf("stored ref = %q, want global-ref", stored.MessageRef)
	}
}

func TestNotifierFailureKeepsReservation(t *testing.T) {
	n := &stubNotifier{err: errors.New("webhook down")}
	s := NewService(NewMemoryStore(), n)
	ctx := context.Background()

	req, err := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	if err != nil {
		t.Fatalf("notification failure must not fail the proposal: %v", err)
	}
	doc, _ := s.store.Load(ctx, "g1")
	if !doc.NumberReserved("7") {
		t.Fatal("reservation must survive a failed notification")
	}
	stored, _ := s.GetRequest(ctx, "g1", req.ID)
	if stored.MessageRef != "" {
		t.Fatalf("no ref may be stored on failure, got %q", stored.MessageRef)
	}
}
