package roster

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAmendRequiresDecidedRequest(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	if _, err := s.Amend(ctx, "g1", req.ID, StatusAccepted, "admin", ""); !errors.Is(err, ErrStillPending) {
		t.Fatalf("expected ErrStillPending, got %v", err)
	}
	if _, err := s.Amend(ctx, "g1", "nope", StatusAccepted, "admin", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Amend(ctx, "g1", req.ID, StatusPending, "admin", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a non-terminal outcome, got %v", err)
	}
}

func TestAmendFlipsRejectionAndReconciles(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Reject(ctx, "g1", req.ID, "reviewer")

	manual, err := s.Amend(ctx, "g1", req.ID, StatusAccepted, "admin", "decided in error")
	if err != nil {
		t.Fatal(err)
	}
	if manual.Kind != KindManual || manual.Status != StatusAccepted {
		t.Fatalf("unexpected manual record: %+v", manual)
	}
	if !strings.Contains(manual.Note, "reconciliation applied") || !strings.Contains(manual.Note, "decided in error") {
		t.Fatalf("note must carry reconciliation result and caller note, got %q", manual.Note)
	}
	if n, err := s.NumberOf(ctx, "g1", "42"); err != nil || n != "7" {
		t.Fatalf("registry not reconciled: %q (%v)", n, err)
	}

	// the original record keeps its status; both records are linked
	orig, _ := s.GetRequest(ctx, "g1", req.ID)
	if orig.Status != StatusRejected {
		t.Fatalf("original status must not be rewritten, got %s", orig.Status)
	}
	if orig.LinkedRequestID != manual.ID || manual.LinkedRequestID != orig.ID {
		t.Fatalf("records not linked: orig=%q manual=%q", orig.LinkedRequestID, manual.LinkedRequestID)
	}
}

func TestAmendFlipsAcceptance(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Accept(ctx, "g1", req.ID, "reviewer")

	manual, err := s.Amend(ctx, "g1", req.ID, StatusRejected, "admin", "")
	if err != nil {
		t.Fatal(err)
	}
	if manual.Status != StatusRejected {
		t.Fatalf("unexpected manual status: %s", manual.Status)
	}
	if _, err := s.NumberOf(ctx, "g1", "42"); !errors.Is(err, ErrNoCurrentNumber) {
		t.Fatalf("assignment must be reversed, got %v", err)
	}
	doc, _ := s.store.Load(ctx, "g1")
	if !doc.NumberAvailable("7") {
		t.Fatal("7 must be free after the reversal")
	}
}

func TestAmendConfirmingOutcomeTouchesNothing(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Accept(ctx, "g1", req.ID, "reviewer")

	manual, err := s.Amend(ctx, "g1", req.ID, StatusAccepted, "admin", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(manual.Note, "reconciliation none") {
		t.Fatalf("confirming amendment must not reconcile, got %q", manual.Note)
	}
	if n, _ := s.NumberOf(ctx, "g1", "42"); n != "7" {
		t.Fatalf("assignment must be untouched, got %q", n)
	}
}

func TestAmendSkipsWhenNumberTaken(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Reject(ctx, "g1", req.ID, "reviewer")

	// 7 has since gone to someone else
	other, _ := s.ProposeAssign(ctx, "g1", "boss", "55", "7")
	_, _ = s.Accept(ctx, "g1", other.ID, "reviewer")

	manual, err := s.Amend(ctx, "g1", req.ID, StatusAccepted, "admin", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(manual.Note, "reconciliation skipped") {
		t.Fatalf("flip over a competing claim must be skipped, got %q", manual.Note)
	}
	if owner, _ := s.OwnerOf(ctx, "g1", "7"); owner != "55" {
		t.Fatalf("competing claim must stand, got owner %q", owner)
	}
	if _, err := s.NumberOf(ctx, "g1", "42"); !errors.Is(err, ErrNoCurrentNumber) {
		t.Fatalf("42 must stay unassigned, got %v", err)
	}
}

func TestAmendReassignRollback(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	assign, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Accept(ctx, "g1", assign.ID, "reviewer")
	edit, _ := s.ProposeReassign(ctx, "g1", "boss", "42", "9")
	_, _ = s.Accept(ctx, "g1", edit.ID, "reviewer")

	if _, err := s.Amend(ctx, "g1", edit.ID, StatusRejected, "admin", ""); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.NumberOf(ctx, "g1", "42"); n != "7" {
		t.Fatalf("rollback must restore the previous number, got %q", n)
	}
}

func TestAmendUnassignRollbackGuarded(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	assign, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Accept(ctx, "g1", assign.ID, "reviewer")
	remove, _ := s.ProposeUnassign(ctx, "g1", "boss", "42")
	_, _ = s.Accept(ctx, "g1", remove.ID, "reviewer")

	// the freed number has since been claimed
	other, _ := s.ProposeAssign(ctx, "g1", "boss", "55", "7")
	_, _ = s.Accept(ctx, "g1", other.ID, "reviewer")

	manual, err := s.Amend(ctx, "g1", remove.ID, StatusRejected, "admin", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(manual.Note, "reconciliation skipped") {
		t.Fatalf("restore over a competing claim must be skipped, got %q", manual.Note)
	}
	if owner, _ := s.OwnerOf(ctx, "g1", "7"); owner != "55" {
		t.Fatalf("competing claim must stand, got owner %q", owner)
	}
}

func TestAmendChain(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	req, _ := s.ProposeAssign(ctx, "g1", "boss", "42", "7")
	_, _ = s.Accept(ctx, "g1", req.ID, "reviewer")

	first, err := s.Amend(ctx, "g1", req.ID, StatusRejected, "admin", "")
	if err != nil {
		t.Fatal(err)
	}
	// amend the amendment: restore the original outcome
	second, err := s.Amend(ctx, "g1", first.ID, StatusAccepted, "admin", "")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := s.NumberOf(ctx, "g1", "42"); n != "7" {
		t.Fatalf("round trip must restore the assignment, got %q", n)
	}

	all, _ := s.ListRequests(ctx, "g1", "")
	if len(all) != 3 {
		t.Fatalf("every record must survive, got %d", len(all))
	}
	stored, _ := s.GetRequest(ctx, "g1", first.ID)
	if stored.LinkedRequestID != second.ID {
		t.Fatalf("amendment chain broken: %q", stored.LinkedRequestID)
	}
}
