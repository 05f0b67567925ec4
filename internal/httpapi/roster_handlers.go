package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"signum.org/internal/auth"
	"signum.org/internal/roster"
)

type proposalRequest struct {
	Kind     string `json:"kind"`
	TargetID string `json:"target_id,omitempty"`
	Number   string `json:"number,omitempty"`
}

type decisionRequest struct {
	Decision string `json:"decision"` // "accept" | "reject"
}

type amendRequest struct {
	Outcome string `json:"outcome"` // "accepted" | "rejected"
	Note    string `json:"note,omitempty"`
}

type assignmentsResponse struct {
	TenantID    string              `json:"tenant_id"`
	Assignments []roster.Assignment `json:"assignments"`
}

type requestsResponse struct {
	TenantID string           `json:"tenant_id"`
	Items    []roster.Request `json:"items"`
}

// handleTenantScoped dispatches /v1/tenants/{tenant}/... paths.
func (a *API) handleTenantScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	tenantID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "assignments":
		switch r.Method {
		case http.MethodGet:
			a.listAssignments(w, r, tenantID)
		case http.MethodDelete:
			a.wipeAssignments(w, r, tenantID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "config":
		switch r.Method {
		case http.MethodGet:
			a.getConfig(w, r, tenantID)
		case http.MethodPut:
			a.putConfig(w, r, tenantID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	case len(parts) == 2 && parts[1] == "proposals":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.createProposal(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "requests":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listRequests(w, r, tenantID)
	case len(parts) == 3 && parts[1] == "requests":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getRequest(w, r, tenantID, parts[2])
	case len(parts) == 4 && parts[1] == "requests" && parts[3] == "decision":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.decideRequest(w, r, tenantID, parts[2])
	case len(parts) == 4 && parts[1] == "requests" && parts[3] == "amend":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.amendRequest(w, r, tenantID, parts[2])
	case len(parts) == 4 && parts[1] == "members" && parts[3] == "number":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getMemberNumber(w, r, tenantID, parts[2])
	case len(parts) == 4 && parts[1] == "numbers" && parts[3] == "owner":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getNumberOwner(w, r, tenantID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createProposal(w http.ResponseWriter, r *http.Request, tenantID string) {
	actor, ok := a.actor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req proposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		created roster.Request
		err     error
	)
	switch roster.ActionKind(req.Kind) {
	case roster.KindSelfRequest:
		if !a.allow(w, r, a.oracle.IsSelfServiceEligible, actor, tenantID) {
			return
		}
		created, err = a.svc.ProposeSelf(r.Context(), tenantID, actor.ID, req.Number)
	case roster.KindAssign:
		if !a.allow(w, r, a.oracle.CanPropose, actor, tenantID) {
			return
		}
		created, err = a.svc.ProposeAssign(r.Context(), tenantID, actor.ID, req.TargetID, req.Number)
	case roster.KindUnassign:
		if !a.allow(w, r, a.oracle.CanPropose, actor, tenantID) {
			return
		}
		created, err = a.svc.ProposeUnassign(r.Context(), tenantID, actor.ID, req.TargetID)
	case roster.KindReassign:
		if !a.allow(w, r, a.oracle.CanPropose, actor, tenantID) {
			return
		}
		created, err = a.svc.ProposeReassign(r.Context(), tenantID, actor.ID, req.TargetID, req.Number)
	default:
		writeError(w, r, http.StatusBadRequest, "unknown proposal kind")
		return
	}
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/tenants/"+tenantID+"/requests/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) decideRequest(w http.ResponseWriter, r *http.Request, tenantID, requestID string) {
	actor, ok := a.actor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !a.allow(w, r, a.oracle.CanDecide, actor, tenantID) {
		return
	}
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		decided roster.Request
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "accept":
		decided, err = a.svc.Accept(r.Context(), tenantID, requestID, actor.ID)
	case "reject":
		decided, err = a.svc.Reject(r.Context(), tenantID, requestID, actor.ID)
	default:
		writeError(w, r, http.StatusBadRequest, `decision must be "accept" or "reject"`)
		return
	}
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (a *API) amendRequest(w http.ResponseWriter, r *http.Request, tenantID, requestID string) {
	actor, ok := a.actor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !a.oracle.IsAdmin(actor) {
		writeError(w, r, http.StatusForbidden, "admin capability required")
		return
	}
	var req amendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	outcome := roster.Status(strings.ToLower(strings.TrimSpace(req.Outcome)))
	amended, err := a.svc.Amend(r.Context(), tenantID, requestID, outcome, actor.ID, req.Note)
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, amended)
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request, tenantID string) {
	if _, ok := a.actor(r); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	items, err := a.svc.Assignments(r.Context(), tenantID)
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentsResponse{TenantID: tenantID, Assignments: items})
}

func (a *API) wipeAssignments(w http.ResponseWriter, r *http.Request, tenantID string) {
	actor, ok := a.actor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !a.oracle.IsAdmin(actor) {
		writeError(w, r, http.StatusForbidden, "admin capability required")
		return
	}
	if err := a.svc.WipeAll(r.Context(), tenantID); err != nil {
		handleRosterError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getConfig(w http.ResponseWriter, r *http.Request, tenantID string) {
	actor, ok := a.actor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !a.oracle.IsAdmin(actor) {
		writeError(w, r, http.StatusForbidden, "admin capability required")
		return
	}
	cfg, err := a.svc.GetConfig(r.Context(), tenantID)
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) putConfig(w http.ResponseWriter, r *http.Request, tenantID string) {
	actor, ok := a.actor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if !a.oracle.IsAdmin(actor) {
		writeError(w, r, http.StatusForbidden, "admin capability required")
		return
	}
	var cfg roster.Config
	if err := decodeJSON(w, r, &cfg); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Configure(r.Context(), tenantID, cfg); err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request, tenantID string) {
	if _, ok := a.actor(r); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	status := roster.Status(strings.ToLower(r.URL.Query().Get("status")))
	switch status {
	case "", roster.StatusPending, roster.StatusAccepted, roster.StatusRejected, roster.StatusManual:
	default:
		writeError(w, r, http.StatusBadRequest, "unknown status filter")
		return
	}
	items, err := a.svc.ListRequests(r.Context(), tenantID, status)
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestsResponse{TenantID: tenantID, Items: items})
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, tenantID, requestID string) {
	if _, ok := a.actor(r); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var (
		req roster.Request
		err error
	)
	if ref := r.URL.Query().Get("by_ref"); ref == "true" {
		req, err = a.svc.GetRequestByRef(r.Context(), tenantID, requestID)
	} else {
		req, err = a.svc.GetRequest(r.Context(), tenantID, requestID)
	}
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) getMemberNumber(w http.ResponseWriter, r *http.Request, tenantID, memberID string) {
	if _, ok := a.actor(r); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	number, err := a.svc.NumberOf(r.Context(), tenantID, memberID)
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"member_id": memberID, "number": number})
}

func (a *API) getNumberOwner(w http.ResponseWriter, r *http.Request, tenantID, number string) {
	if _, ok := a.actor(r); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	owner, err := a.svc.OwnerOf(r.Context(), tenantID, number)
	if err != nil {
		handleRosterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"number": number, "member_id": owner})
}

// capability is one oracle predicate.
type capability func(ctx context.Context, actor auth.Actor, tenantID string) (bool, error)

// allow runs one oracle predicate and writes the error response on denial.
func (a *API) allow(w http.ResponseWriter, r *http.Request, check capability, actor auth.Actor, tenantID string) bool {
	ok, err := check(r.Context(), actor, tenantID)
	if err != nil {
		handleRosterError(w, r, err)
		return false
	}
	if !ok {
		writeError(w, r, http.StatusForbidden, "not authorized for this operation")
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleRosterError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, roster.ErrInvalidInput), errors.Is(err, roster.ErrSameNumber):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, roster.ErrNumberUnavailable),
		errors.Is(err, roster.ErrAlreadyDecided),
		errors.Is(err, roster.ErrStillPending):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, roster.ErrNoCurrentNumber):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, roster.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, roster.ErrStorage):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
