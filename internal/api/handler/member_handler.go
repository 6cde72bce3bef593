package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
)

const defaultOutcomeLimit = 20

// MemberHandler runs and inspects reconciliation for a single member.
type MemberHandler struct {
	dir       ports.Directory
	reconcile ports.ReconcileService
	audit     ports.AuditRepository
	roles     domain.PolicyRoles
}

// NewMemberHandler wires the handler. audit may be nil when no audit store is
// configured; Outcomes is then not routed.
func NewMemberHandler(dir ports.Directory, reconcile ports.ReconcileService, audit ports.AuditRepository, roles domain.PolicyRoles) *MemberHandler {
	return &MemberHandler{dir: dir, reconcile: reconcile, audit: audit, roles: roles}
}

type memberPath struct {
	ID string `param:"id" validate:"required,numeric"`
}

type outcomesQuery struct {
	ID    string `param:"id"    validate:"required,numeric"`
	Limit int64  `query:"limit" validate:"omitempty,min=1,max=100"`
}

type reconcileResponse struct {
	MemberID string          `json:"member_id"`
	Tier     domain.Tier     `json:"tier"`
	Actions  []domain.Action `json:"actions"`
	Error    string          `json:"error,omitempty"`
}

type outcomeResponse struct {
	Time      string `json:"time"`
	Kind      string `json:"kind"`
	Operation string `json:"operation"`
	Detail    string `json:"detail"`
}

// Reconcile handles POST /v1/members/:id/reconcile.
// A reconciliation failure is reported in the body alongside whatever actions
// did land; the request itself only fails when the member cannot be read.
func (h *MemberHandler) Reconcile(c echo.Context) error {
	var req memberPath
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member id")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	ctx := c.Request().Context()
	member, err := h.dir.GetMember(ctx, req.ID)
	if err != nil {
		return err
	}

	actions, recErr := h.reconcile.ReconcileMember(ctx, member)
	if actions == nil {
		actions = []domain.Action{}
	}

	resp := reconcileResponse{MemberID: member.ID, Actions: actions}
	if after, err := h.dir.GetMember(ctx, req.ID); err == nil {
		resp.Tier = after.Tier(h.roles)
	}
	if recErr != nil {
		resp.Error = domain.Classify(recErr)
	}
	return c.JSON(http.StatusOK, resp)
}

// Outcomes handles GET /v1/members/:id/outcomes.
func (h *MemberHandler) Outcomes(c echo.Context) error {
	var req outcomesQuery
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if req.Limit == 0 {
		req.Limit = defaultOutcomeLimit
	}

	outcomes, err := h.audit.RecentOutcomes(c.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return err
	}

	resp := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		resp = append(resp, outcomeResponse{
			Time:      o.Time.UTC().Format(time.RFC3339),
			Kind:      o.Kind,
			Operation: o.Operation,
			Detail:    o.Detail,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
