package security

import (
	"log/slog"
	"strings"

	"github.com/propertyflow/backend/internal/domain"
)

// Wildcard matches any section or action.
const Wildcard = "*"

// SmartViewPrefix marks synthesized per-view permissions.
const SmartViewPrefix = "smart_view_"

// Holding read on any of these sections grants access to the tenant's
// smart views, matching the frontend's gating.
var smartViewGatewaySections = []string{"customer_service", "reservations", "reservation_tool"}

// Evaluator decides allow/deny for (section, action) requests. It is a
// pure function over the identity's permission set: no I/O, no state.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates a permission evaluator
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Allows reports whether the identity may perform action on section.
// Admins always pass. The section "all_reservations" also satisfies checks
// against "reservations", and "*" in either field matches anything.
func (e *Evaluator) Allows(identity *domain.Identity, section, action string) bool {
	if identity == nil {
		return false
	}
	if identity.IsAdmin {
		return true
	}
	for _, p := range identity.Permissions {
		sectionMatch := p.Section == section ||
			p.Section == Wildcard ||
			(section == "reservations" && p.Section == "all_reservations")
		if sectionMatch && (p.Action == action || p.Action == Wildcard) {
			return true
		}
	}
	return false
}

// Require returns domain.ErrForbidden when the identity lacks the
// permission, logging the denial.
func (e *Evaluator) Require(identity *domain.Identity, section, action string) error {
	if e.Allows(identity, section, action) {
		return nil
	}
	e.logger.Warn("permission denied",
		slog.String("user_id", identity.ID),
		slog.String("section", section),
		slog.String("action", action),
	)
	return domain.ErrForbidden
}

// ExpandSmartViewPermissions synthesizes one read permission per active
// smart view when the user is eligible: either they already hold a
// view-scoped permission, or they hold read on any gateway section.
// Duplicates are suppressed, so applying the expansion twice yields the
// same set as applying it once.
func ExpandSmartViewPermissions(perms []domain.Permission, views []domain.SmartView) []domain.Permission {
	seen := make(map[domain.Permission]struct{}, len(perms))
	out := make([]domain.Permission, 0, len(perms)+len(views))
	for _, p := range perms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	if !eligibleForSmartViews(out) {
		return out
	}
	for _, view := range views {
		p := domain.Permission{Section: SmartViewPrefix + view.ID, Action: "read"}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SmartViewIDs extracts the view IDs the permission set grants.
func SmartViewIDs(perms []domain.Permission) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, p := range perms {
		if !strings.HasPrefix(p.Section, SmartViewPrefix) {
			continue
		}
		id := strings.TrimPrefix(p.Section, SmartViewPrefix)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// GroupSmartViewsBySection maps each view's sections to its ID, folding
// the legacy daily_cs_task section into customer_service.
func GroupSmartViewsBySection(views []domain.SmartView) map[string][]string {
	grouped := make(map[string][]string)
	for _, view := range views {
		sections := view.Sections
		if len(sections) == 0 && view.Section != "" {
			sections = []string{view.Section}
		}
		for _, section := range sections {
			if section == "" {
				continue
			}
			if section == "daily_cs_task" {
				section = "customer_service"
			}
			if !contains(grouped[section], view.ID) {
				grouped[section] = append(grouped[section], view.ID)
			}
		}
	}
	return grouped
}

func eligibleForSmartViews(perms []domain.Permission) bool {
	for _, p := range perms {
		if strings.HasPrefix(p.Section, SmartViewPrefix) {
			return true
		}
		if p.Action != "read" {
			continue
		}
		for _, gateway := range smartViewGatewaySections {
			if p.Section == gateway {
				return true
			}
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
