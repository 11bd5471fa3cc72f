package core

import (
	"context"
	"sync"

	"batchcore/pkg/domain"
)

// WorkflowRequest is the payload sent to the external workflow/approval
// collaborator when a batch reaches a trigger status.
type WorkflowRequest struct {
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	TriggerStatus string `json:"trigger_status"`
	RequestedBy   string `json:"requested_by"`
	Priority      string `json:"priority,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// WorkflowClient submits workflow requests. Returns acceptance or failure;
// failures are logged by the caller, not retried synchronously.
type WorkflowClient interface {
	Submit(ctx context.Context, req WorkflowRequest) error
}

// RoleDirectory resolves the acting user's current role at call time. The
// guard trusts the returned value as authoritative for one request.
type RoleDirectory interface {
	RoleOf(ctx context.Context, actorID string) (domain.Role, error)
}

// TemplateLine is one test line of a QC template snapshot.
type TemplateLine struct {
	LineNo     int                 `json:"line_no"`
	Name       string              `json:"name"`
	ResultType domain.ResultType   `json:"result_type"`
	RuleType   domain.SpecRuleType `json:"rule_type"`
	SpecMin    *float64            `json:"spec_min,omitempty"`
	SpecMax    *float64            `json:"spec_max,omitempty"`
	SpecTarget *float64            `json:"spec_target,omitempty"`
	Options    []string            `json:"options,omitempty"`
	Required   bool                `json:"required"`
}

// TemplateSource supplies an immutable snapshot of a template's test lines at
// session-generation time only.
type TemplateSource interface {
	Lines(ctx context.Context, templateID string) ([]TemplateLine, error)
}

// StaticRoleDirectory resolves roles from a fixed map. Used in tests and
// single-tenant deployments without an identity collaborator.
type StaticRoleDirectory struct {
	mu    sync.RWMutex
	roles map[string]domain.Role
}

// NewStaticRoleDirectory constructs a directory from the given assignments.
func NewStaticRoleDirectory(roles map[string]domain.Role) *StaticRoleDirectory {
	cp := make(map[string]domain.Role, len(roles))
	for k, v := range roles {
		cp[k] = v
	}
	return &StaticRoleDirectory{roles: cp}
}

// Assign sets or replaces an actor's role.
func (d *StaticRoleDirectory) Assign(actorID string, role domain.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[actorID] = role
}

// RoleOf returns the actor's role.
func (d *StaticRoleDirectory) RoleOf(_ context.Context, actorID string) (domain.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	role, ok := d.roles[actorID]
	if !ok {
		return "", domain.NotFoundError{Entity: "actor", ID: actorID}
	}
	return role, nil
}

// StaticTemplateSource serves template snapshots from a fixed map.
type StaticTemplateSource struct {
	mu        sync.RWMutex
	templates map[string][]TemplateLine
}

// NewStaticTemplateSource constructs a source from the given templates.
func NewStaticTemplateSource(templates map[string][]TemplateLine) *StaticTemplateSource {
	cp := make(map[string][]TemplateLine, len(templates))
	for k, v := range templates {
		cp[k] = append([]TemplateLine(nil), v...)
	}
	return &StaticTemplateSource{templates: cp}
}

// Lines returns a copy of the template's lines.
func (s *StaticTemplateSource) Lines(_ context.Context, templateID string) ([]TemplateLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lines, ok := s.templates[templateID]
	if !ok {
		return nil, domain.NotFoundError{Entity: "qc_template", ID: templateID}
	}
	return append([]TemplateLine(nil), lines...), nil
}
