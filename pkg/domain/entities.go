// Package domain defines the persistent entities, status enumerations, rule
// evaluation primitives, and persistence contracts of the batch lifecycle
// engine.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityBatch identifies a production batch record.
	EntityBatch EntityType = "batch"
	// EntityOrder identifies a customer order fulfilled by a batch.
	EntityOrder EntityType = "order"
	// EntityBatchEvent identifies an append-only batch event record.
	EntityBatchEvent EntityType = "batch_event"
	// EntityBatchRelease identifies a signed release decision record.
	EntityBatchRelease EntityType = "batch_release"
	// EntityQcSession identifies a quality-control session record.
	EntityQcSession EntityType = "qc_session"
	// EntityQcResult identifies a single quality-control test line.
	EntityQcResult EntityType = "qc_result"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Batch represents one discrete manufacturing run of a product.
//
// Status never changes by direct field write outside the guarded transition
// operation; persistence implementations bump Version on every update so the
// lifecycle service can detect concurrent writers.
type Batch struct {
	Base
	BatchNumber    string      `json:"batch_number"`
	ProductID      string      `json:"product_id"`
	EquipmentID    string      `json:"equipment_id"`
	Status         BatchStatus `json:"status"`
	PlannedStart   *time.Time  `json:"planned_start"`
	PlannedEnd     *time.Time  `json:"planned_end"`
	ActualStart    *time.Time  `json:"actual_start"`
	ActualEnd      *time.Time  `json:"actual_end"`
	TargetQuantity float64     `json:"target_quantity"`
	ActualQuantity *float64    `json:"actual_quantity"`
	QuantityUnit   string      `json:"quantity_unit"`
	OrderIDs       []string    `json:"order_ids"`
	ReleasedAt     *time.Time  `json:"released_at"`
	Archived       bool        `json:"archived"`
	Version        int         `json:"version"`
}

// Order is a dependent customer order record whose status cascades from the
// batch fulfilling it.
type Order struct {
	Base
	OrderNumber string      `json:"order_number"`
	CustomerID  string      `json:"customer_id"`
	Status      OrderStatus `json:"status"`
	BatchID     *string     `json:"batch_id"`
}

// EventType classifies batch event records.
type EventType string

// Batch event types. StatusChanged events always carry both FromStatus and
// ToStatus; checkpoint events may leave either nil.
const (
	EventStatusChanged      EventType = "status_changed"
	EventBatchCreated       EventType = "batch_created"
	EventOrderAttached      EventType = "order_attached"
	EventQcSessionGenerated EventType = "qc_session_generated"
	EventBatchArchived      EventType = "batch_archived"
)

// BatchEvent is an append-only log entry recording a checkpoint in a batch's
// life. Events are immutable once written; only the lifecycle service creates
// them.
type BatchEvent struct {
	Base
	BatchID    string         `json:"batch_id"`
	Type       EventType      `json:"type"`
	FromStatus *BatchStatus   `json:"from_status"`
	ToStatus   *BatchStatus   `json:"to_status"`
	ActorID    string         `json:"actor_id"`
	ActorName  string         `json:"actor_name"`
	ActorRole  Role           `json:"actor_role"`
	Note       string         `json:"note"`
	Metadata   map[string]any `json:"metadata"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// ReleaseType classifies a release decision.
type ReleaseType string

// Supported release types.
const (
	ReleaseFull        ReleaseType = "full"
	ReleasePartial     ReleaseType = "partial"
	ReleaseConditional ReleaseType = "conditional"
)

// BatchRelease records one signed release decision. At most one active
// release may exist per batch and release type, and creation requires the
// batch to be at StatusQcPassed at the instant of creation.
type BatchRelease struct {
	Base
	BatchID        string      `json:"batch_id"`
	ReleasedBy     string      `json:"released_by"`
	Type           ReleaseType `json:"type"`
	SignatureToken string      `json:"signature_token"`
	SignedAt       time.Time   `json:"signed_at"`
	Reason         string      `json:"reason"`
	Active         bool        `json:"active"`
}

// QcSession is the one-to-one quality-control companion of a batch. Its
// aggregate status is derived from child results via AggregateSession and is
// never set independently, except for the reviewer-held WaitingReview state.
type QcSession struct {
	Base
	BatchID     string          `json:"batch_id"`
	TemplateID  string          `json:"template_id"`
	Status      QcSessionStatus `json:"status"`
	AnalystID   *string         `json:"analyst_id"`
	ReviewerID  *string         `json:"reviewer_id"`
	CompletedAt *time.Time      `json:"completed_at"`
	ReviewedAt  *time.Time      `json:"reviewed_at"`
}

// QcResult is one test line copied from a template at session generation
// time. Spec bounds are snapshotted so later template edits never change an
// in-flight session. The cached Status must always equal what re-evaluation
// via EvaluateResult would produce, except for lines closed by a recorded
// manual judgment.
type QcResult struct {
	Base
	SessionID  string       `json:"session_id"`
	LineNo     int          `json:"line_no"`
	Name       string       `json:"name"`
	ResultType ResultType   `json:"result_type"`
	RuleType   SpecRuleType `json:"rule_type"`
	SpecMin    *float64     `json:"spec_min"`
	SpecMax    *float64     `json:"spec_max"`
	SpecTarget *float64     `json:"spec_target"`
	Options    []string     `json:"options"`
	Required   bool         `json:"required"`

	EnteredNumeric  *float64 `json:"entered_numeric"`
	EnteredText     *string  `json:"entered_text"`
	EnteredPassFail *bool    `json:"entered_pass_fail"`
	SelectedOption  *string  `json:"selected_option"`

	Status     QcResultStatus `json:"status"`
	FailReason string         `json:"fail_reason"`
	ManualNote string         `json:"manual_note"`
	EnteredBy  *string        `json:"entered_by"`
	EnteredAt  *time.Time     `json:"entered_at"`
}

// Entered reports the populated entered-value fields as an EnteredValue.
func (r QcResult) Entered() EnteredValue {
	return EnteredValue{
		Numeric:  r.EnteredNumeric,
		Text:     r.EnteredText,
		PassFail: r.EnteredPassFail,
		Option:   r.SelectedOption,
	}
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured for rule evaluation and audit trails.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	if len(e.Result.Violations) == 1 {
		v := e.Result.Violations[0]
		return fmt.Sprintf("transaction blocked by rule %s: %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("transaction blocked by %d rule violations", len(e.Result.Violations))
}
