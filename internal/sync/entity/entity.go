// Package entity is the static dispatch table that drives generic device
// mutation handling and the change feed. Adding a syncable table means adding
// a Kind and a Spec here; nothing else switches on entity names.
package entity

import (
	"fmt"

	"crewcommand_backend/internal/domain"
)

// Kind identifies an entity type devices may mutate.
type Kind string

const (
	Lead             Kind = "lead"
	Job              Kind = "job"
	Client           Kind = "client"
	FollowupSequence Kind = "followup_sequence"
	CallLog          Kind = "call_log"
)

// ColumnKind controls how a payload value is validated and converted.
type ColumnKind int

const (
	Text ColumnKind = iota
	LongText
	Phone
	Email
	UUID
	Int
	Timestamp
	Enum
	Timezone
)

// Column describes one client-writable column.
type Column struct {
	Name     string
	Kind     ColumnKind
	MaxLen   int
	Required bool // must be present and non-null on insert
	Nullable bool
	Parse    func(string) error // Enum only
}

// Spec is the per-kind capability row.
type Spec struct {
	Kind            Kind
	Table           string
	Versioned       bool
	SoftDelete      bool
	Insertable      bool
	Updatable       bool
	TransitionField string   // the only field a status_transition may write
	GuardColumns    []string // current values loaded before guards run
	Columns         []Column
}

// Column looks up a writable column by name.
func (s Spec) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func enum[T ~string](parse func(string) (T, error)) func(string) error {
	return func(raw string) error {
		_, err := parse(raw)
		return err
	}
}

func parseDirection(raw string) (string, error) {
	if raw == "inbound" || raw == "outbound" {
		return raw, nil
	}
	return "", fmt.Errorf("invalid call direction %q", raw)
}

var specs = map[Kind]Spec{
	Lead: {
		Kind:            Lead,
		Table:           "leads",
		Versioned:       true,
		SoftDelete:      true,
		Insertable:      true,
		Updatable:       true,
		TransitionField: "status",
		GuardColumns:    []string{"status", "followup_state"},
		Columns: []Column{
			{Name: "client_id", Kind: UUID, Nullable: true},
			{Name: "client_name", Kind: Text, MaxLen: 200, Required: true},
			{Name: "job_type", Kind: Text, MaxLen: 120, Required: true},
			{Name: "phone_e164", Kind: Phone, Nullable: true},
			{Name: "email", Kind: Email, MaxLen: 320, Nullable: true},
			{Name: "address", Kind: Text, MaxLen: 500, Nullable: true},
			{Name: "notes", Kind: LongText, MaxLen: 5000, Nullable: true},
			{Name: "source", Kind: Text, MaxLen: 120, Nullable: true},
			{Name: "status", Kind: Enum, Parse: enum(domain.ParseLeadStatus)},
			{Name: "followup_state", Kind: Enum, Parse: enum(domain.ParseFollowupState)},
			{Name: "estimate_sent_at", Kind: Timestamp, Nullable: true},
		},
	},
	Job: {
		Kind:            Job,
		Table:           "jobs",
		Versioned:       true,
		SoftDelete:      true,
		Insertable:      true,
		Updatable:       true,
		TransitionField: "phase",
		GuardColumns:    []string{"phase"},
		Columns: []Column{
			{Name: "lead_id", Kind: UUID, Nullable: true},
			{Name: "client_id", Kind: UUID, Nullable: true},
			{Name: "title", Kind: Text, MaxLen: 200, Required: true},
			{Name: "address", Kind: Text, MaxLen: 500, Nullable: true},
			{Name: "notes", Kind: LongText, MaxLen: 5000, Nullable: true},
			{Name: "phase", Kind: Enum, Parse: enum(domain.ParseJobPhase)},
			{Name: "health_status", Kind: Enum, Parse: enum(domain.ParseHealthStatus)},
			{Name: "scheduled_start", Kind: Timestamp, Nullable: true},
		},
	},
	Client: {
		Kind:       Client,
		Table:      "clients",
		Versioned:  true,
		SoftDelete: true,
		Insertable: true,
		Updatable:  true,
		Columns: []Column{
			{Name: "full_name", Kind: Text, MaxLen: 200, Required: true},
			{Name: "phone_e164", Kind: Phone, Nullable: true},
			{Name: "email", Kind: Email, MaxLen: 320, Nullable: true},
			{Name: "address", Kind: Text, MaxLen: 500, Nullable: true},
			{Name: "notes", Kind: LongText, MaxLen: 5000, Nullable: true},
		},
	},
	FollowupSequence: {
		Kind:            FollowupSequence,
		Table:           "followup_sequences",
		Versioned:       true,
		Updatable:       true,
		TransitionField: "state",
		GuardColumns:    []string{"state"},
		Columns: []Column{
			{Name: "state", Kind: Enum, Parse: enum(domain.ParseSequenceState)},
			{Name: "timezone", Kind: Timezone, Nullable: true},
		},
	},
	CallLog: {
		Kind:       CallLog,
		Table:      "call_logs",
		Insertable: true,
		Columns: []Column{
			{Name: "lead_id", Kind: UUID, Nullable: true},
			{Name: "direction", Kind: Enum, Required: true, Parse: enum(parseDirection)},
			{Name: "phone_e164", Kind: Phone, Nullable: true},
			{Name: "duration_seconds", Kind: Int},
			{Name: "started_at", Kind: Timestamp, Required: true},
		},
	},
}

// Kinds lists every mutable kind in a stable order.
var Kinds = []Kind{Lead, Job, Client, FollowupSequence, CallLog}

// Lookup returns the spec for a raw entity name.
func Lookup(raw string) (Spec, bool) {
	spec, ok := specs[Kind(raw)]
	return spec, ok
}

// FeedKind is one table streamed by the change feed.
type FeedKind struct {
	Type         string
	Table        string
	TenantColumn string
	CursorColumn string
}

// FeedKinds lists the tables merged into the change feed.
var FeedKinds = []FeedKind{
	{Type: "lead", Table: "leads", TenantColumn: "organization_id", CursorColumn: "updated_at"},
	{Type: "job", Table: "jobs", TenantColumn: "organization_id", CursorColumn: "updated_at"},
	{Type: "client", Table: "clients", TenantColumn: "organization_id", CursorColumn: "updated_at"},
	{Type: "followup_sequence", Table: "followup_sequences", TenantColumn: "organization_id", CursorColumn: "updated_at"},
	{Type: "followup_message", Table: "followup_messages", TenantColumn: "organization_id", CursorColumn: "updated_at"},
	{Type: "call_log", Table: "call_logs", TenantColumn: "organization_id", CursorColumn: "created_at"},
	{Type: "message_template", Table: "message_templates", TenantColumn: "organization_id", CursorColumn: "updated_at"},
	{Type: "organization", Table: "organizations", TenantColumn: "id", CursorColumn: "updated_at"},
	{Type: "profile", Table: "profiles", TenantColumn: "organization_id", CursorColumn: "updated_at"},
}
