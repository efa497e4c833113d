package transport

import "encoding/json"

// MaxMutationsPerPush bounds one push batch.
const MaxMutationsPerPush = 500

// Feed page size bounds.
const (
	DefaultPullLimit = 200
	MaxPullLimit     = 500
)

// MutationRequest is one offline write queued by a device.
type MutationRequest struct {
	ClientMutationID string          `json:"client_mutation_id" validate:"required,uuid"`
	Entity           string          `json:"entity" validate:"required,oneof=lead job client followup_sequence call_log"`
	EntityID         *string         `json:"entity_id,omitempty" validate:"omitempty,uuid"`
	Type             string          `json:"type" validate:"required,oneof=insert update delete status_transition"`
	BaseVersion      *int            `json:"base_version,omitempty" validate:"omitempty,min=1"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	DeviceID  string            `json:"device_id" validate:"required,uuid"`
	Cursor    *string           `json:"cursor,omitempty" validate:"omitempty,max=512"`
	Mutations []MutationRequest `json:"mutations" validate:"required,max=500,dive"`
}

// Conflict reports a rejected mutation.
type Conflict struct {
	ClientMutationID string  `json:"client_mutation_id"`
	EntityType       string  `json:"entity_type"`
	EntityID         *string `json:"entity_id"`
	Reason           string  `json:"reason"`
}

// PushResponse summarizes a processed batch.
type PushResponse struct {
	OrganizationID    string     `json:"organization_id"`
	ReceivedMutations int        `json:"received_mutations"`
	Applied           []string   `json:"applied"`
	Conflicts         []Conflict `json:"conflicts"`
	ServerCursor      string     `json:"server_cursor"`
}

// PullRequest holds the query parameters of GET /sync/pull.
type PullRequest struct {
	Cursor   string `form:"cursor" validate:"omitempty,max=512"`
	Limit    *int   `form:"limit" validate:"omitempty,min=1,max=500"`
	DeviceID string `form:"device_id" validate:"omitempty,uuid"`
}

// Change is one row of the change feed.
type Change struct {
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Data       json.RawMessage `json:"data"`
	Cursor     string          `json:"cursor"`
}

// PullResponse is one page of the change feed.
type PullResponse struct {
	OrganizationID  string   `json:"organization_id"`
	RequestedCursor *string  `json:"requested_cursor"`
	NextCursor      *string  `json:"next_cursor"`
	Limit           int      `json:"limit"`
	Changes         []Change `json:"changes"`
	HasMore         bool     `json:"has_more"`
}
