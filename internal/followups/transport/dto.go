package transport

import "time"

// EstimateSentRequest marks a lead's estimate as sent.
type EstimateSentRequest struct {
	LeadID         string `json:"lead_id" validate:"required,uuid"`
	EstimateSentAt string `json:"estimate_sent_at,omitempty" validate:"omitempty,max=64"`
	TriggerSource  string `json:"trigger_source,omitempty" validate:"omitempty,oneof=manual sent_from_another_tool"`
}

// EstimateSentResponse reports the accepted transition and the sequence it
// scheduled.
type EstimateSentResponse struct {
	LeadID         string     `json:"lead_id"`
	OrganizationID string     `json:"organization_id"`
	SequenceID     string     `json:"sequence_id"`
	EstimateSentAt time.Time  `json:"estimate_sent_at"`
	NextSendAt     *time.Time `json:"next_send_at"`
	Accepted       bool       `json:"accepted"`
}

// DispatchStats are the per-run counters of the dispatcher.
// processed_count is sent + retried + failed.
type DispatchStats struct {
	DueCount       int `json:"due_count"`
	ProcessedCount int `json:"processed_count"`
	SentCount      int `json:"sent_count"`
	RetriedCount   int `json:"retried_count"`
	FailedCount    int `json:"failed_count"`
	DeferredCount  int `json:"deferred_count"`
	SkippedCount   int `json:"skipped_count"`
	ErroredCount   int `json:"errored_count"`
}
