// Package domain holds the closed enums and state-machine rules shared by
// sync ingest, the follow-up orchestrator and the dispatcher.
package domain

import "fmt"

// LeadStatus is the sales pipeline status of a lead.
type LeadStatus string

const (
	LeadStatusNew          LeadStatus = "new"
	LeadStatusCallback     LeadStatus = "callback"
	LeadStatusEstimateSent LeadStatus = "estimate_sent"
	LeadStatusWon          LeadStatus = "won"
	LeadStatusCold         LeadStatus = "cold"
)

// LeadStatuses lists every valid lead status.
var LeadStatuses = []LeadStatus{
	LeadStatusNew,
	LeadStatusCallback,
	LeadStatusEstimateSent,
	LeadStatusWon,
	LeadStatusCold,
}

// ParseLeadStatus validates a raw status value.
func ParseLeadStatus(raw string) (LeadStatus, error) {
	for _, s := range LeadStatuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid lead status %q", raw)
}

// IsTerminal reports whether the lead has left the active pipeline.
func (s LeadStatus) IsTerminal() bool {
	return s == LeadStatusWon || s == LeadStatusCold
}

// IsEarly reports whether the status precedes a terminal outcome.
func (s LeadStatus) IsEarly() bool {
	switch s {
	case LeadStatusNew, LeadStatusCallback, LeadStatusEstimateSent:
		return true
	default:
		return false
	}
}

// IsTerminalRevert reports whether moving from -> to would pull a closed lead
// back into the pipeline.
func IsTerminalRevert(from, to LeadStatus) bool {
	return from.IsTerminal() && to.IsEarly()
}

// FollowupState is the automation state of a lead or its follow-up sequence.
// States only move forward along their priority order.
type FollowupState string

const (
	FollowupNone      FollowupState = "none"
	FollowupActive    FollowupState = "active"
	FollowupPaused    FollowupState = "paused"
	FollowupStopped   FollowupState = "stopped"
	FollowupCompleted FollowupState = "completed"
)

// FollowupStates lists every state in priority order.
var FollowupStates = []FollowupState{
	FollowupNone,
	FollowupActive,
	FollowupPaused,
	FollowupStopped,
	FollowupCompleted,
}

// ParseFollowupState validates a raw state value.
func ParseFollowupState(raw string) (FollowupState, error) {
	for _, s := range FollowupStates {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid followup state %q", raw)
}

// ParseSequenceState validates a follow-up sequence state (none is not allowed).
func ParseSequenceState(raw string) (FollowupState, error) {
	s, err := ParseFollowupState(raw)
	if err != nil {
		return "", err
	}
	if s == FollowupNone {
		return "", fmt.Errorf("invalid sequence state %q", raw)
	}
	return s, nil
}

// Priority returns the position of s in the total order
// none < active < paused < stopped < completed. Unknown states return -1.
func (s FollowupState) Priority() int {
	switch s {
	case FollowupNone:
		return 0
	case FollowupActive:
		return 1
	case FollowupPaused:
		return 2
	case FollowupStopped:
		return 3
	case FollowupCompleted:
		return 4
	default:
		return -1
	}
}

// IsDowngrade reports whether to would move the state backwards.
func IsDowngrade(from, to FollowupState) bool {
	return to.Priority() < from.Priority()
}

// EndsSequence reports whether the state cancels remaining queued messages.
func (s FollowupState) EndsSequence() bool {
	return s == FollowupStopped || s == FollowupCompleted
}
