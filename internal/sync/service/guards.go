package service

import (
	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/sync/entity"
	"crewcommand_backend/internal/sync/repository"
)

// Conflict reasons reported per mutation.
const (
	ReasonMissingEntityID        = "missing_entity_id"
	ReasonNotFound               = "not_found"
	ReasonVersionMismatch        = "version_mismatch"
	ReasonInvalidPayload         = "invalid_payload"
	ReasonInsertNotSupported     = "insert_not_supported"
	ReasonUpdateNotSupported     = "update_not_supported"
	ReasonDeleteNotSupported     = "delete_not_supported"
	ReasonTransitionNotSupported = "status_transition_not_supported"
	ReasonInvalidPhaseTransition = "invalid_phase_transition"
	ReasonTerminalStatusRevert   = "terminal_status_revert"
	ReasonFollowupStateDowngrade = "followup_state_downgrade"
	ReasonDuplicateEntity        = "duplicate_entity"
	ReasonInvalidReference       = "invalid_reference"
)

// checkGuards returns the conflict reason for a patch that would break an
// entity's state machine, or "".
func checkGuards(spec entity.Spec, current repository.Snapshot, values entity.Values) string {
	switch spec.Kind {
	case entity.Job:
		if next, ok := values.String("phase"); ok {
			if !domain.IsAdjacentTransition(domain.JobPhase(current.Guards["phase"]), domain.JobPhase(next)) {
				return ReasonInvalidPhaseTransition
			}
		}
	case entity.Lead:
		if next, ok := values.String("status"); ok {
			if domain.IsTerminalRevert(domain.LeadStatus(current.Guards["status"]), domain.LeadStatus(next)) {
				return ReasonTerminalStatusRevert
			}
		}
		if next, ok := values.String("followup_state"); ok {
			if domain.IsDowngrade(domain.FollowupState(current.Guards["followup_state"]), domain.FollowupState(next)) {
				return ReasonFollowupStateDowngrade
			}
		}
	case entity.FollowupSequence:
		if next, ok := values.String("state"); ok {
			if domain.IsDowngrade(domain.FollowupState(current.Guards["state"]), domain.FollowupState(next)) {
				return ReasonFollowupStateDowngrade
			}
		}
	}
	return ""
}
