package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/sync/entity"
	"crewcommand_backend/internal/sync/repository"
	"crewcommand_backend/internal/sync/transport"
	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/logger"

	"github.com/google/uuid"
)

// Mutation kinds accepted from devices.
const (
	MutationInsert           = "insert"
	MutationUpdate           = "update"
	MutationDelete           = "delete"
	MutationStatusTransition = "status_transition"
)

type mutation struct {
	clientID    uuid.UUID
	spec        entity.Spec
	kind        string
	entityID    *uuid.UUID
	baseVersion *int
	payload     map[string]interface{}
}

func (m mutation) entityIDString() *string {
	if m.entityID == nil {
		return nil
	}
	s := m.entityID.String()
	return &s
}

// Push applies a batch of device mutations in order. Each mutation commits on
// its own; a conflict never aborts the batch. An infrastructure error stops the
// batch and is returned, leaving earlier mutations committed.
func (s *Service) Push(ctx context.Context, actor Actor, req transport.PushRequest) (transport.PushResponse, error) {
	deviceID, err := uuid.Parse(req.DeviceID)
	if err != nil {
		return transport.PushResponse{}, apperr.Validation("device_id: must be a valid UUID")
	}
	if len(req.Mutations) > transport.MaxMutationsPerPush {
		return transport.PushResponse{}, apperr.Validation(fmt.Sprintf("mutations: must contain at most %d items", transport.MaxMutationsPerPush))
	}

	batch, err := prepareBatch(req.Mutations)
	if err != nil {
		return transport.PushResponse{}, err
	}
	if err := s.requireDevice(ctx, actor.TenantID, deviceID); err != nil {
		return transport.PushResponse{}, err
	}

	resp := transport.PushResponse{
		OrganizationID:    actor.TenantID.String(),
		ReceivedMutations: len(batch),
		Applied:           make([]string, 0, len(batch)),
		Conflicts:         []transport.Conflict{},
	}

	ctx = logger.ContextWithDevice(logger.ContextWithTenant(ctx, actor.TenantID.String()), deviceID.String())
	log := s.log.WithContext(ctx)
	for _, m := range batch {
		if err := ctx.Err(); err != nil {
			return resp, err
		}

		reason, err := s.apply(ctx, actor, deviceID, m)
		if err != nil {
			return resp, fmt.Errorf("apply mutation %s: %w", m.clientID, err)
		}

		if reason == "" {
			resp.Applied = append(resp.Applied, m.clientID.String())
			s.metrics.RecordMutation(string(m.spec.Kind), "applied")
			continue
		}

		resp.Conflicts = append(resp.Conflicts, transport.Conflict{
			ClientMutationID: m.clientID.String(),
			EntityType:       string(m.spec.Kind),
			EntityID:         m.entityIDString(),
			Reason:           reason,
		})
		s.metrics.RecordMutation(string(m.spec.Kind), "conflict")
		log.MutationConflict(m.clientID.String(), string(m.spec.Kind), reason)
	}

	resp.ServerCursor = s.now().UTC().Format(time.RFC3339Nano)
	return resp, nil
}

// prepareBatch parses identifiers and payloads up front so a malformed request
// is rejected before anything is written.
func prepareBatch(reqs []transport.MutationRequest) ([]mutation, error) {
	batch := make([]mutation, 0, len(reqs))
	for i, r := range reqs {
		clientID, err := uuid.Parse(r.ClientMutationID)
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("mutations[%d].client_mutation_id: must be a valid UUID", i))
		}
		spec, ok := entity.Lookup(r.Entity)
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("mutations[%d].entity: unsupported entity %q", i, r.Entity))
		}

		m := mutation{
			clientID:    clientID,
			spec:        spec,
			kind:        r.Type,
			baseVersion: r.BaseVersion,
		}
		if r.EntityID != nil {
			id, err := uuid.Parse(*r.EntityID)
			if err != nil {
				return nil, apperr.Validation(fmt.Sprintf("mutations[%d].entity_id: must be a valid UUID", i))
			}
			m.entityID = &id
		}

		payload, err := entity.Decode(r.Payload)
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("mutations[%d].payload: must be a JSON object", i))
		}
		m.payload = payload

		switch m.kind {
		case MutationInsert:
			if m.entityID == nil {
				id := uuid.New()
				m.entityID = &id
			}
		case MutationUpdate, MutationDelete, MutationStatusTransition:
		default:
			return nil, apperr.Validation(fmt.Sprintf("mutations[%d].type: unsupported mutation type %q", i, r.Type))
		}

		batch = append(batch, m)
	}
	return batch, nil
}

// apply runs one mutation in its own transaction and returns its conflict
// reason, or "" when it was applied or had already been seen.
func (s *Service) apply(ctx context.Context, actor Actor, deviceID uuid.UUID, m mutation) (string, error) {
	entry := repository.LedgerEntry{
		OrganizationID:   actor.TenantID,
		DeviceID:         deviceID,
		ClientMutationID: m.clientID,
		EntityType:       string(m.spec.Kind),
		EntityID:         m.entityID,
		MutationType:     m.kind,
		BaseVersion:      m.baseVersion,
	}

	var reason string
	err := s.repo.WithMutation(ctx, func(store repository.MutationStore) error {
		claimed, err := store.ClaimMutation(ctx, entry)
		if err != nil {
			return err
		}
		if !claimed {
			// Already recorded: report applied without reprocessing.
			return nil
		}

		reason, err = s.resolve(ctx, store, actor, deviceID, m)
		if err != nil {
			return err
		}
		if reason != "" {
			return store.MarkConflict(ctx, actor.TenantID, m.clientID, reason)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return reason, nil
}

func (s *Service) resolve(ctx context.Context, store repository.MutationStore, actor Actor, deviceID uuid.UUID, m mutation) (string, error) {
	spec := m.spec

	switch m.kind {
	case MutationInsert:
		if !spec.Insertable {
			return ReasonInsertNotSupported, nil
		}
		return s.insert(ctx, store, actor, deviceID, m)
	case MutationDelete:
		if !spec.SoftDelete {
			return ReasonDeleteNotSupported, nil
		}
	case MutationStatusTransition:
		if spec.TransitionField == "" {
			return ReasonTransitionNotSupported, nil
		}
	case MutationUpdate:
		if !spec.Updatable {
			return ReasonUpdateNotSupported, nil
		}
	}

	if m.entityID == nil {
		return ReasonMissingEntityID, nil
	}

	current, err := store.LockEntity(ctx, spec, actor.TenantID, *m.entityID)
	if errors.Is(err, repository.ErrEntityNotFound) {
		return ReasonNotFound, nil
	}
	if err != nil {
		return "", err
	}

	if spec.Versioned && m.baseVersion != nil && current.Version > *m.baseVersion {
		return ReasonVersionMismatch, nil
	}

	if m.kind == MutationDelete {
		ok, err := store.SoftDeleteEntity(ctx, spec, actor.TenantID, *m.entityID, current.Version)
		if err != nil {
			return "", err
		}
		if !ok {
			return ReasonVersionMismatch, nil
		}
		return "", nil
	}

	mode := entity.ModeUpdate
	if m.kind == MutationStatusTransition {
		mode = entity.ModeTransition
	}
	values, err := s.conv.Convert(spec, m.payload, mode)
	if err != nil {
		return ReasonInvalidPayload, nil
	}

	if reason := checkGuards(spec, current, values); reason != "" {
		return reason, nil
	}

	ok, err := store.UpdateEntity(ctx, spec, actor.TenantID, *m.entityID, current.Version, values)
	if reason := constraintReason(err); reason != "" {
		return reason, nil
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return ReasonVersionMismatch, nil
	}

	if spec.Kind == entity.FollowupSequence {
		if next, changed := values.String("state"); changed {
			state := domain.FollowupState(next)
			if err := store.ApplySequenceState(ctx, actor.TenantID, *m.entityID, state); err != nil {
				return "", err
			}
		}
	}
	return "", nil
}

func (s *Service) insert(ctx context.Context, store repository.MutationStore, actor Actor, deviceID uuid.UUID, m mutation) (string, error) {
	values, err := s.conv.Convert(m.spec, m.payload, entity.ModeInsert)
	if err != nil {
		return ReasonInvalidPayload, nil
	}

	switch m.spec.Kind {
	case entity.Lead:
		values["created_by_profile_id"] = actor.ProfileID
	case entity.CallLog:
		values["device_id"] = deviceID
	}

	err = store.InsertEntity(ctx, m.spec, actor.TenantID, *m.entityID, values)
	if reason := constraintReason(err); reason != "" {
		return reason, nil
	}
	if err != nil {
		return "", err
	}
	return "", nil
}

func constraintReason(err error) string {
	switch {
	case errors.Is(err, repository.ErrDuplicateEntity):
		return ReasonDuplicateEntity
	case errors.Is(err, repository.ErrInvalidReference):
		return ReasonInvalidReference
	case errors.Is(err, repository.ErrInvalidValue), errors.Is(err, repository.ErrEntityIDUnavailable):
		return ReasonInvalidPayload
	default:
		return ""
	}
}
