package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/sync/entity"

	"github.com/google/uuid"
)

// Constraint outcomes reported by entity writes. They map onto per-mutation
// conflict reasons rather than request failures.
var (
	ErrEntityNotFound   = errors.New("entity not found")
	ErrDuplicateEntity  = errors.New("entity already exists")
	ErrInvalidReference = errors.New("referenced entity does not exist")
	ErrInvalidValue     = errors.New("value rejected by constraint")

	// ErrEntityIDUnavailable means a client-chosen id is taken outside the
	// caller's organization. It must not be reported as a duplicate.
	ErrEntityIDUnavailable = errors.New("entity id is not available")
)

// LedgerEntry is the write-once record of a device mutation.
type LedgerEntry struct {
	OrganizationID   uuid.UUID
	DeviceID         uuid.UUID
	ClientMutationID uuid.UUID
	EntityType       string
	EntityID         *uuid.UUID
	MutationType     string
	BaseVersion      *int
}

// Snapshot is the locked current state of an entity.
type Snapshot struct {
	Version int
	Guards  map[string]string
}

// FeedCursor is the decoded high-water mark of a pull.
// When Composite is false only At is used, with a strict > comparison.
type FeedCursor struct {
	At         *time.Time
	Composite  bool
	EntityType string
	EntityID   uuid.UUID
}

// FeedRow is one serialized row for the change feed.
type FeedRow struct {
	EntityType string
	EntityID   uuid.UUID
	CursorAt   time.Time
	Data       json.RawMessage
}

// MutationStore holds the statements that run inside one mutation's transaction.
type MutationStore interface {
	// ClaimMutation inserts the ledger row. It returns false when the
	// mutation id was already recorded for the tenant.
	ClaimMutation(ctx context.Context, entry LedgerEntry) (bool, error)
	MarkConflict(ctx context.Context, organizationID, clientMutationID uuid.UUID, reason string) error
	LockEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID) (Snapshot, error)
	InsertEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID, values entity.Values) error
	UpdateEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID, version int, values entity.Values) (bool, error)
	SoftDeleteEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID, version int) (bool, error)
	ApplySequenceState(ctx context.Context, organizationID, sequenceID uuid.UUID, state domain.FollowupState) error
}

// Repository is the persistence boundary of device sync.
type Repository interface {
	DeviceRegistered(ctx context.Context, organizationID, deviceID uuid.UUID) (bool, error)
	// WithMutation runs fn in a transaction that commits when fn returns nil.
	WithMutation(ctx context.Context, fn func(store MutationStore) error) error
	FeedPage(ctx context.Context, kind entity.FeedKind, organizationID uuid.UUID, cursor FeedCursor, limit int) ([]FeedRow, error)
}
