package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/sync/entity"
	"crewcommand_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new sync repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// DeviceRegistered reports whether the device belongs to the organization.
func (r *Repo) DeviceRegistered(ctx context.Context, organizationID, deviceID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM devices WHERE id = $1 AND organization_id = $2)`,
		deviceID, organizationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check device registration: %w", err)
	}
	return exists, nil
}

// WithMutation runs fn in its own read-committed transaction.
func (r *Repo) WithMutation(ctx context.Context, fn func(store MutationStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

var _ MutationStore = (*txStore)(nil)

func (s *txStore) ClaimMutation(ctx context.Context, e LedgerEntry) (bool, error) {
	query := `
		INSERT INTO sync_mutations (
			organization_id, device_id, client_mutation_id, entity_type, entity_id,
			mutation_type, base_version, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'applied')
		ON CONFLICT (organization_id, client_mutation_id) DO NOTHING`

	tag, err := s.tx.Exec(ctx, query,
		e.OrganizationID, e.DeviceID, e.ClientMutationID, e.EntityType, e.EntityID,
		e.MutationType, e.BaseVersion,
	)
	if err != nil {
		return false, fmt.Errorf("claim mutation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *txStore) MarkConflict(ctx context.Context, organizationID, clientMutationID uuid.UUID, reason string) error {
	_, err := s.tx.Exec(ctx, `
		UPDATE sync_mutations
		SET status = 'conflict', conflict_reason = $3
		WHERE organization_id = $1 AND client_mutation_id = $2`,
		organizationID, clientMutationID, reason,
	)
	if err != nil {
		return fmt.Errorf("mark mutation conflict: %w", err)
	}
	return nil
}

func (s *txStore) LockEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID) (Snapshot, error) {
	selectList := []string{"0"}
	if spec.Versioned {
		selectList[0] = "version"
	}
	for _, col := range spec.GuardColumns {
		selectList = append(selectList, col+"::text")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE id = $1 AND organization_id = $2%s FOR UPDATE`,
		strings.Join(selectList, ", "), spec.Table, liveFilter(spec),
	)

	var version int32
	guards := make([]*string, len(spec.GuardColumns))
	dest := make([]interface{}, 0, len(selectList))
	dest = append(dest, &version)
	for i := range guards {
		dest = append(dest, &guards[i])
	}

	if err := s.tx.QueryRow(ctx, query, id, organizationID).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrEntityNotFound
		}
		return Snapshot{}, fmt.Errorf("lock %s: %w", spec.Kind, err)
	}

	snap := Snapshot{Version: int(version), Guards: make(map[string]string, len(guards))}
	for i, col := range spec.GuardColumns {
		if guards[i] != nil {
			snap.Guards[col] = *guards[i]
		}
	}
	return snap, nil
}

func (s *txStore) InsertEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID, values entity.Values) error {
	names := values.Names()
	columns := append([]string{"id", "organization_id"}, names...)
	args := make([]interface{}, 0, len(columns))
	args = append(args, id, organizationID)
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	for _, name := range names {
		args = append(args, values[name])
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		spec.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	err := s.savepoint(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, args...)
		return err
	})
	if !errors.Is(err, ErrDuplicateEntity) {
		return err
	}

	// Ids are unique across organizations; only admit the duplicate when the
	// row is the caller's own.
	var owned bool
	if err := s.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1 AND organization_id = $2)`, spec.Table),
		id, organizationID,
	).Scan(&owned); err != nil {
		return fmt.Errorf("check %s id owner: %w", spec.Kind, err)
	}
	if !owned {
		return ErrEntityIDUnavailable
	}
	return ErrDuplicateEntity
}

func (s *txStore) UpdateEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID, version int, values entity.Values) (bool, error) {
	names := values.Names()
	sets := make([]string, 0, len(names)+2)
	args := []interface{}{id, organizationID}
	for _, name := range names {
		args = append(args, values[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	sets = append(sets, "updated_at = now()")

	where := "id = $1 AND organization_id = $2" + liveFilter(spec)
	if spec.Versioned {
		sets = append(sets, "version = version + 1")
		args = append(args, version)
		where += fmt.Sprintf(" AND version = $%d", len(args))
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`, spec.Table, strings.Join(sets, ", "), where)

	var affected int64
	err := s.savepoint(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *txStore) SoftDeleteEntity(ctx context.Context, spec entity.Spec, organizationID, id uuid.UUID, version int) (bool, error) {
	if !spec.SoftDelete {
		return false, fmt.Errorf("soft delete %s: not supported", spec.Kind)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET deleted_at = now(), updated_at = now(), version = version + 1
		WHERE id = $1 AND organization_id = $2 AND version = $3 AND deleted_at IS NULL`, spec.Table)

	tag, err := s.tx.Exec(ctx, query, id, organizationID, version)
	if err != nil {
		return false, fmt.Errorf("soft delete %s: %w", spec.Kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *txStore) ApplySequenceState(ctx context.Context, organizationID, sequenceID uuid.UUID, state domain.FollowupState) error {
	if state.EndsSequence() {
		_, err := s.tx.Exec(ctx, `
			UPDATE followup_messages
			SET status = 'canceled', error_message = $3, lease_expires_at = NULL, updated_at = now()
			WHERE sequence_id = $1 AND organization_id = $2 AND status = 'queued'`,
			sequenceID, organizationID, "sequence "+string(state),
		)
		if err != nil {
			return fmt.Errorf("cancel queued followup messages: %w", err)
		}
	}

	_, err := s.tx.Exec(ctx, `
		UPDATE followup_sequences s
		SET paused_at = CASE WHEN $3::text = 'paused' THEN COALESCE(s.paused_at, now()) ELSE s.paused_at END,
			stopped_at = CASE WHEN $3::text = 'stopped' THEN COALESCE(s.stopped_at, now()) ELSE s.stopped_at END,
			completed_at = CASE WHEN $3::text = 'completed' THEN COALESCE(s.completed_at, now()) ELSE s.completed_at END,
			next_send_at = CASE WHEN $3::text = 'active' THEN (
				SELECT min(m.scheduled_at) FROM followup_messages m
				WHERE m.sequence_id = s.id AND m.status = 'queued'
			) ELSE NULL END
		WHERE s.id = $1 AND s.organization_id = $2`,
		sequenceID, organizationID, string(state),
	)
	if err != nil {
		return fmt.Errorf("apply sequence state: %w", err)
	}
	return nil
}

// savepoint runs fn in a nested transaction so a constraint violation can be
// reported as a conflict without aborting the outer transaction.
func (s *txStore) savepoint(ctx context.Context, fn func(tx pgx.Tx) error) error {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return mapConstraintError(err)
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return ErrDuplicateEntity
	case "23503":
		return ErrInvalidReference
	case "23502", "23514", "22001", "22P02", "22007", "22008":
		return ErrInvalidValue
	default:
		return fmt.Errorf("write entity: %w", err)
	}
}

func liveFilter(spec entity.Spec) string {
	if spec.SoftDelete {
		return " AND deleted_at IS NULL"
	}
	return ""
}

// FeedPage returns up to limit rows of one table strictly after cursor in the
// (cursor column, id, entity type) order.
func (r *Repo) FeedPage(ctx context.Context, kind entity.FeedKind, organizationID uuid.UUID, cursor FeedCursor, limit int) ([]FeedRow, error) {
	query := fmt.Sprintf(`
		SELECT t.id, t.%[3]s, to_jsonb(t)
		FROM %[1]s t
		WHERE t.%[2]s = $1
			AND (
				$2::timestamptz IS NULL
				OR t.%[3]s > $2
				OR ($3::boolean AND t.%[3]s = $2 AND (t.id > $4 OR (t.id = $4 AND $5::boolean)))
			)
		ORDER BY t.%[3]s, t.id
		LIMIT $6`, kind.Table, kind.TenantColumn, kind.CursorColumn)

	typeAfter := cursor.Composite && kind.Type > cursor.EntityType

	rows, err := r.pool.Query(ctx, query,
		organizationID, cursor.At, cursor.Composite, cursor.EntityID, typeAfter, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", kind.Type, err)
	}
	defer rows.Close()

	result := make([]FeedRow, 0, limit)
	for rows.Next() {
		row := FeedRow{EntityType: kind.Type}
		var data []byte
		if err := rows.Scan(&row.EntityID, &row.CursorAt, &data); err != nil {
			return nil, fmt.Errorf("scan feed %s: %w", kind.Type, err)
		}
		row.Data = data
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed %s: %w", kind.Type, err)
	}
	return result, nil
}
