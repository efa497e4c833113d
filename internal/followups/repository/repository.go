package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements OrchestratorStore and DispatchStore with PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new follow-ups repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ OrchestratorStore = (*Repository)(nil)
	_ DispatchStore     = (*Repository)(nil)
)

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// refreshNextSendAtSQL sets next_send_at to the earliest queued message of an
// active sequence (NULL otherwise) and only writes rows whose value changes.
const refreshNextSendAtSQL = `
	UPDATE followup_sequences s
	SET next_send_at = n.next_send_at, updated_at = now()
	FROM (
		SELECT s2.id,
			CASE WHEN s2.state = 'active' THEN (
				SELECT min(m.scheduled_at) FROM followup_messages m
				WHERE m.sequence_id = s2.id AND m.status = 'queued'
			) END AS next_send_at
		FROM followup_sequences s2
		WHERE s2.id = ANY($1)
	) n
	WHERE s.id = n.id AND s.next_send_at IS DISTINCT FROM n.next_send_at`

func refreshNextSendAt(ctx context.Context, q Execer, sequenceIDs []uuid.UUID) error {
	if len(sequenceIDs) == 0 {
		return nil
	}
	if _, err := q.Exec(ctx, refreshNextSendAtSQL, sequenceIDs); err != nil {
		return fmt.Errorf("refresh next_send_at: %w", err)
	}
	return nil
}

// GetLeadState loads the live lead within the organization.
func (r *Repository) GetLeadState(ctx context.Context, organizationID, leadID uuid.UUID) (LeadState, error) {
	var (
		state         LeadState
		status        string
		followupState string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, status, followup_state, version
		FROM leads
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		leadID, organizationID,
	).Scan(&state.ID, &state.OrganizationID, &status, &followupState, &state.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadState{}, ErrLeadNotFound
	}
	if err != nil {
		return LeadState{}, fmt.Errorf("get lead state: %w", err)
	}
	state.Status = domain.LeadStatus(status)
	state.FollowupState = domain.FollowupState(followupState)
	return state, nil
}

// MarkEstimateSent moves the lead to estimate_sent with active follow-ups.
func (r *Repository) MarkEstimateSent(ctx context.Context, organizationID, leadID uuid.UUID, version int, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET status = 'estimate_sent',
			followup_state = 'active',
			estimate_sent_at = $4,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND version = $3 AND deleted_at IS NULL`,
		leadID, organizationID, version, at,
	)
	if err != nil {
		return false, fmt.Errorf("mark estimate sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResolveTimezones returns the sequence and organization zones.
func (r *Repository) ResolveTimezones(ctx context.Context, organizationID, leadID uuid.UUID) (string, string, error) {
	var sequenceTZ, organizationTZ string
	err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT timezone FROM followup_sequences WHERE lead_id = $2 AND organization_id = $1), ''),
			COALESCE((SELECT timezone FROM organizations WHERE id = $1), '')`,
		organizationID, leadID,
	).Scan(&sequenceTZ, &organizationTZ)
	if err != nil {
		return "", "", fmt.Errorf("resolve timezones: %w", err)
	}
	return sequenceTZ, organizationTZ, nil
}

// UpsertSequence writes the sequence, its six messages and next_send_at in a
// single transaction. Messages that already left the queue are not touched,
// and queued messages are only rescheduled when the sequence itself changed.
func (r *Repository) UpsertSequence(ctx context.Context, in SequenceUpsert) (SequenceResult, error) {
	var result SequenceResult

	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var nextSendAt *time.Time
		for _, e := range in.Entries {
			if nextSendAt == nil || e.SendAt.Before(*nextSendAt) {
				at := e.SendAt
				nextSendAt = &at
			}
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO followup_sequences (
				organization_id, lead_id, state, timezone, trigger_source, estimate_sent_at, next_send_at
			)
			VALUES ($1, $2, 'active', $3, $4, $5, $6)
			ON CONFLICT (lead_id) DO UPDATE
			SET state = 'active',
				timezone = EXCLUDED.timezone,
				trigger_source = EXCLUDED.trigger_source,
				estimate_sent_at = EXCLUDED.estimate_sent_at,
				paused_at = NULL,
				stopped_at = NULL,
				completed_at = NULL,
				version = followup_sequences.version + 1,
				updated_at = now()
			WHERE followup_sequences.organization_id = EXCLUDED.organization_id
				AND (followup_sequences.state, followup_sequences.timezone, followup_sequences.trigger_source, followup_sequences.estimate_sent_at)
					IS DISTINCT FROM ('active', EXCLUDED.timezone, EXCLUDED.trigger_source, EXCLUDED.estimate_sent_at)
			RETURNING id`,
			in.OrganizationID, in.LeadID, in.Timezone, string(in.TriggerSource), in.EstimateSentAt, nextSendAt,
		).Scan(&result.SequenceID)
		changed := err == nil
		if errors.Is(err, pgx.ErrNoRows) {
			// Unchanged sequence: the conditional upsert wrote nothing.
			err = tx.QueryRow(ctx,
				`SELECT id FROM followup_sequences WHERE lead_id = $1 AND organization_id = $2`,
				in.LeadID, in.OrganizationID,
			).Scan(&result.SequenceID)
		}
		if err != nil {
			return fmt.Errorf("upsert followup sequence: %w", err)
		}

		// Queued messages are only rescheduled when the anchor changed. On an
		// identical re-run a message the dispatcher already deferred or retried
		// keeps its time and retry budget.
		onConflict := `DO NOTHING`
		if changed {
			onConflict = `DO UPDATE
				SET template_key = EXCLUDED.template_key,
					scheduled_at = EXCLUDED.scheduled_at,
					retry_count = 0,
					error_message = NULL,
					updated_at = now()
				WHERE followup_messages.status = 'queued'
					AND (followup_messages.template_key, followup_messages.scheduled_at, followup_messages.retry_count)
						IS DISTINCT FROM (EXCLUDED.template_key, EXCLUDED.scheduled_at, 0)`
		}
		batch := &pgx.Batch{}
		for _, e := range in.Entries {
			batch.Queue(`
				INSERT INTO followup_messages (
					organization_id, sequence_id, step_number, channel, template_key, scheduled_at
				)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (sequence_id, step_number, channel) `+onConflict,
				in.OrganizationID, result.SequenceID, e.StepNumber, string(e.Channel), e.TemplateKey, e.SendAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert followup messages: %w", err)
		}

		if err := refreshNextSendAt(ctx, tx, []uuid.UUID{result.SequenceID}); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx,
			`SELECT next_send_at FROM followup_sequences WHERE id = $1`,
			result.SequenceID,
		).Scan(&result.NextSendAt); err != nil {
			return fmt.Errorf("read next_send_at: %w", err)
		}
		return nil
	})
	if err != nil {
		return SequenceResult{}, err
	}
	return result, nil
}
