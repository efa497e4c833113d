package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"crewcommand_backend/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

// ClaimDue leases due queued messages with FOR UPDATE SKIP LOCKED so
// concurrent runs never claim the same row. An expired lease is claimable
// again. Leasing does not touch updated_at.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]DueMessage, error) {
	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM followup_messages
			WHERE status = 'queued'
				AND scheduled_at <= $1
				AND (lease_expires_at IS NULL OR lease_expires_at <= $1)
			ORDER BY scheduled_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE followup_messages m
		SET lease_expires_at = $3
		FROM due
		WHERE m.id = due.id
		RETURNING m.id, m.organization_id, m.sequence_id, m.step_number, m.channel,
			m.template_key, m.scheduled_at, m.retry_count`,
		now, limit, leaseUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due followup messages: %w", err)
	}
	defer rows.Close()

	var due []DueMessage
	for rows.Next() {
		var (
			m       DueMessage
			channel string
		)
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.SequenceID, &m.StepNumber, &channel,
			&m.TemplateKey, &m.ScheduledAt, &m.RetryCount); err != nil {
			return nil, fmt.Errorf("scan due followup message: %w", err)
		}
		m.Channel = domain.Channel(channel)
		due = append(due, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due followup messages: %w", err)
	}

	// UPDATE ... RETURNING does not preserve the CTE order.
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	return due, nil
}

// LoadContext prefetches sequences, leads, organizations, templates and
// profiles for a batch concurrently.
func (r *Repository) LoadContext(ctx context.Context, messages []DueMessage) (DispatchContext, error) {
	out := DispatchContext{
		Sequences:     map[uuid.UUID]Sequence{},
		Leads:         map[uuid.UUID]Lead{},
		Organizations: map[uuid.UUID]Organization{},
		Templates:     map[TemplateRef]Template{},
		Profiles:      map[uuid.UUID]Profile{},
		Owners:        map[uuid.UUID]Profile{},
	}
	if len(messages) == 0 {
		return out, nil
	}

	sequenceIDs := uniqueIDs(messages, func(m DueMessage) uuid.UUID { return m.SequenceID })
	orgIDs := uniqueIDs(messages, func(m DueMessage) uuid.UUID { return m.OrganizationID })
	keySet := map[string]struct{}{}
	var keys []string
	for _, m := range messages {
		if _, ok := keySet[m.TemplateKey]; !ok {
			keySet[m.TemplateKey] = struct{}{}
			keys = append(keys, m.TemplateKey)
		}
	}

	// Each goroutine fills its own map.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.loadSequences(gctx, sequenceIDs, out.Sequences)
	})
	g.Go(func() error {
		return r.loadLeads(gctx, sequenceIDs, out.Leads)
	})
	g.Go(func() error {
		return r.loadOrganizations(gctx, orgIDs, out.Organizations)
	})
	g.Go(func() error {
		return r.loadTemplates(gctx, orgIDs, keys, out.Templates)
	})
	g.Go(func() error {
		return r.loadProfiles(gctx, orgIDs, sequenceIDs, out.Profiles, out.Owners)
	})

	if err := g.Wait(); err != nil {
		return DispatchContext{}, err
	}
	return out, nil
}

func (r *Repository) loadSequences(ctx context.Context, ids []uuid.UUID, dst map[uuid.UUID]Sequence) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, lead_id, state, COALESCE(timezone, '')
		FROM followup_sequences
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load followup sequences: %w", err)
	}
	return scanInto(rows, "followup sequence", func(row pgx.Rows) error {
		var (
			s     Sequence
			state string
		)
		if err := row.Scan(&s.ID, &s.OrganizationID, &s.LeadID, &state, &s.Timezone); err != nil {
			return err
		}
		s.State = domain.FollowupState(state)
		dst[s.ID] = s
		return nil
	})
}

func (r *Repository) loadLeads(ctx context.Context, sequenceIDs []uuid.UUID, dst map[uuid.UUID]Lead) error {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.organization_id, l.client_name, l.job_type,
			COALESCE(l.phone_e164, ''), COALESCE(l.email, ''),
			l.status, l.followup_state, l.created_by_profile_id
		FROM leads l
		JOIN followup_sequences s ON s.lead_id = l.id AND s.organization_id = l.organization_id
		WHERE s.id = ANY($1) AND l.deleted_at IS NULL`, sequenceIDs)
	if err != nil {
		return fmt.Errorf("load leads: %w", err)
	}
	return scanInto(rows, "lead", func(row pgx.Rows) error {
		var (
			l             Lead
			status        string
			followupState string
		)
		if err := row.Scan(&l.ID, &l.OrganizationID, &l.ClientName, &l.JobType, &l.PhoneE164, &l.Email,
			&status, &followupState, &l.CreatedByProfileID); err != nil {
			return err
		}
		l.Status = domain.LeadStatus(status)
		l.FollowupState = domain.FollowupState(followupState)
		dst[l.ID] = l
		return nil
	})
}

func (r *Repository) loadOrganizations(ctx context.Context, ids []uuid.UUID, dst map[uuid.UUID]Organization) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(timezone, '')
		FROM organizations
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load organizations: %w", err)
	}
	return scanInto(rows, "organization", func(row pgx.Rows) error {
		var o Organization
		if err := row.Scan(&o.ID, &o.Name, &o.Timezone); err != nil {
			return err
		}
		dst[o.ID] = o
		return nil
	})
}

func (r *Repository) loadTemplates(ctx context.Context, orgIDs []uuid.UUID, keys []string, dst map[TemplateRef]Template) error {
	rows, err := r.pool.Query(ctx, `
		SELECT organization_id, template_key,
			COALESCE(sms_body, ''), COALESCE(email_subject, ''), COALESCE(email_body, '')
		FROM message_templates
		WHERE active AND organization_id = ANY($1) AND template_key = ANY($2)`, orgIDs, keys)
	if err != nil {
		return fmt.Errorf("load message templates: %w", err)
	}
	return scanInto(rows, "message template", func(row pgx.Rows) error {
		var t Template
		if err := row.Scan(&t.OrganizationID, &t.Key, &t.SMSBody, &t.EmailSubject, &t.EmailBody); err != nil {
			return err
		}
		dst[TemplateRef{OrganizationID: t.OrganizationID, Key: t.Key}] = t
		return nil
	})
}

// loadProfiles reads lead creators and owners; rows arrive oldest first so
// the first owner seen per organization wins.
func (r *Repository) loadProfiles(ctx context.Context, orgIDs, sequenceIDs []uuid.UUID, profiles, owners map[uuid.UUID]Profile) error {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.organization_id, p.full_name, p.role
		FROM profiles p
		WHERE p.organization_id = ANY($1)
			AND (
				p.role = 'owner'
				OR p.id IN (
					SELECT l.created_by_profile_id
					FROM leads l
					JOIN followup_sequences s ON s.lead_id = l.id AND s.organization_id = l.organization_id
					WHERE s.id = ANY($2) AND l.created_by_profile_id IS NOT NULL
				)
			)
		ORDER BY p.created_at ASC, p.id ASC`, orgIDs, sequenceIDs)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	return scanInto(rows, "profile", func(row pgx.Rows) error {
		var (
			p    Profile
			role string
		)
		if err := row.Scan(&p.ID, &p.OrganizationID, &p.FullName, &role); err != nil {
			return err
		}
		p.Role = domain.Role(role)
		profiles[p.ID] = p
		if _, ok := owners[p.OrganizationID]; !ok && p.Role == domain.RoleOwner {
			owners[p.OrganizationID] = p
		}
		return nil
	})
}

// MarkSent records a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, messageID uuid.UUID, sentAt time.Time, providerMessageID string) (bool, error) {
	var providerID *string
	if providerMessageID != "" {
		providerID = &providerMessageID
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE followup_messages
		SET status = 'sent', sent_at = $2, provider_message_id = $3, error_message = NULL,
			lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'queued'`,
		messageID, sentAt, providerID,
	)
	if err != nil {
		return false, fmt.Errorf("mark followup message sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reschedule keeps the message queued at a new time.
func (r *Repository) Reschedule(ctx context.Context, messageID uuid.UUID, at time.Time, retryCount int, errorMessage *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE followup_messages
		SET scheduled_at = $2, retry_count = $3, error_message = $4,
			lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'queued'`,
		messageID, at, retryCount, errorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("reschedule followup message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed records a permanent failure.
func (r *Repository) MarkFailed(ctx context.Context, messageID uuid.UUID, retryCount int, errorMessage string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE followup_messages
		SET status = 'failed', retry_count = $2, error_message = $3,
			lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'queued'`,
		messageID, retryCount, errorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("mark followup message failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease clears the lease without touching updated_at.
func (r *Repository) ReleaseLease(ctx context.Context, messageID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE followup_messages SET lease_expires_at = NULL WHERE id = $1 AND status = 'queued'`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("release followup message lease: %w", err)
	}
	return nil
}

// RefreshNextSendAt recomputes next_send_at for every given sequence in one
// statement.
func (r *Repository) RefreshNextSendAt(ctx context.Context, sequenceIDs []uuid.UUID) error {
	return refreshNextSendAt(ctx, r.pool, sequenceIDs)
}

func uniqueIDs(messages []DueMessage, pick func(DueMessage) uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(messages))
	ids := make([]uuid.UUID, 0, len(messages))
	for _, m := range messages {
		id := pick(m)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func scanInto(rows pgx.Rows, what string, scan func(pgx.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", what, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s rows: %w", what, err)
	}
	return nil
}
