package repository

import (
	"context"
	"fmt"

	"crewcommand_backend/internal/followups/templates"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SeedTemplates inserts the given templates for an organization, leaving any
// existing key untouched. It returns how many rows were created. q may be a
// pool or an open transaction.
func SeedTemplates(ctx context.Context, q Execer, organizationID uuid.UUID, tpls []templates.Template) (int, error) {
	created := 0
	for _, t := range tpls {
		tag, err := q.Exec(ctx, `
			INSERT INTO message_templates (organization_id, template_key, sms_body, email_subject, email_body, active)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), true)
			ON CONFLICT (organization_id, template_key) DO NOTHING`,
			organizationID, t.Key, t.SMSBody, t.EmailSubject, t.EmailBody,
		)
		if err != nil {
			return created, fmt.Errorf("seed template %s: %w", t.Key, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// OrganizationIDs lists every organization, oldest first.
func (r *Repository) OrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM organizations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect organizations: %w", err)
	}
	return ids, nil
}

// SeedDefaultTemplates seeds tpls for one organization using the pool.
func (r *Repository) SeedDefaultTemplates(ctx context.Context, organizationID uuid.UUID, tpls []templates.Template) (int, error) {
	return SeedTemplates(ctx, r.pool, organizationID, tpls)
}
