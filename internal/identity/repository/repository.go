package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	followuprepo "crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/followups/templates"
	"crewcommand_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadyBootstrapped means the auth user already owns a profile.
	ErrAlreadyBootstrapped = errors.New("user already has a profile")
	// ErrDeviceTaken means the device id is registered to another profile.
	ErrDeviceTaken = errors.New("device registered to another profile")
)

type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Organization struct {
	ID        uuid.UUID
	Name      string
	Timezone  string
	CreatedAt time.Time
}

type Profile struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	AuthUserID     uuid.UUID
	FullName       string
	Role           string
}

type Device struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ProfileID      uuid.UUID
	Platform       string
	Label          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BootstrapInput describes a new workspace and its owner.
type BootstrapInput struct {
	AuthUserID   uuid.UUID
	BusinessName string
	Timezone     string
	FullName     string
	Templates    []templates.Template
}

func (r *Repository) CreateOrganization(ctx context.Context, q DBTX, name, timezone string) (Organization, error) {
	var org Organization
	err := q.QueryRow(ctx, `
    INSERT INTO organizations (name, timezone)
    VALUES ($1, $2)
    RETURNING id, name, timezone, created_at
  `, name, timezone).Scan(&org.ID, &org.Name, &org.Timezone, &org.CreatedAt)
	return org, err
}

func (r *Repository) CreateOwnerProfile(ctx context.Context, q DBTX, organizationID, authUserID uuid.UUID, fullName string) (Profile, error) {
	p := Profile{OrganizationID: organizationID, AuthUserID: authUserID, FullName: fullName, Role: "owner"}
	err := q.QueryRow(ctx, `
    INSERT INTO profiles (organization_id, auth_user_id, full_name, role)
    VALUES ($1, $2, $3, 'owner')
    RETURNING id
  `, organizationID, authUserID, fullName).Scan(&p.ID)
	if isUniqueViolation(err) {
		return Profile{}, ErrAlreadyBootstrapped
	}
	return p, err
}

// Bootstrap creates the organization, its owner profile and the default
// message templates in one transaction.
func (r *Repository) Bootstrap(ctx context.Context, in BootstrapInput) (Profile, error) {
	var profile Profile
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE auth_user_id = $1)`, in.AuthUserID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrAlreadyBootstrapped
		}

		org, err := r.CreateOrganization(ctx, tx, in.BusinessName, in.Timezone)
		if err != nil {
			return fmt.Errorf("create organization: %w", err)
		}
		profile, err = r.CreateOwnerProfile(ctx, tx, org.ID, in.AuthUserID, in.FullName)
		if err != nil {
			return err
		}
		if _, err := followuprepo.SeedTemplates(ctx, tx, org.ID, in.Templates); err != nil {
			return err
		}
		return nil
	})
	return profile, err
}

func (r *Repository) GetProfileByAuthUser(ctx context.Context, authUserID uuid.UUID) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
    SELECT id, organization_id, auth_user_id, full_name, role
    FROM profiles
    WHERE auth_user_id = $1
  `, authUserID).Scan(&p.ID, &p.OrganizationID, &p.AuthUserID, &p.FullName, &p.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	return p, err
}

// UpsertDevice registers a device for a profile. Re-registering the same id
// updates platform and label; an id owned by another profile is rejected.
func (r *Repository) UpsertDevice(ctx context.Context, d Device) (Device, error) {
	var out Device
	err := r.pool.QueryRow(ctx, `
    INSERT INTO devices (id, organization_id, profile_id, platform, label)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (id) DO UPDATE
      SET platform = EXCLUDED.platform,
          label = EXCLUDED.label,
          updated_at = now()
      WHERE devices.organization_id = EXCLUDED.organization_id
        AND devices.profile_id = EXCLUDED.profile_id
    RETURNING id, organization_id, profile_id, platform, label, created_at, updated_at
  `, d.ID, d.OrganizationID, d.ProfileID, d.Platform, d.Label).Scan(
		&out.ID,
		&out.OrganizationID,
		&out.ProfileID,
		&out.Platform,
		&out.Label,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrDeviceTaken
	}
	return out, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
