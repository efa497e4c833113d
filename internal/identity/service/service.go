package service

import (
	"context"
	"errors"
	"strings"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/followups/schedule"
	"crewcommand_backend/internal/followups/templates"
	"crewcommand_backend/internal/identity/repository"
	"crewcommand_backend/internal/identity/transport"
	"crewcommand_backend/platform/apperr"
	"crewcommand_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultOwnerName   = "Workspace Owner"
	msgAlreadyBoot     = "Workspace is already initialized for this user."
	msgProfileNotFound = "profile not found"
	msgDeviceTaken     = "Device is registered to another profile."
)

// Store is the persistence used by the identity service.
type Store interface {
	Bootstrap(ctx context.Context, in repository.BootstrapInput) (repository.Profile, error)
	GetProfileByAuthUser(ctx context.Context, authUserID uuid.UUID) (repository.Profile, error)
	UpsertDevice(ctx context.Context, d repository.Device) (repository.Device, error)
}

// Profile is the resolved caller.
type Profile struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Role           string
}

// Caller is the verified token subject with its optional profile claims.
type Caller struct {
	UserID   uuid.UUID
	Email    string
	FullName string
}

type Service struct {
	repo      Store
	templates []templates.Template
	log       *logger.Logger
}

// New creates the identity service. tpls are seeded into every new workspace.
func New(repo Store, tpls []templates.Template, log *logger.Logger) *Service {
	return &Service{repo: repo, templates: tpls, log: log}
}

// Bootstrap creates a workspace owned by the caller.
func (s *Service) Bootstrap(ctx context.Context, caller Caller, req transport.BootstrapRequest) (transport.BootstrapResponse, error) {
	name := strings.TrimSpace(req.BusinessName)
	if name == "" {
		return transport.BootstrapResponse{}, apperr.Validation("business_name: is required")
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = schedule.DefaultTimezone
	}

	profile, err := s.repo.Bootstrap(ctx, repository.BootstrapInput{
		AuthUserID:   caller.UserID,
		BusinessName: name,
		Timezone:     tz,
		FullName:     ownerName(caller),
		Templates:    s.templates,
	})
	if errors.Is(err, repository.ErrAlreadyBootstrapped) {
		return transport.BootstrapResponse{}, apperr.Conflict(msgAlreadyBoot)
	}
	if err != nil {
		return transport.BootstrapResponse{}, err
	}

	s.log.WithContext(ctx).Info("workspace bootstrapped",
		"organization_id", profile.OrganizationID, "profile_id", profile.ID, "templates", len(s.templates))

	return transport.BootstrapResponse{
		OrganizationID: profile.OrganizationID.String(),
		ProfileID:      profile.ID.String(),
	}, nil
}

// ResolveProfile returns the profile bound to an auth subject.
func (s *Service) ResolveProfile(ctx context.Context, authUserID uuid.UUID) (Profile, error) {
	p, err := s.repo.GetProfileByAuthUser(ctx, authUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return Profile{}, apperr.NotFound(msgProfileNotFound)
	}
	if err != nil {
		return Profile{}, err
	}
	return Profile{ID: p.ID, OrganizationID: p.OrganizationID, Role: p.Role}, nil
}

// RegisterDevice registers or refreshes a device of the calling profile. A
// missing device id gets a server-generated one.
func (s *Service) RegisterDevice(ctx context.Context, tenantID, profileID uuid.UUID, req transport.RegisterDeviceRequest) (transport.DeviceResponse, error) {
	platform := domain.DevicePlatform(req.Platform)
	switch platform {
	case domain.PlatformIOS, domain.PlatformAndroid, domain.PlatformWeb:
	default:
		return transport.DeviceResponse{}, apperr.Validation("platform: must be one of ios, android, web")
	}

	id := uuid.New()
	if req.DeviceID != "" {
		parsed, err := uuid.Parse(req.DeviceID)
		if err != nil {
			return transport.DeviceResponse{}, apperr.Validation("device_id: must be a valid UUID")
		}
		id = parsed
	}

	var label *string
	if trimmed := strings.TrimSpace(req.Label); trimmed != "" {
		label = &trimmed
	}

	device, err := s.repo.UpsertDevice(ctx, repository.Device{
		ID:             id,
		OrganizationID: tenantID,
		ProfileID:      profileID,
		Platform:       string(platform),
		Label:          label,
	})
	if errors.Is(err, repository.ErrDeviceTaken) {
		return transport.DeviceResponse{}, apperr.Conflict(msgDeviceTaken)
	}
	if err != nil {
		return transport.DeviceResponse{}, err
	}

	return transport.DeviceResponse{
		ID:        device.ID.String(),
		ProfileID: device.ProfileID.String(),
		Platform:  device.Platform,
		Label:     device.Label,
	}, nil
}

// ownerName prefers the token's full name, then its email.
func ownerName(caller Caller) string {
	if name := strings.TrimSpace(caller.FullName); name != "" {
		return name
	}
	if email := strings.TrimSpace(caller.Email); email != "" {
		return email
	}
	return defaultOwnerName
}
