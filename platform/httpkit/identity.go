// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"net/http"

	"crewcommand_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity represents the authenticated caller resolved to a tenant profile.
// Handlers read it instead of touching gin context keys directly.
type Identity interface {
	// UserID returns the auth subject (JWT sub).
	UserID() uuid.UUID
	// ProfileID returns the caller's profile id.
	ProfileID() uuid.UUID
	// TenantID returns the caller's organization id.
	TenantID() uuid.UUID
	// Role returns the profile role (owner, admin, member).
	Role() string
	// HasRole checks if the caller has a specific role.
	HasRole(role string) bool
	// IsAuthenticated returns true if a profile was resolved.
	IsAuthenticated() bool
}

type identity struct {
	userID        uuid.UUID
	profileID     uuid.UUID
	tenantID      uuid.UUID
	role          string
	authenticated bool
}

func (i *identity) UserID() uuid.UUID    { return i.userID }
func (i *identity) ProfileID() uuid.UUID { return i.profileID }
func (i *identity) TenantID() uuid.UUID  { return i.tenantID }
func (i *identity) Role() string         { return i.role }

func (i *identity) HasRole(role string) bool {
	return i.role == role
}

func (i *identity) IsAuthenticated() bool {
	return i.authenticated
}

// SetProfile stores a resolved profile on the request context.
func SetProfile(c *gin.Context, profileID, tenantID uuid.UUID, role string) {
	c.Set(ContextProfileIDKey, profileID)
	c.Set(ContextTenantIDKey, tenantID)
	c.Set(ContextRoleKey, role)
	if c.Request != nil {
		c.Request = c.Request.WithContext(logger.ContextWithTenant(c.Request.Context(), tenantID.String()))
	}
}

// GetUserID returns the verified token subject, if any.
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	value, ok := c.Get(ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := value.(uuid.UUID)
	return id, ok
}

// GetTokenProfile returns the email and full name carried by the verified
// token. Either may be empty.
func GetTokenProfile(c *gin.Context) (email, fullName string) {
	return c.GetString(ContextEmailKey), c.GetString(ContextFullNameKey)
}

// GetIdentity extracts the Identity from a Gin context.
// Returns an unauthenticated identity unless both the token subject and the
// profile have been resolved.
func GetIdentity(c *gin.Context) Identity {
	userID, ok := GetUserID(c)
	if !ok {
		return &identity{}
	}

	profileID, profileOK := c.Get(ContextProfileIDKey)
	tenantID, tenantOK := c.Get(ContextTenantIDKey)
	if !profileOK || !tenantOK {
		return &identity{userID: userID}
	}

	pid, ok1 := profileID.(uuid.UUID)
	tid, ok2 := tenantID.(uuid.UUID)
	if !ok1 || !ok2 {
		return &identity{userID: userID}
	}

	return &identity{
		userID:        userID,
		profileID:     pid,
		tenantID:      tid,
		role:          c.GetString(ContextRoleKey),
		authenticated: true,
	}
}

// MustGetIdentity extracts the Identity from a Gin context.
// If no profile was resolved, it aborts with 401 and returns nil.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if !id.IsAuthenticated() {
		Abort(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return nil
	}
	return id
}
