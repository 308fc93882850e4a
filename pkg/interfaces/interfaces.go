// Package interfaces defines the collaborator contracts consumed by the
// Grantly core. Implementations are injected by the caller; the core never
// reaches for process-wide state.
package interfaces

import (
	"context"
	"time"

	"github.com/grantly/grantly/pkg/types"
)

// Logger defines the logging interface
type Logger interface {
	// Debug logs debug level messages
	Debug(msg string, fields ...map[string]interface{})

	// Info logs info level messages
	Info(msg string, fields ...map[string]interface{})

	// Warn logs warning level messages
	Warn(msg string, fields ...map[string]interface{})

	// Error logs error level messages
	Error(msg string, err error, fields ...map[string]interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger
}

// Clock abstracts time for testability
type Clock interface {
	Now() time.Time
}

// RandomSource yields cryptographically secure random bytes
type RandomSource interface {
	Read(p []byte) (int, error)
}

// UserRepository provides read access to the user store plus the two
// bookkeeping writes the authenticator owns.
type UserRepository interface {
	// FindByLoginFields looks a user up by an OR-condition across the
	// configured login identifier fields. Values are matched trimmed and
	// case-insensitive. Returns nil when no row matches.
	FindByLoginFields(ctx context.Context, values map[string]string) (*types.UserRecord, error)

	// FindByID returns the user with the given id, or nil
	FindByID(ctx context.Context, userID string) (*types.UserRecord, error)

	// FindByField returns the first user where field equals value, or nil
	FindByField(ctx context.Context, field, value string) (*types.UserRecord, error)

	// UpdateLastLogin records the sign-in timestamp and client ip
	UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error

	// UpdatePassword persists a new password hash, activation key and
	// change timestamp
	UpdatePassword(ctx context.Context, userID, hash, activationKey string, at time.Time) error
}

// GrantRepository loads the stored grant rows for identities
type GrantRepository interface {
	// UserGrants returns the individual grant overrides of one user
	UserGrants(ctx context.Context, userID string) (types.GrantList, error)

	// GroupGrants returns the union of the grants of the given groups,
	// include and exclude lists concatenated in group order
	GroupGrants(ctx context.Context, groupIDs []string) (types.GrantList, error)

	// UserGroups returns the ids of the groups the user belongs to
	UserGroups(ctx context.Context, userID string) ([]string, error)
}

// APICredentialRepository resolves API keys to credential records
type APICredentialRepository interface {
	// FindByKey returns the credential for the given api key, or nil
	FindByKey(ctx context.Context, apiKey string) (*types.APICredential, error)

	// FindUserByToken returns the user owning the given token, or nil
	FindUserByToken(ctx context.Context, token string) (*types.UserRecord, error)
}

// SessionStore is a key/value store scoped to the current request
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Has(key string) bool
	Delete(key string)
	Clear()
}

// Cache stores short-lived validation results
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Notifier receives authentication lifecycle events. Publish failures are
// logged by callers but never fail the login itself.
type Notifier interface {
	LoginSucceeded(ctx context.Context, event types.LoginEvent) error
	LoggedOut(ctx context.Context, userID string) error
}
