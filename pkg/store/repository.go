package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/grantly/grantly/pkg/config"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/types"
)

// loginColumns whitelists the user columns a login identifier may be
// matched against
var loginColumns = map[string]string{
	"username": "username",
	"email":    "email",
	"token":    "token",
	"userid":   "user_id",
	"id":       "user_id",
}

// Repository provides data access for users, grants and API credentials
type Repository struct {
	db     *gorm.DB
	cfg    *config.Config
	logger interfaces.Logger
}

var (
	_ interfaces.UserRepository          = (*Repository)(nil)
	_ interfaces.GrantRepository         = (*Repository)(nil)
	_ interfaces.APICredentialRepository = (*Repository)(nil)
)

// NewRepository opens the configured database and migrates the schema
func NewRepository(cfg *config.Config, log interfaces.Logger) (*Repository, error) {
	var db *gorm.DB
	var err error

	switch cfg.Database.Type {
	case "sqlite":
		if dir := filepath.Dir(cfg.Database.Path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo := &Repository{db: db, cfg: cfg, logger: log}
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	return r.db.AutoMigrate(
		&User{},
		&Group{},
		&UserGroup{},
		&UserGrant{},
		&APICredential{},
	)
}

// DB exposes the underlying handle for callers that seed fixtures
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// FindByLoginFields looks a user up by an OR-condition across the given
// field/value pairs, matched trimmed and case-insensitive
func (r *Repository) FindByLoginFields(ctx context.Context, values map[string]string) (*types.UserRecord, error) {
	if len(values) == 0 {
		return nil, nil
	}

	query := r.db.WithContext(ctx).Model(&User{})
	var or *gorm.DB
	for field, value := range values {
		column, ok := loginColumns[field]
		if !ok {
			continue
		}
		value = strings.ToLower(strings.TrimSpace(value))
		cond := r.db.Where(fmt.Sprintf("LOWER(%s) = ?", column), value)
		if or == nil {
			or = cond
		} else {
			or = or.Or(cond)
		}
	}
	if or == nil {
		return nil, nil
	}

	var user User
	err := query.Where(or).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return user.Record(), nil
}

// FindByID returns the user with the given id, or nil
func (r *Repository) FindByID(ctx context.Context, userID string) (*types.UserRecord, error) {
	return r.FindByField(ctx, "userid", userID)
}

// FindByField returns the first user where field equals value, or nil
func (r *Repository) FindByField(ctx context.Context, field, value string) (*types.UserRecord, error) {
	column, ok := loginColumns[field]
	if !ok {
		return nil, fmt.Errorf("unknown user field: %s", field)
	}

	var user User
	err := r.db.WithContext(ctx).Where(fmt.Sprintf("%s = ?", column), value).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	return user.Record(), nil
}

// UpdateLastLogin records the sign-in timestamp and client ip
func (r *Repository) UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	err := r.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{"last_signin": at, "ip": ip}).Error
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdatePassword persists a new password hash, activation key and change
// timestamp
func (r *Repository) UpdatePassword(ctx context.Context, userID, hash, activationKey string, at time.Time) error {
	updates := map[string]interface{}{
		"password":       hash,
		"last_pw_change": at,
	}
	if activationKey != "" {
		updates["activation_key"] = activationKey
	}
	err := r.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", userID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// UserGrants returns one user's individual grant overrides
func (r *Repository) UserGrants(ctx context.Context, userID string) (types.GrantList, error) {
	var row UserGrant
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.GrantList{}, nil
	}
	if err != nil {
		return types.GrantList{}, fmt.Errorf("user grant lookup failed: %w", err)
	}
	return r.decodeGrants(row.Grants, "user", userID), nil
}

// UserGroups returns the group ids of one user. In power mode the single
// group comes from the user row; otherwise from the membership table.
func (r *Repository) UserGroups(ctx context.Context, userID string) ([]string, error) {
	if r.cfg.Auth.Power {
		user, err := r.FindByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil || user.GroupID == "" {
			return nil, nil
		}
		return []string{user.GroupID}, nil
	}

	var rows []UserGroup
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("group membership lookup failed: %w", err)
	}

	groups := make([]string, 0, len(rows))
	for _, row := range rows {
		groups = append(groups, row.GroupID)
	}
	return groups, nil
}

// GroupGrants returns the union of the grants of the given groups,
// concatenated in the given order
func (r *Repository) GroupGrants(ctx context.Context, groupIDs []string) (types.GrantList, error) {
	if len(groupIDs) == 0 {
		return types.GrantList{}, nil
	}

	var rows []Group
	err := r.db.WithContext(ctx).Where("group_id IN ?", groupIDs).Find(&rows).Error
	if err != nil {
		return types.GrantList{}, fmt.Errorf("group grant lookup failed: %w", err)
	}

	byID := make(map[string]Group, len(rows))
	for _, row := range rows {
		byID[row.GroupID] = row
	}

	var out types.GrantList
	for _, id := range groupIDs {
		row, ok := byID[id]
		if !ok {
			continue
		}
		out.Merge(r.decodeGrants(row.Grants, "group", id))
	}
	return out, nil
}

// decodeGrants parses a stored grant document. Malformed documents degrade
// to an empty list so a bad row denies rather than crashes or fails open.
func (r *Repository) decodeGrants(raw, scope, id string) types.GrantList {
	if strings.TrimSpace(raw) == "" {
		return types.GrantList{}
	}
	var list types.GrantList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		r.logger.Warn("malformed grant document, treating as empty", map[string]interface{}{
			"scope": scope,
			"id":    id,
			"error": err.Error(),
		})
		return types.GrantList{}
	}
	return list
}

// FindByKey returns the API credential for the given key, or nil
func (r *Repository) FindByKey(ctx context.Context, apiKey string) (*types.APICredential, error) {
	var row APICredential
	err := r.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api credential lookup failed: %w", err)
	}
	return row.Credential(), nil
}

// FindUserByToken returns the user owning the given token, or nil
func (r *Repository) FindUserByToken(ctx context.Context, token string) (*types.UserRecord, error) {
	return r.FindByField(ctx, "token", token)
}
