package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantly/grantly/pkg/config"
	"github.com/grantly/grantly/pkg/logger"
	"github.com/grantly/grantly/pkg/types"
)

func setupTestRepository(t *testing.T) *Repository {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "grantly_test.db")

	repo, err := NewRepository(cfg, logger.NoopLogger{})
	require.NoError(t, err)
	return repo
}

func seedUser(t *testing.T, repo *Repository, user *User) *User {
	t.Helper()
	require.NoError(t, repo.DB().Create(user).Error)
	return user
}

func TestRepository_FindByLoginFields(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, &User{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "hash",
		Status:   1,
	})

	// matched case-insensitive and trimmed
	user, err := repo.FindByLoginFields(ctx, map[string]string{"username": "  ALICE  "})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)

	// OR across fields: the email matches even though the username does not
	user, err = repo.FindByLoginFields(ctx, map[string]string{
		"username": "alice@example.com",
		"email":    "alice@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.Username)

	user, err = repo.FindByLoginFields(ctx, map[string]string{"username": "nobody"})
	require.NoError(t, err)
	assert.Nil(t, user)

	// unknown fields are ignored rather than queried
	user, err = repo.FindByLoginFields(ctx, map[string]string{"password": "hash"})
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRepository_UpdateLastLogin(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	u := seedUser(t, repo, &User{Username: "alice", Password: "hash", Status: 1})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastLogin(ctx, u.UserID, at, "10.0.0.5"))

	user, err := repo.FindByID(ctx, u.UserID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "10.0.0.5", user.IP)
	assert.True(t, user.LastSignin.Equal(at))
}

func TestRepository_UpdatePassword(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	u := seedUser(t, repo, &User{Username: "alice", Password: "old", Status: 1})

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdatePassword(ctx, u.UserID, "newhash", "actkey", at))

	user, err := repo.FindByID(ctx, u.UserID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "newhash", user.Password)
	assert.Equal(t, "actkey", user.ActivationKey)
}

func TestRepository_UserGrants(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.DB().Create(&UserGrant{
		UserID: "u1",
		Grants: `{"include":["blog:**"],"exclude":["blog:publish:*"]}`,
	}).Error)

	list, err := repo.UserGrants(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"blog:**"}, list.Include)
	assert.Equal(t, []string{"blog:publish:*"}, list.Exclude)

	// absent row means empty, not an error
	list, err = repo.UserGrants(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, list.IsEmpty())
}

func TestRepository_UserGrants_MalformedDegradesToEmpty(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.DB().Create(&UserGrant{
		UserID: "u1",
		Grants: `{"include": "not-a-list"`,
	}).Error)

	list, err := repo.UserGrants(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, list.IsEmpty())
}

func TestRepository_GroupGrants_UnionInOrder(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.DB().Create(&Group{
		GroupID: "editors", Name: "editors",
		Grants: `{"include":["blog:**"]}`,
	}).Error)
	require.NoError(t, repo.DB().Create(&Group{
		GroupID: "interns", Name: "interns",
		Grants: `{"exclude":["blog:publish:*"]}`,
	}).Error)

	list, err := repo.GroupGrants(ctx, []string{"interns", "editors"})
	require.NoError(t, err)
	assert.Equal(t, []string{"blog:**"}, list.Include)
	assert.Equal(t, []string{"blog:publish:*"}, list.Exclude)

	// unknown ids are skipped
	list, err = repo.GroupGrants(ctx, []string{"ghosts"})
	require.NoError(t, err)
	assert.True(t, list.IsEmpty())
}

func TestRepository_UserGroups_MembershipMode(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	u := seedUser(t, repo, &User{Username: "alice", Password: "h", Status: 1})
	require.NoError(t, repo.DB().Create(&UserGroup{UserID: u.UserID, GroupID: "editors", CreatedAt: time.Now()}).Error)
	require.NoError(t, repo.DB().Create(&UserGroup{UserID: u.UserID, GroupID: "interns", CreatedAt: time.Now().Add(time.Second)}).Error)

	groups, err := repo.UserGroups(ctx, u.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"editors", "interns"}, groups)
}

func TestRepository_UserGroups_PowerMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Power = true
	cfg.Database.Path = filepath.Join(t.TempDir(), "grantly_test.db")

	repo, err := NewRepository(cfg, logger.NoopLogger{})
	require.NoError(t, err)
	ctx := context.Background()

	u := seedUser(t, repo, &User{Username: "alice", Password: "h", Status: 1, GroupID: "admins"})

	groups, err := repo.UserGroups(ctx, u.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admins"}, groups)
}

func TestRepository_APICredentials(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	u := seedUser(t, repo, &User{Username: "svc", Password: "h", Status: 1, Token: "tok123"})
	require.NoError(t, repo.DB().Create(&APICredential{
		APIKey:           "key-1",
		APISecret:        "s3cret",
		UserID:           u.UserID,
		Status:           1,
		RequireSignature: true,
		AllowedIPs:       "10.0.0.1, 192.168.0.0/16",
	}).Error)

	cred, err := repo.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "s3cret", cred.APISecret)
	assert.True(t, cred.RequireSignature)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cred.AllowedIPs)
	assert.Equal(t, types.StatusActive, cred.Status)

	cred, err = repo.FindByKey(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, cred)

	user, err := repo.FindUserByToken(ctx, "tok123")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "svc", user.Username)
}
