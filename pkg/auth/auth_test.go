package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantly/grantly/pkg/acl"
	"github.com/grantly/grantly/pkg/config"
	grantlyerr "github.com/grantly/grantly/pkg/errors"
	"github.com/grantly/grantly/pkg/logger"
	"github.com/grantly/grantly/pkg/session"
	"github.com/grantly/grantly/pkg/types"
)

type pwUpdate struct {
	userID        string
	hash          string
	activationKey string
}

type fakeUserRepo struct {
	users []*types.UserRecord

	lastLoginID string
	lastLoginIP string
	lastLoginAt time.Time
	pwUpdates   []pwUpdate
}

func (f *fakeUserRepo) fieldValue(u *types.UserRecord, field string) string {
	switch field {
	case "username":
		return u.Username
	case "email":
		return u.Email
	case "token":
		return u.Token
	case "userid", "id":
		return u.UserID
	}
	return ""
}

func (f *fakeUserRepo) FindByLoginFields(ctx context.Context, values map[string]string) (*types.UserRecord, error) {
	for _, u := range f.users {
		for field, value := range values {
			if strings.ToLower(f.fieldValue(u, field)) == value {
				return u, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, userID string) (*types.UserRecord, error) {
	for _, u := range f.users {
		if u.UserID == userID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) FindByField(ctx context.Context, field, value string) (*types.UserRecord, error) {
	for _, u := range f.users {
		if f.fieldValue(u, field) == value {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	f.lastLoginID = userID
	f.lastLoginAt = at
	f.lastLoginIP = ip
	return nil
}

func (f *fakeUserRepo) UpdatePassword(ctx context.Context, userID, hash, activationKey string, at time.Time) error {
	f.pwUpdates = append(f.pwUpdates, pwUpdate{userID: userID, hash: hash, activationKey: activationKey})
	for _, u := range f.users {
		if u.UserID == userID {
			u.Password = hash
		}
	}
	return nil
}

type fakeGrantRepo struct {
	user   map[string]types.GrantList
	groups map[string][]string
	group  map[string]types.GrantList
}

func (f *fakeGrantRepo) UserGrants(ctx context.Context, userID string) (types.GrantList, error) {
	return f.user[userID], nil
}

func (f *fakeGrantRepo) GroupGrants(ctx context.Context, groupIDs []string) (types.GrantList, error) {
	var merged types.GrantList
	for _, id := range groupIDs {
		merged.Merge(f.group[id])
	}
	return merged, nil
}

func (f *fakeGrantRepo) UserGroups(ctx context.Context, userID string) ([]string, error) {
	return f.groups[userID], nil
}

type fakeNotifier struct {
	logins  []types.LoginEvent
	logouts []string
}

func (f *fakeNotifier) LoginSucceeded(ctx context.Context, event types.LoginEvent) error {
	f.logins = append(f.logins, event)
	return nil
}

func (f *fakeNotifier) LoggedOut(ctx context.Context, userID string) error {
	f.logouts = append(f.logouts, userID)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func legacyHash(plain, salt string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(plain) + salt))
	return hex.EncodeToString(sum[:]) + salt
}

type fixture struct {
	cfg      *config.Config
	users    *fakeUserRepo
	grants   *fakeGrantRepo
	sess     *session.MemoryStore
	cookies  *session.RecordingCookieWriter
	notifier *fakeNotifier
	clock    fixedClock
	auth     *Authenticator
}

func newFixture(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		cfg: config.DefaultConfig(),
		users: &fakeUserRepo{users: []*types.UserRecord{{
			UserID:   "u1",
			Username: "alice",
			Email:    "alice@example.com",
			Password: legacyHash("hunter2", "abc1234567890"),
			Status:   types.StatusActive,
			GroupID:  "editors",
		}}},
		grants:   &fakeGrantRepo{},
		sess:     session.NewMemoryStore(),
		cookies:  session.NewRecordingCookieWriter(),
		notifier: &fakeNotifier{},
		clock:    fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.cfg.Auth.LoginFields = []string{"username", "email"}
	f.cfg.Auth.RehashOnLogin = false
	f.cfg.Auth.JWTSecret = "test-secret"
	f.cfg.Grants.Public.Include = []string{"home:**"}
	if mutate != nil {
		mutate(f)
	}

	evaluator := acl.NewEvaluator(f.cfg, f.grants, logger.NoopLogger{})
	f.auth = NewAuthenticator(f.cfg, Deps{
		Users:     f.users,
		Evaluator: evaluator,
		Session:   f.sess,
		Cookies:   f.cookies,
		Notifier:  f.notifier,
		Clock:     f.clock,
		Logger:    logger.NoopLogger{},
	})
	return f
}

func TestLoginLegacyHash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	identity, err := f.auth.Login(ctx, Credentials{
		Username: "Alice ",
		Password: "hunter2",
		IP:       "203.0.113.7",
	})
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, "editors", identity.GroupID)
	assert.False(t, identity.IsAnonymous())

	name, ok := f.sess.Get(f.cfg.Auth.CookieName)
	require.True(t, ok)
	assert.Equal(t, "alice", name)
	key, ok := f.sess.Get(f.cfg.Auth.CookieKey)
	require.True(t, ok)
	assert.Equal(t, f.users.users[0].Password, key)

	assert.Equal(t, "u1", f.users.lastLoginID)
	assert.Equal(t, "203.0.113.7", f.users.lastLoginIP)
	assert.Equal(t, f.clock.t, f.users.lastLoginAt)

	require.Len(t, f.notifier.logins, 1)
	assert.Equal(t, "u1", f.notifier.logins[0].UserID)
	assert.Equal(t, "203.0.113.7", f.notifier.logins[0].IP)

	// no remember-me requested
	assert.Empty(t, f.cookies.Cookies)
}

func TestLoginByEmail(t *testing.T) {
	f := newFixture(t, nil)

	identity, err := f.auth.Login(context.Background(), Credentials{
		Username: "ALICE@example.com",
		Password: "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
}

func TestLoginRememberSetsCookiePair(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.auth.Login(context.Background(), Credentials{
		Username: "alice",
		Password: "hunter2",
		Remember: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", f.cookies.Cookies[f.cfg.Auth.CookieName])
	assert.Equal(t, f.users.users[0].Password, f.cookies.Cookies[f.cfg.Auth.CookieKey])
}

func TestLoginUnknownUser(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.auth.Login(context.Background(), Credentials{Username: "mallory", Password: "x"})
	require.Error(t, err)
	assert.True(t, grantlyerr.HasCode(err, grantlyerr.ErrCodeCredentialNotFound))
	assert.Empty(t, f.notifier.logins)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.auth.Login(context.Background(), Credentials{Username: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, grantlyerr.HasCode(err, grantlyerr.ErrCodeCredentialMismatch))
	assert.False(t, f.sess.Has(f.cfg.Auth.CookieName))
}

func TestLoginInactiveCarriesStatus(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.users.users[0].Status = types.StatusSuspended
	})

	_, err := f.auth.Login(context.Background(), Credentials{Username: "alice", Password: "hunter2"})
	require.Error(t, err)
	assert.True(t, grantlyerr.IsAccountInactive(err))

	var gerr *grantlyerr.GrantlyError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, int(types.StatusSuspended), gerr.Details["status"])
}

func TestLoginHomeAccessRevoked(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.grants.user = map[string]types.GrantList{
			"u1": {Exclude: []string{"home:**"}},
		}
	})

	_, err := f.auth.Login(context.Background(), Credentials{Username: "alice", Password: "hunter2"})
	require.Error(t, err)
	assert.True(t, grantlyerr.IsAccessDenied(err))
	assert.False(t, f.sess.Has(f.cfg.Auth.CookieName))
	assert.Empty(t, f.notifier.logins)
}

func TestLoginRehashUpgradesLegacy(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.Auth.RehashOnLogin = true
	})

	_, err := f.auth.Login(context.Background(), Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	require.Len(t, f.users.pwUpdates, 1)
	assert.True(t, strings.HasPrefix(f.users.pwUpdates[0].hash, "$2"))

	// the upgraded hash still verifies
	second := newFixture(t, func(g *fixture) {
		g.users = f.users
	})
	_, err = second.auth.Login(context.Background(), Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
}

func TestLoginPrehashedKey(t *testing.T) {
	f := newFixture(t, nil)
	stored := f.users.users[0].Password

	_, err := f.auth.Login(context.Background(), Credentials{
		Username:  "alice",
		Password:  stored,
		Prehashed: true,
	})
	require.NoError(t, err)
	// rehash never fires on prehashed claims
	assert.Empty(t, f.users.pwUpdates)
}

func TestLoginPreAuthShortCircuit(t *testing.T) {
	f := newFixture(t, nil)
	hooked := &types.Identity{UserID: "sso-1", Username: "alice"}
	f.auth.preAuth = func(ctx context.Context, creds Credentials) (*types.Identity, bool, error) {
		return hooked, true, nil
	}

	identity, err := f.auth.Login(context.Background(), Credentials{Username: "alice", Password: "ignored"})
	require.NoError(t, err)
	assert.Same(t, hooked, identity)
	assert.Same(t, hooked, f.auth.Identity())
	// the hook bypasses the store entirely
	assert.Empty(t, f.users.lastLoginID)
}

func TestIsLoggedInCookiePairCreatesSession(t *testing.T) {
	f := newFixture(t, nil)
	stored := f.users.users[0].Password

	ok, err := f.auth.IsLoggedIn(context.Background(), session.CookiePair{Name: "alice", Key: stored})
	require.NoError(t, err)
	assert.True(t, ok)

	name, has := f.sess.Get(f.cfg.Auth.CookieName)
	require.True(t, has)
	assert.Equal(t, "alice", name)
	assert.Equal(t, "u1", f.auth.Identity().UserID)
}

func TestIsLoggedInCookieSessionDisagree(t *testing.T) {
	f := newFixture(t, nil)
	stored := f.users.users[0].Password
	f.sess.Set(f.cfg.Auth.CookieName, "someone-else")
	f.sess.Set(f.cfg.Auth.CookieKey, stored)

	ok, err := f.auth.IsLoggedIn(context.Background(), session.CookiePair{Name: "alice", Key: stored})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, f.sess.Has(f.cfg.Auth.CookieName))
	assert.Contains(t, f.cookies.Expired, f.cfg.Auth.CookieName)
}

func TestIsLoggedInStaleCookieLogsOut(t *testing.T) {
	f := newFixture(t, nil)
	f.sess.Set(f.cfg.Auth.CookieName, "alice")
	f.sess.Set(f.cfg.Auth.CookieKey, "stale-key")

	ok, err := f.auth.IsLoggedIn(context.Background(), session.CookiePair{Name: "alice", Key: "stale-key"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, f.sess.Has(f.cfg.Auth.CookieName))
	assert.Contains(t, f.cookies.Expired, f.cfg.Auth.CookieKey)
}

func TestIsLoggedInSessionOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.sess.Set(f.cfg.Auth.CookieName, "alice")
	f.sess.Set(f.cfg.Auth.CookieKey, f.users.users[0].Password)

	ok, err := f.auth.IsLoggedIn(context.Background(), session.CookiePair{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", f.auth.Identity().UserID)
}

func TestIsLoggedInAnonymous(t *testing.T) {
	f := newFixture(t, nil)

	ok, err := f.auth.IsLoggedIn(context.Background(), session.CookiePair{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, f.auth.Identity())
}

func TestIsLoggedInSuspendedUserLogsOut(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.users.users[0].Status = types.StatusSuspended
	})
	stored := f.users.users[0].Password

	ok, err := f.auth.IsLoggedIn(context.Background(), session.CookiePair{Name: "alice", Key: stored})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogoutIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.auth.Login(ctx, Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	f.auth.Logout(ctx)
	assert.Nil(t, f.auth.Identity())
	assert.False(t, f.sess.Has(f.cfg.Auth.CookieName))
	assert.Contains(t, f.cookies.Expired, f.cfg.Auth.CookieName)
	assert.Contains(t, f.cookies.Expired, f.cfg.Auth.CookieKey)
	require.Len(t, f.notifier.logouts, 1)
	assert.Equal(t, "u1", f.notifier.logouts[0])

	// second logout is a no-op, not an error
	f.auth.Logout(ctx)
	assert.Len(t, f.notifier.logouts, 1)
}

func TestValidUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pw := "hunter2"
	user, err := f.auth.ValidUser(ctx, "alice", &pw)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.UserID)

	// nil password skips the credential check
	user, err = f.auth.ValidUser(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.UserID)

	wrong := "nope"
	_, err = f.auth.ValidUser(ctx, "alice", &wrong)
	assert.True(t, grantlyerr.HasCode(err, grantlyerr.ErrCodeCredentialMismatch))

	// no identity state is touched
	assert.Nil(t, f.auth.Identity())
}

func TestCheckUserByLogin(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.cfg.Auth.Patterns = map[string][]string{
			"email": {`^[^@\s]+@[^@\s]+$`},
		}
	})
	ctx := context.Background()

	out, err := f.auth.CheckUserByLogin(ctx, map[string]string{
		"username": "bob",
		"email":    "bob@example.com",
	}, false)
	require.NoError(t, err)
	assert.True(t, out.OK)

	out, err = f.auth.CheckUserByLogin(ctx, map[string]string{"username": "bob"}, false)
	require.NoError(t, err)
	assert.Equal(t, "required", out.Reason)
	assert.Equal(t, "email", out.Field)

	out, err = f.auth.CheckUserByLogin(ctx, map[string]string{
		"username": "bob",
		"email":    "not-an-email",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "required", out.Reason)

	out, err = f.auth.CheckUserByLogin(ctx, map[string]string{
		"username": "alice",
		"email":    "new@example.com",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "exist", out.Reason)
	assert.Equal(t, "username", out.Field)

	// onlyKnown restricts the check to supplied fields
	out, err = f.auth.CheckUserByLogin(ctx, map[string]string{"username": "bob"}, true)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.auth.ResetPassword(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, result.Password, f.cfg.Password.Length)
	assert.Len(t, result.ActivationKey, f.cfg.Password.ActivationLen)

	require.Len(t, f.users.pwUpdates, 1)
	assert.Equal(t, result.ActivationKey, f.users.pwUpdates[0].activationKey)

	_, err = f.auth.Login(ctx, Credentials{Username: "alice", Password: result.Password})
	require.NoError(t, err)

	_, err = f.auth.ResetPassword(ctx, "mallory")
	assert.True(t, grantlyerr.HasCode(err, grantlyerr.ErrCodeCredentialNotFound))
}

func TestUpdatePasswordForIdentity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.auth.Login(ctx, Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	require.NoError(t, f.auth.UpdatePassword(ctx, "", "correct horse battery"))

	ok, err := f.auth.IsValidPassword(ctx, "correct horse battery")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.auth.IsValidPassword(ctx, "hunter2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdatePasswordAnonymous(t *testing.T) {
	f := newFixture(t, nil)

	err := f.auth.UpdatePassword(context.Background(), "", "whatever")
	assert.True(t, grantlyerr.HasCode(err, grantlyerr.ErrCodeCredentialNotFound))
}

func TestLookupHelpers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.auth.GetUserIDBy(ctx, "email", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	exists, err := f.auth.IsUsernameExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.auth.IsEmailExists(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	clock := fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	issuer := NewTokenIssuer(cfg, clock)

	identity := &types.Identity{UserID: "u1", Username: "alice", GroupID: "editors"}
	token, err := issuer.Issue(identity)
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "editors", claims.GroupID)

	// expired tokens are rejected
	late := NewTokenIssuer(cfg, fixedClock{t: clock.t.Add(cfg.Auth.JWTExpiry + time.Hour)})
	_, err = late.Parse(token)
	assert.Error(t, err)

	// tampered secret is rejected
	other := config.DefaultConfig()
	other.Auth.JWTSecret = "other-secret"
	_, err = NewTokenIssuer(other, clock).Parse(token)
	assert.Error(t, err)
}
