// Package auth implements Grantly's credential & session authenticator. It
// turns a credential claim (username/password pair, or a cookie/session
// pair) into verified identity state, and clears that state on logout.
//
// An Authenticator is constructed per request with its collaborators
// injected; identity state never leaks across requests.
package auth

import (
	"context"
	"crypto/subtle"
	"regexp"
	"strings"
	"time"

	"github.com/grantly/grantly/pkg/acl"
	"github.com/grantly/grantly/pkg/config"
	grantlyerr "github.com/grantly/grantly/pkg/errors"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/logger"
	"github.com/grantly/grantly/pkg/password"
	"github.com/grantly/grantly/pkg/session"
	"github.com/grantly/grantly/pkg/types"
)

// Credentials is a login claim
type Credentials struct {
	Username string
	Password string

	// Prehashed means Password already holds the stored key, as with the
	// remember-me cookie pair
	Prehashed bool

	// Remember asks for the long-lived cookie pair on success
	Remember bool

	// IP is the client address recorded on the user row
	IP string
}

// PreAuthHook runs before any store lookup and may short-circuit the whole
// login. Returning handled=true makes its identity/error the final result.
type PreAuthHook func(ctx context.Context, creds Credentials) (identity *types.Identity, handled bool, err error)

// Deps are the authenticator's injected collaborators. Users, Evaluator
// and Session are required; the rest default to no-ops or real
// implementations.
type Deps struct {
	Users     interfaces.UserRepository
	Evaluator *acl.Evaluator
	Session   interfaces.SessionStore
	Cookies   session.CookieWriter
	Notifier  interfaces.Notifier
	Clock     interfaces.Clock
	Logger    interfaces.Logger
	PreAuth   PreAuthHook
}

// Authenticator verifies credential claims and owns the current request's
// identity state
type Authenticator struct {
	cfg       *config.Config
	users     interfaces.UserRepository
	evaluator *acl.Evaluator
	sess      interfaces.SessionStore
	cookies   session.CookieWriter
	notifier  interfaces.Notifier
	clock     interfaces.Clock
	logger    interfaces.Logger
	preAuth   PreAuthHook

	hasher    *password.Hasher
	generator *password.Generator

	identity *types.Identity
}

// NewAuthenticator creates an authenticator for one request
func NewAuthenticator(cfg *config.Config, deps Deps) *Authenticator {
	clock := deps.Clock
	if clock == nil {
		clock = realClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NoopLogger{}
	}
	return &Authenticator{
		cfg:       cfg,
		users:     deps.Users,
		evaluator: deps.Evaluator,
		sess:      deps.Session,
		cookies:   deps.Cookies,
		notifier:  deps.Notifier,
		clock:     clock,
		logger:    deps.Logger,
		preAuth:   deps.PreAuth,
		hasher:    password.NewHasher(cfg.Auth.LegacySalting),
		generator: password.NewGenerator(),
	}
}

// Identity returns the resolved identity, nil while anonymous
func (a *Authenticator) Identity() *types.Identity {
	return a.identity
}

// loginMatches builds the OR-condition values across the configured login
// fields for one identifier
func (a *Authenticator) loginMatches(username string) map[string]string {
	username = strings.ToLower(strings.TrimSpace(username))
	matches := make(map[string]string)
	for _, field := range a.cfg.LoginFields() {
		matches[field] = username
	}
	return matches
}

// Login authenticates a credential pair and establishes identity state.
//
// Outcomes are typed: CredentialNotFound, CredentialMismatch,
// AccountInactive (carrying the raw status), AccessDenied (credentials
// valid but the home-area pre-check failed). Only store failures surface
// as other errors.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (*types.Identity, error) {
	if a.preAuth != nil {
		identity, handled, err := a.preAuth(ctx, creds)
		if handled {
			if err == nil && identity != nil {
				a.identity = identity
			}
			return identity, err
		}
	}

	user, err := a.users.FindByLoginFields(ctx, a.loginMatches(creds.Username))
	if err != nil {
		return nil, grantlyerr.NewStoreError("user lookup failed", err)
	}
	if user == nil {
		return nil, grantlyerr.NewCredentialNotFoundError()
	}

	key, ok, err := a.verifyKey(creds, user.Password)
	if err != nil {
		a.logger.Warn("password verification failed", map[string]interface{}{
			"username": creds.Username,
			"error":    err.Error(),
		})
		return nil, grantlyerr.NewCredentialMismatchError()
	}
	if !ok {
		return nil, grantlyerr.NewCredentialMismatchError()
	}

	// the inactive gate runs before the access pre-check so callers can
	// distinguish a suspended account from a revoked one
	if !user.Status.IsActive() {
		return nil, grantlyerr.NewAccountInactiveError(user.Status)
	}

	identity := &types.Identity{
		UserID:   user.UserID,
		Username: strings.ToLower(strings.TrimSpace(creds.Username)),
		GroupID:  user.GroupID,
		User:     user,
	}

	// credentials can be valid while access to the home area is revoked;
	// deny the login before committing any state
	allowed, err := a.evaluator.IsAllowed(ctx, types.Action{Component: "home"}, user.UserID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, grantlyerr.NewAccessDeniedError("home")
	}

	a.identity = identity
	a.sess.Set(a.cfg.Auth.CookieName, identity.Username)
	a.sess.Set(a.cfg.Auth.CookieKey, key)

	if creds.Remember && a.cookies != nil {
		maxAge := int(a.cfg.Auth.CookieTTL / time.Second)
		a.cookies.SetCookie(a.cfg.Auth.CookieName, identity.Username, maxAge)
		a.cookies.SetCookie(a.cfg.Auth.CookieKey, key, maxAge)
	}

	now := a.clock.Now()

	if !creds.Prehashed && a.cfg.Auth.RehashOnLogin && a.hasher.NeedsRehash(user.Password) {
		if rehashed, err := a.hasher.Hash(creds.Password); err == nil {
			if err := a.users.UpdatePassword(ctx, user.UserID, rehashed, "", now); err != nil {
				a.logger.Warn("password rehash failed", map[string]interface{}{
					"user_id": user.UserID,
					"error":   err.Error(),
				})
			}
		}
	}

	if err := a.users.UpdateLastLogin(ctx, user.UserID, now, creds.IP); err != nil {
		a.logger.Warn("last-login bookkeeping failed", map[string]interface{}{
			"user_id": user.UserID,
			"error":   err.Error(),
		})
	}

	if a.notifier != nil {
		// best effort, exactly once, never on failure paths
		_ = a.notifier.LoginSucceeded(ctx, types.LoginEvent{
			UserID:    user.UserID,
			Username:  identity.Username,
			IP:        creds.IP,
			Timestamp: now,
			Remember:  creds.Remember,
		})
	}

	return identity, nil
}

// verifyKey checks the claim against the stored hash and returns the
// session key (the stored hash) on success
func (a *Authenticator) verifyKey(creds Credentials, stored string) (string, bool, error) {
	if creds.Prehashed {
		ok := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(stored)) == 1
		return stored, ok, nil
	}
	ok, err := a.hasher.Verify(creds.Password, stored)
	if err != nil {
		return "", false, err
	}
	return stored, ok, nil
}

// IsLoggedIn reconciles the two identity carriers. A present cookie pair
// is authoritative: it is re-verified against the store and the session is
// created or torn down to agree with it. Otherwise the session pair alone
// is validated. Any verification failure clears both carriers.
func (a *Authenticator) IsLoggedIn(ctx context.Context, cookies session.CookiePair) (bool, error) {
	if cookies.Present() {
		if !a.checkPair(ctx, cookies.Name, cookies.Key) {
			a.Logout(ctx)
			return false, nil
		}

		sessName, hasName := a.sess.Get(a.cfg.Auth.CookieName)
		sessKey, hasKey := a.sess.Get(a.cfg.Auth.CookieKey)
		if !hasName || !hasKey {
			a.sess.Set(a.cfg.Auth.CookieName, cookies.Name)
			a.sess.Set(a.cfg.Auth.CookieKey, cookies.Key)
			return true, nil
		}
		if sessName != cookies.Name || sessKey != cookies.Key {
			a.Logout(ctx)
			return false, nil
		}
		return true, nil
	}

	sessName, hasName := a.sess.Get(a.cfg.Auth.CookieName)
	sessKey, hasKey := a.sess.Get(a.cfg.Auth.CookieKey)
	if !hasName || !hasKey {
		return false, nil
	}
	if !a.checkPair(ctx, sessName, sessKey) {
		a.Logout(ctx)
		return false, nil
	}
	return true, nil
}

// checkPair validates an identifier/key pair against the store and, when
// valid, establishes identity state
func (a *Authenticator) checkPair(ctx context.Context, name, key string) bool {
	user, err := a.users.FindByLoginFields(ctx, a.loginMatches(name))
	if err != nil {
		a.logger.Error("user lookup failed during session check", err, nil)
		return false
	}
	if user == nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(user.Password)) != 1 {
		return false
	}
	if !user.Status.IsActive() {
		return false
	}

	a.identity = &types.Identity{
		UserID:   user.UserID,
		Username: strings.ToLower(strings.TrimSpace(name)),
		GroupID:  user.GroupID,
		User:     user,
	}
	return true
}

// Logout clears identity state and expires both cookie entries. It is
// idempotent: logging out while anonymous is a no-op, not an error.
func (a *Authenticator) Logout(ctx context.Context) {
	userID := ""
	if a.identity != nil {
		userID = a.identity.UserID
	}

	a.sess.Clear()
	if a.cookies != nil {
		a.cookies.ExpireCookie(a.cfg.Auth.CookieName)
		a.cookies.ExpireCookie(a.cfg.Auth.CookieKey)
	}
	a.identity = nil

	if userID != "" && a.notifier != nil {
		_ = a.notifier.LoggedOut(ctx, userID)
	}
}

// ValidUser checks a credential pair without touching any identity state.
// A nil password skips the password check. Returns the user on success.
func (a *Authenticator) ValidUser(ctx context.Context, username string, plainPassword *string) (*types.UserRecord, error) {
	user, err := a.users.FindByLoginFields(ctx, a.loginMatches(username))
	if err != nil {
		return nil, grantlyerr.NewStoreError("user lookup failed", err)
	}
	if user == nil {
		return nil, grantlyerr.NewCredentialNotFoundError()
	}

	if plainPassword != nil {
		ok, err := a.hasher.Verify(*plainPassword, user.Password)
		if err != nil || !ok {
			return nil, grantlyerr.NewCredentialMismatchError()
		}
	}

	if !user.Status.IsActive() {
		return nil, grantlyerr.NewAccountInactiveError(user.Status)
	}
	return user, nil
}

// CheckOutcome reports the result of a registration-style login field check
type CheckOutcome struct {
	OK bool
	// Reason is "required" when a field is missing or fails its pattern,
	// "exist" when a row already uses the value
	Reason string
	Field  string
}

// CheckUserByLogin validates candidate login field values: each configured
// field must be present, match its configured patterns, and not collide
// with an existing user. With onlyKnown set, only fields present in data
// are checked.
func (a *Authenticator) CheckUserByLogin(ctx context.Context, data map[string]string, onlyKnown bool) (CheckOutcome, error) {
	fields := a.cfg.LoginFields()
	if onlyKnown {
		var known []string
		for _, field := range fields {
			if _, ok := data[field]; ok {
				known = append(known, field)
			}
		}
		fields = known
	}

	for _, field := range fields {
		value := data[field]
		if value == "" {
			return CheckOutcome{Reason: "required", Field: field}, nil
		}
		for _, pattern := range a.cfg.Auth.Patterns[field] {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return CheckOutcome{}, grantlyerr.NewConfigInvalidError("invalid login field pattern").
					WithDetail("field", field).WithDetail("pattern", pattern)
			}
			if !re.MatchString(value) {
				return CheckOutcome{Reason: "required", Field: field}, nil
			}
		}
	}

	for _, field := range fields {
		user, err := a.users.FindByField(ctx, field, data[field])
		if err != nil {
			return CheckOutcome{}, grantlyerr.NewStoreError("user lookup failed", err)
		}
		if user != nil {
			return CheckOutcome{Reason: "exist", Field: field}, nil
		}
	}

	return CheckOutcome{OK: true}, nil
}

// ResetResult carries the freshly generated credentials of a reset
type ResetResult struct {
	Password      string
	ActivationKey string
}

// ResetPassword generates a new random password and activation key for
// the user matching the identifier, and persists the new hash
func (a *Authenticator) ResetPassword(ctx context.Context, username string) (*ResetResult, error) {
	user, err := a.users.FindByLoginFields(ctx, a.loginMatches(username))
	if err != nil {
		return nil, grantlyerr.NewStoreError("user lookup failed", err)
	}
	if user == nil {
		return nil, grantlyerr.NewCredentialNotFoundError()
	}

	newPass, err := a.generator.Password(a.cfg.Password.Length, a.cfg.Password.SpecialChars)
	if err != nil {
		return nil, err
	}
	activationKey, err := a.generator.ActivationKey(a.cfg.Password.ActivationLen)
	if err != nil {
		return nil, err
	}

	hash, err := a.hasher.Hash(newPass)
	if err != nil {
		return nil, err
	}

	if err := a.users.UpdatePassword(ctx, user.UserID, hash, activationKey, a.clock.Now()); err != nil {
		return nil, grantlyerr.NewStoreError("password update failed", err)
	}

	return &ResetResult{Password: newPass, ActivationKey: activationKey}, nil
}

// UpdatePassword sets a caller-chosen password for a user id. An empty id
// targets the current identity.
func (a *Authenticator) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	if userID == "" {
		if a.identity.IsAnonymous() {
			return grantlyerr.NewCredentialNotFoundError()
		}
		userID = a.identity.UserID
	}

	hash, err := a.hasher.Hash(strings.TrimSpace(newPassword))
	if err != nil {
		return err
	}
	if err := a.users.UpdatePassword(ctx, userID, hash, "", a.clock.Now()); err != nil {
		return grantlyerr.NewStoreError("password update failed", err)
	}
	return nil
}

// IsValidPassword verifies a plaintext against the current identity's
// stored hash
func (a *Authenticator) IsValidPassword(ctx context.Context, plain string) (bool, error) {
	if a.identity.IsAnonymous() {
		return false, grantlyerr.NewCredentialNotFoundError()
	}
	user, err := a.users.FindByID(ctx, a.identity.UserID)
	if err != nil {
		return false, grantlyerr.NewStoreError("user lookup failed", err)
	}
	if user == nil {
		return false, grantlyerr.NewCredentialNotFoundError()
	}

	ok, err := a.hasher.Verify(plain, user.Password)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// GetUserBy returns the user where field equals value, or nil
func (a *Authenticator) GetUserBy(ctx context.Context, field, value string) (*types.UserRecord, error) {
	return a.users.FindByField(ctx, field, value)
}

// GetUserIDBy returns only the id of the matching user, or empty
func (a *Authenticator) GetUserIDBy(ctx context.Context, field, value string) (string, error) {
	user, err := a.users.FindByField(ctx, field, value)
	if err != nil || user == nil {
		return "", err
	}
	return user.UserID, nil
}

// IsUsernameExists reports whether a username is taken
func (a *Authenticator) IsUsernameExists(ctx context.Context, username string) (bool, error) {
	user, err := a.users.FindByField(ctx, "username", username)
	return user != nil, err
}

// IsEmailExists reports whether an email is taken
func (a *Authenticator) IsEmailExists(ctx context.Context, email string) (bool, error) {
	user, err := a.users.FindByField(ctx, "email", email)
	return user != nil, err
}
