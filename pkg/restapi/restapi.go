// Package restapi implements the Grantly API request authenticator: it
// resolves an API key claim to a credential record, runs the validation
// gates, and verifies the HMAC request signature.
//
// Validation results are cacheable per (api key, client ip); the
// signature check runs on every request regardless.
package restapi

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"net"
	"net/url"
	"strings"

	"github.com/grantly/grantly/pkg/config"
	grantlyerr "github.com/grantly/grantly/pkg/errors"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/logger"
	"github.com/grantly/grantly/pkg/password"
	"github.com/grantly/grantly/pkg/types"
)

// baselinePublicMethods are served without credentials in addition to the
// configured list, so account bootstrap flows work before a key exists
var baselinePublicMethods = []string{
	"members.register",
	"members.login",
	"members.signin",
	"members.activate",
	"members.resetpass",
	"members.pwreset",
}

// Request is one API call's authentication material, already extracted
// from the transport
type Request struct {
	// Method is the dotted api method, e.g. "blog.index"
	Method string

	APIKey    string
	Signature string
	// SigAlgo selects the HMAC hash: sha256 (default), sha1 or md5
	SigAlgo string
	Nonce   string

	// Params is the request payload covered by the signature
	Params map[string]string

	IP      string
	Headers map[string]string
	HTTPS   bool
}

// Authenticator validates API requests
type Authenticator struct {
	cfg    *config.Config
	creds  interfaces.APICredentialRepository
	users  interfaces.UserRepository
	hasher *password.Hasher
	cache  interfaces.Cache
	logger interfaces.Logger
}

// NewAuthenticator creates an API request authenticator. The cache is
// optional; without one every request revalidates against the store.
func NewAuthenticator(cfg *config.Config, creds interfaces.APICredentialRepository, users interfaces.UserRepository, cache interfaces.Cache, log interfaces.Logger) *Authenticator {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Authenticator{
		cfg:    cfg,
		creds:  creds,
		users:  users,
		hasher: password.NewHasher(cfg.Auth.LegacySalting),
		cache:  cache,
		logger: log,
	}
}

// loginMatches builds the OR-condition values across the configured login
// fields for one identifier
func (a *Authenticator) loginMatches(name string) map[string]string {
	name = strings.ToLower(strings.TrimSpace(name))
	matches := make(map[string]string)
	for _, field := range a.cfg.LoginFields() {
		matches[field] = name
	}
	return matches
}

// IsPublic reports whether the method is served without credentials
func (a *Authenticator) IsPublic(method string) bool {
	if a.cfg.API.DisablePublic {
		return false
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return false
	}

	option := method
	if i := strings.Index(method, "."); i >= 0 {
		option = method[:i]
	}

	candidates := make([]string, 0, len(baselinePublicMethods)+len(a.cfg.API.PublicMethods))
	candidates = append(candidates, baselinePublicMethods...)
	candidates = append(candidates, a.cfg.API.PublicMethods...)

	for _, candidate := range candidates {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch candidate {
		case method, option + ".*":
			return true
		}
	}
	return false
}

// validation is the cacheable outcome of credential resolution
type validation struct {
	UserID           string   `json:"user_id"`
	Username         string   `json:"username"`
	GroupID          string   `json:"group_id"`
	Secret           string   `json:"secret"`
	RequireSignature bool     `json:"require_signature"`
	AllowedIPs       []string `json:"allowed_ips,omitempty"`
	HeaderKey        string   `json:"header_key,omitempty"`
	HeaderValue      string   `json:"header_value,omitempty"`
	HTTPSOnly        bool     `json:"https_only,omitempty"`
}

// Authorize authenticates one API request. Public methods yield an
// anonymous identity. All failures carry an A-series error code.
func (a *Authenticator) Authorize(ctx context.Context, req Request) (*types.Identity, error) {
	if strings.TrimSpace(req.Method) == "" {
		return nil, grantlyerr.NewAPIMethodMissingError()
	}

	if a.IsPublic(req.Method) {
		return &types.Identity{}, nil
	}

	if req.APIKey == "" {
		return nil, grantlyerr.NewAPIKeyNotFoundError()
	}

	val, err := a.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	// request-shaped gates run even on a cache hit
	if val.HTTPSOnly && !req.HTTPS {
		return nil, grantlyerr.NewProtocolNotAllowedError()
	}
	if val.HeaderKey != "" && req.Headers[val.HeaderKey] != val.HeaderValue {
		return nil, grantlyerr.NewHeaderMismatchError()
	}

	if val.RequireSignature {
		if req.Signature == "" {
			return nil, grantlyerr.NewSignatureMissingError()
		}
		expected := Sign(val.Secret, req.APIKey, req.Nonce, req.Params, req.SigAlgo)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(req.Signature)) != 1 {
			return nil, grantlyerr.NewSignatureInvalidError()
		}
	}

	return &types.Identity{
		UserID:   val.UserID,
		Username: val.Username,
		GroupID:  val.GroupID,
	}, nil
}

// validate resolves and gates the key claim, consulting the cache first
func (a *Authenticator) validate(ctx context.Context, req Request) (*validation, error) {
	cacheKey := fmt.Sprintf("api_cache_%s_%s", req.APIKey, req.IP)

	if a.cache != nil && a.cfg.API.CacheTTL > 0 {
		if raw, ok, err := a.cache.Get(ctx, cacheKey); err == nil && ok {
			val := &validation{}
			if err := json.Unmarshal(raw, val); err == nil {
				return val, nil
			}
		}
	}

	val, err := a.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if !ipAllowed(req.IP, val.AllowedIPs) {
		return nil, grantlyerr.NewIPNotAllowedError(req.IP)
	}

	if a.cache != nil && a.cfg.API.CacheTTL > 0 {
		if raw, err := json.Marshal(val); err == nil {
			if err := a.cache.Set(ctx, cacheKey, raw, a.cfg.API.CacheTTL); err != nil {
				a.logger.Warn("api validation cache write failed", map[string]interface{}{
					"api_key": req.APIKey,
					"error":   err.Error(),
				})
			}
		}
	}

	return val, nil
}

// resolve turns the key claim into a signing secret plus owner identity.
// A plain key hits the credential table. A composite "token:x" key
// identifies the user by token; any other "login:password" composite
// resolves the first half through the configured login fields, with the
// user-only mode skipping the password check.
func (a *Authenticator) resolve(ctx context.Context, req Request) (*validation, error) {
	if name, pass, composite := strings.Cut(req.APIKey, ":"); composite {
		var user *types.UserRecord
		var err error
		if pass == "x" {
			user, err = a.creds.FindUserByToken(ctx, name)
		} else {
			user, err = a.users.FindByLoginFields(ctx, a.loginMatches(name))
		}
		if err != nil {
			return nil, grantlyerr.NewStoreError("composite key lookup failed", err)
		}
		if user == nil {
			return nil, grantlyerr.NewAPIKeyNotFoundError()
		}
		if !user.Status.IsActive() {
			return nil, grantlyerr.NewAccountSuspendedError()
		}

		if pass != "x" && !a.cfg.API.UserOnly {
			ok, err := a.hasher.Verify(pass, user.Password)
			if err != nil || !ok {
				return nil, grantlyerr.NewAPIKeyNotFoundError()
			}
		}

		if user.Password == "" {
			return nil, grantlyerr.NewSecretNotConfiguredError()
		}
		return &validation{
			UserID:   user.UserID,
			Username: user.Username,
			GroupID:  user.GroupID,
			Secret:   user.Password,
		}, nil
	}

	cred, err := a.creds.FindByKey(ctx, req.APIKey)
	if err != nil {
		return nil, grantlyerr.NewStoreError("api key lookup failed", err)
	}
	if cred == nil || !cred.Status.IsActive() {
		return nil, grantlyerr.NewAPIKeyNotFoundError()
	}

	val := &validation{
		Secret:           cred.APISecret,
		RequireSignature: cred.RequireSignature,
		AllowedIPs:       cred.AllowedIPs,
		HeaderKey:        cred.HeaderKey,
		HeaderValue:      cred.HeaderValue,
		HTTPSOnly:        cred.HTTPSOnly,
	}

	if cred.UserID != "" {
		user, err := a.users.FindByID(ctx, cred.UserID)
		if err != nil {
			return nil, grantlyerr.NewStoreError("key owner lookup failed", err)
		}
		if user == nil || !user.Status.IsActive() {
			return nil, grantlyerr.NewAccountSuspendedError()
		}
		val.UserID = user.UserID
		val.Username = user.Username
		val.GroupID = user.GroupID
	}

	if val.RequireSignature && val.Secret == "" {
		return nil, grantlyerr.NewSecretNotConfiguredError()
	}
	return val, nil
}

// ipAllowed checks the client address against an allow-list of exact
// addresses and CIDR ranges. An empty list allows everything.
func ipAllowed(ip string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	parsed := net.ParseIP(ip)
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if parsed == nil {
				continue
			}
			if _, network, err := net.ParseCIDR(entry); err == nil && network.Contains(parsed) {
				return true
			}
			continue
		}
		if entry == ip {
			return true
		}
	}
	return false
}

// CanonicalPayload builds the signing payload: parameter keys lowercased,
// url-encoded in sorted key order, then base64
func CanonicalPayload(params map[string]string) string {
	values := url.Values{}
	for key, value := range params {
		values.Set(strings.ToLower(key), value)
	}
	return base64.StdEncoding.EncodeToString([]byte(values.Encode()))
}

// Sign computes the request signature: the hex HMAC over api key, nonce
// and canonical payload joined by newlines. algo selects sha256 (default,
// also the empty string), sha1 or md5; the legacy hashes exist only for
// old clients.
func Sign(secret, apiKey, nonce string, params map[string]string, algo string) string {
	var constructor func() hash.Hash
	switch strings.ToLower(algo) {
	case "sha1":
		constructor = sha1.New
	case "md5":
		constructor = md5.New
	default:
		constructor = sha256.New
	}

	mac := hmac.New(constructor, []byte(secret))
	mac.Write([]byte(apiKey + "\n" + nonce + "\n" + CanonicalPayload(params)))
	return hex.EncodeToString(mac.Sum(nil))
}
