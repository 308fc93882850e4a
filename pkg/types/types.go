// Package types defines the core types shared across Grantly
package types

import (
	"strings"
	"time"
)

// UserStatus represents the activation state of a user account
type UserStatus int

const (
	// StatusInactive marks an account that cannot sign in
	StatusInactive UserStatus = 0
	// StatusActive marks an account that is allowed to sign in
	StatusActive UserStatus = 1
	// StatusSuspended marks an account that was disabled by an operator
	StatusSuspended UserStatus = 2
)

// IsActive reports whether the status allows authentication
func (s UserStatus) IsActive() bool {
	return s == StatusActive
}

// Action is the requested target of an authorization check.
// Component is required; View and Task narrow it down.
type Action struct {
	Component string `json:"component"`
	View      string `json:"view,omitempty"`
	Task      string `json:"task,omitempty"`
}

// ParseAction parses "component.view.task" (or "component:view:task")
// into an Action. Missing segments are left empty.
func ParseAction(s string) Action {
	s = strings.TrimSpace(s)
	sep := "."
	if strings.Contains(s, ":") && !strings.Contains(s, ".") {
		sep = ":"
	}
	parts := strings.SplitN(s, sep, 3)

	action := Action{Component: parts[0]}
	if len(parts) > 1 {
		action.View = parts[1]
	}
	if len(parts) > 2 {
		action.Task = parts[2]
	}
	return action
}

// String renders the action in dotted form
func (a Action) String() string {
	out := a.Component
	if a.View != "" || a.Task != "" {
		out += "." + a.View
	}
	if a.Task != "" {
		out += "." + a.Task
	}
	return out
}

// GrantList holds the two rule lists of one scope. Exclude always takes
// precedence over Include when both match the same action.
type GrantList struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// Merge appends the rules of other onto l, preserving list order
func (l *GrantList) Merge(other GrantList) {
	l.Include = append(l.Include, other.Include...)
	l.Exclude = append(l.Exclude, other.Exclude...)
}

// Clone returns an independent copy of the list
func (l GrantList) Clone() GrantList {
	out := GrantList{
		Include: make([]string, len(l.Include)),
		Exclude: make([]string, len(l.Exclude)),
	}
	copy(out.Include, l.Include)
	copy(out.Exclude, l.Exclude)
	return out
}

// IsEmpty reports whether the list carries no rules at all
func (l GrantList) IsEmpty() bool {
	return len(l.Include) == 0 && len(l.Exclude) == 0
}

// GrantSet is the effective permission data computed for one identity.
// Scopes are evaluated most specific first: User, Group, Public.
type GrantSet struct {
	Public GrantList `json:"public"`
	Group  GrantList `json:"group"`
	User   GrantList `json:"user"`
}

// Scope names a grant bucket within a GrantSet
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeGroup  Scope = "group"
	ScopePublic Scope = "public"
)

// Scopes lists the evaluation order: most specific first
func Scopes() []Scope {
	return []Scope{ScopeUser, ScopeGroup, ScopePublic}
}

// List returns the grant list for the named scope
func (g *GrantSet) List(scope Scope) *GrantList {
	switch scope {
	case ScopeUser:
		return &g.User
	case ScopeGroup:
		return &g.Group
	default:
		return &g.Public
	}
}

// UserRecord represents an authenticable principal as loaded from the
// user store. The authenticator treats it as read-only except for the
// sign-in bookkeeping and password-reset fields.
type UserRecord struct {
	UserID        string                 `json:"user_id"`
	Username      string                 `json:"username"`
	Email         string                 `json:"email,omitempty"`
	Password      string                 `json:"-"`
	Status        UserStatus             `json:"status"`
	GroupID       string                 `json:"group_id,omitempty"`
	Token         string                 `json:"-"`
	LastSignin    time.Time              `json:"last_signin,omitempty"`
	LastPwChange  time.Time              `json:"last_pw_change,omitempty"`
	ActivationKey string                 `json:"-"`
	IP            string                 `json:"ip,omitempty"`
	Profile       map[string]interface{} `json:"profile,omitempty"`
}

// Identity is the resolved "who is logged in" state for one request.
// It is owned by the request context and never shared across requests.
type Identity struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	GroupID  string      `json:"group_id,omitempty"`
	User     *UserRecord `json:"user,omitempty"`
}

// IsAnonymous reports whether no principal has been resolved
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.UserID == ""
}

// APICredential maps an API key to its secret and validation gates
type APICredential struct {
	APIKey           string     `json:"api_key"`
	APISecret        string     `json:"-"`
	UserID           string     `json:"user_id"`
	Status           UserStatus `json:"status"`
	RequireSignature bool       `json:"require_signature"`
	AllowedIPs       []string   `json:"allowed_ips,omitempty"`
	HeaderKey        string     `json:"header_key,omitempty"`
	HeaderValue      string     `json:"header_value,omitempty"`
	HTTPSOnly        bool       `json:"https_only"`
}

// LoginEvent is published to notifiers after a successful sign-in
type LoginEvent struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	IP        string    `json:"ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Remember  bool      `json:"remember"`
}
