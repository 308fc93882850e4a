// Package acl implements the Grantly grant evaluator: it computes the
// effective grant set for an identity and decides whether a requested
// component/view/task action is permitted.
//
// Evaluation policy: scopes are walked most specific first (user, group,
// public); within a scope the exclude list is checked before the include
// list; the first decisive match wins and exhaustion means deny. Absence
// of a matching rule is a normal outcome, never an error.
package acl

import (
	"context"
	"sync"

	"github.com/grantly/grantly/pkg/config"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/types"
)

// baselinePublic are granted to everyone so that authentication and error
// flows can never lock a user out. Each entry is firewall-prefixed at
// evaluation time.
var baselinePublic = []string{
	"errors:**",
	"members:logout",
	"members:login",
	"members:auth",
	"members:endpoint",
	"members:resetpass:*",
	"members:pwreset:*",
	"members:activate:*",
}

// Evaluator computes and checks grants for one request's identities.
// Construct one per request; the memoization cache must not be shared
// across principals of different requests.
type Evaluator struct {
	cfg    *config.Config
	grants interfaces.GrantRepository
	logger interfaces.Logger

	mu       sync.Mutex
	computed map[string]types.GrantSet
}

// NewEvaluator creates an evaluator over the given grant repository
func NewEvaluator(cfg *config.Config, grants interfaces.GrantRepository, logger interfaces.Logger) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		grants:   grants,
		logger:   logger,
		computed: make(map[string]types.GrantSet),
	}
}

// GetGrants returns the effective grant set for a user id, an empty id
// meaning anonymous. Results are memoized for the evaluator's lifetime.
func (e *Evaluator) GetGrants(ctx context.Context, userID string) (types.GrantSet, error) {
	e.mu.Lock()
	if set, ok := e.computed[userID]; ok {
		e.mu.Unlock()
		return set, nil
	}
	e.mu.Unlock()

	set, err := e.computeGrants(ctx, userID)
	if err != nil {
		return types.GrantSet{}, err
	}

	e.mu.Lock()
	e.computed[userID] = set
	e.mu.Unlock()

	return set, nil
}

func (e *Evaluator) computeGrants(ctx context.Context, userID string) (types.GrantSet, error) {
	firewall := e.cfg.Auth.Firewall

	set := types.GrantSet{
		Public: e.cfg.Grants.Public.Clone(),
		Group:  e.cfg.Grants.Group.Clone(),
		User:   e.cfg.Grants.User.Clone(),
	}

	for _, rule := range baselinePublic {
		set.Public.Include = append(set.Public.Include, firewall+rule)
	}

	if userID == "" {
		return set, nil
	}

	userGrants, err := e.grants.UserGrants(ctx, userID)
	if err != nil {
		return types.GrantSet{}, err
	}
	set.User.Merge(userGrants)

	groups, err := e.grants.UserGroups(ctx, userID)
	if err != nil {
		return types.GrantSet{}, err
	}
	if len(groups) > 0 {
		groupGrants, err := e.grants.GroupGrants(ctx, groups)
		if err != nil {
			return types.GrantSet{}, err
		}
		set.Group.Merge(groupGrants)
	}

	return set, nil
}

// IsAllowed decides whether the action is permitted for the user id. An
// empty component defaults to home; an empty user id means anonymous.
// Deny is the default on exhaustion and on any ambiguous condition.
func (e *Evaluator) IsAllowed(ctx context.Context, action types.Action, userID string) (bool, error) {
	component := action.Component
	if component == "" {
		component = "home"
	}

	set, err := e.GetGrants(ctx, userID)
	if err != nil {
		e.logger.Error("grant computation failed, denying", err, map[string]interface{}{
			"user_id":   userID,
			"component": component,
		})
		return false, err
	}

	firewall := e.cfg.Auth.Firewall
	component = firewall + component

	for _, scope := range types.Scopes() {
		list := set.List(scope)
		if matchRules(component, action.View, action.Task, firewall, list.Exclude) {
			return false, nil
		}
		if matchRules(component, action.View, action.Task, firewall, list.Include) {
			return true, nil
		}
	}

	return false, nil
}

// IsPermitted checks a single candidate rule list against an action,
// without scope semantics. Exposed for callers that carry their own lists.
func (e *Evaluator) IsPermitted(action types.Action, rules []string) bool {
	component := action.Component
	if component == "" {
		component = "home"
	}
	return matchRules(component, action.View, action.Task, e.cfg.Auth.Firewall, rules)
}

// Invalidate drops the memoized grants of one user, e.g. after its grant
// rows changed mid-request
func (e *Evaluator) Invalidate(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.computed, userID)
}
