// Package auth validates API keys and resolves principals with their roles.
//
// DESIGN: Static credentials come from two sources merged at startup: the
// API_KEYS environment option and an optional YAML credentials file. Bearer
// comparison is constant-time across the full key set so response timing
// never narrows down a valid key. Role expansion happens once per
// authentication against the role hierarchy.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/synthlang/proxy/internal/config"
)

var (
	// ErrUnauthenticated is returned for missing or unknown bearer tokens.
	ErrUnauthenticated = errors.New("unauthenticated: missing or invalid API key")
	// ErrForbidden is returned when a principal lacks a required role.
	ErrForbidden = errors.New("forbidden: insufficient role")
)

// Principal is an authenticated caller with its expanded role set.
// QuotaQPM is a per-key rate limit override; zero means the role-based
// quota applies.
type Principal struct {
	UserID   string
	Roles    map[string]bool
	QuotaQPM int
}

// HasRole reports whether the principal holds the given role, directly
// or through the hierarchy.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	return p.Roles[role]
}

// RoleList returns the expanded roles in sorted order.
func (p *Principal) RoleList() []string {
	roles := make([]string, 0, len(p.Roles))
	for r := range p.Roles {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// credential is one resolved API key entry.
type credential struct {
	token    string
	user     string
	roles    []string // direct roles from the credentials file
	quotaQPM int      // per-key rate limit override, 0 = role default
}

// Authenticator validates bearer tokens and builds principals.
type Authenticator struct {
	creds        []credential
	hierarchy    *Hierarchy
	defaultRole  string
	adminUsers   map[string]bool
	premiumUsers map[string]bool
}

// New builds an Authenticator from configuration, merging the API_KEYS
// option with the optional AUTH_KEYS_PATH credentials file.
func New(cfg config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		hierarchy:    DefaultHierarchy(),
		defaultRole:  cfg.DefaultRole,
		adminUsers:   toSet(cfg.AdminUsers),
		premiumUsers: toSet(cfg.PremiumUsers),
	}

	seen := make(map[string]bool)
	for token, user := range cfg.APIKeys {
		a.creds = append(a.creds, credential{token: token, user: user})
		seen[token] = true
	}

	if cfg.KeysPath != "" {
		fileCreds, err := loadKeysFile(cfg.KeysPath)
		if err != nil {
			return nil, fmt.Errorf("loading credentials file: %w", err)
		}
		for _, fc := range fileCreds {
			if seen[fc.token] {
				return nil, fmt.Errorf("duplicate API key for user %q in %s", fc.user, cfg.KeysPath)
			}
			a.creds = append(a.creds, fc)
			seen[fc.token] = true
		}
	}

	// Deterministic iteration keeps the comparison loop stable.
	sort.Slice(a.creds, func(i, j int) bool { return a.creds[i].token < a.creds[j].token })

	return a, nil
}

// Authenticate validates a bearer token and returns the principal with
// its transitively expanded role set.
//
// Comparison is constant-time over every registered key: the loop never
// exits early on a match, so timing does not reveal which (if any) key
// matched.
func (a *Authenticator) Authenticate(bearer string) (*Principal, error) {
	token := strings.TrimSpace(bearer)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	matched := -1
	for i := range a.creds {
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.creds[i].token)) == 1 {
			matched = i
		}
	}
	if matched == -1 {
		return nil, ErrUnauthenticated
	}

	cred := a.creds[matched]
	direct := a.directRoles(cred)
	return &Principal{
		UserID:   cred.user,
		Roles:    a.hierarchy.Expand(direct),
		QuotaQPM: cred.quotaQPM,
	}, nil
}

// RequireRole returns ErrForbidden when the principal does not hold role.
func (a *Authenticator) RequireRole(p *Principal, role string) error {
	if !p.HasRole(role) {
		return fmt.Errorf("%w: need %q", ErrForbidden, role)
	}
	return nil
}

// directRoles assembles the declared roles for a credential before
// hierarchy expansion: file-declared roles, user-list roles, the
// configured default role, and the implicit basic role.
func (a *Authenticator) directRoles(cred credential) []string {
	roles := append([]string{}, cred.roles...)
	if a.adminUsers[cred.user] {
		roles = append(roles, RoleAdmin)
	}
	if a.premiumUsers[cred.user] {
		roles = append(roles, RolePremium)
	}
	if a.defaultRole != "" {
		roles = append(roles, a.defaultRole)
	}
	roles = append(roles, RoleBasic)
	return roles
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
