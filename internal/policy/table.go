package policy

import (
	"fmt"
	"strings"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/config"
)

// Outcome is the result of a policy decision.
type Outcome int

const (
	Allow Outcome = iota
	DenyUnauthenticated
	DenyForbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "deny_unauthenticated"
	case DenyForbidden:
		return "deny_forbidden"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// NoMatch selects what happens to requests no rule matches.
type NoMatch int

const (
	NoMatchPermit NoMatch = iota
	NoMatchDeny
)

// ParseNoMatch accepts "permit" or "deny".
func ParseNoMatch(s string) (NoMatch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permit":
		return NoMatchPermit, nil
	case "deny":
		return NoMatchDeny, nil
	default:
		return 0, fmt.Errorf("unknown no-match default %q", s)
	}
}

// Decision is the outcome plus the rule that produced it. Rule is nil when no rule matched.
type Decision struct {
	Outcome  Outcome
	Rule     *Rule
	// Rejected is set when the path was refused before any rule was consulted.
	Rejected bool
}

// RuleName describes the deciding rule for logs and metrics.
func (d Decision) RuleName() string {
	switch {
	case d.Rejected:
		return "non_canonical_path"
	case d.Rule == nil:
		return "default"
	default:
		return d.Rule.String()
	}
}

// Table is an ordered, immutable rule list. The first matching rule wins.
type Table struct {
	rules   []Rule
	noMatch NoMatch
}

// NewTable copies rules into a new table.
func NewTable(rules []Rule, noMatch NoMatch) *Table {
	return &Table{rules: append([]Rule(nil), rules...), noMatch: noMatch}
}

// Rules returns a copy of the table's rules in evaluation order.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Decide evaluates the request line against the table. identity is nil for anonymous callers.
//
// Paths with empty, "." or ".." segments are denied outright. Routers that clean paths
// would dispatch them to a different route than the one the rules see.
func (t *Table) Decide(method, path string, identity *auth.Identity) Decision {
	if !isCanonical(path) {
		return Decision{Outcome: deny(identity), Rejected: true}
	}

	for i := range t.rules {
		rule := &t.rules[i]
		if rule.Matches(method, path) {
			return Decision{Outcome: rule.Requirement.evaluate(identity), Rule: rule}
		}
	}

	if t.noMatch == NoMatchPermit {
		return Decision{Outcome: Allow}
	}
	return Decision{Outcome: deny(identity)}
}

func deny(identity *auth.Identity) Outcome {
	if identity == nil {
		return DenyUnauthenticated
	}
	return DenyForbidden
}

// DefaultRules returns the built-in table used when no rules are configured.
func DefaultRules() []Rule {
	return []Rule{
		MustRule("*", "/h2-console/**", "public"),
		MustRule("GET", "/health", "public"),
		MustRule("GET", "/oauth2/authorization/*", "public"),
		MustRule("*", "/login/oauth2/code/*", "public"),
		MustRule("GET", "/api/*/posts/{id}", "public"),
		MustRule("GET", "/api/*/posts", "public"),
		MustRule("GET", "/api/*/posts/{postId}/comments", "public"),
		MustRule("GET", "/api/*/posts/{postId}/genFiles", "public"),
		MustRule("*", "/api/*/members/login", "public"),
		MustRule("*", "/api/*/members/join", "public"),
		MustRule("*", "/api/*/members/logout", "public"),
		MustRule("*", "/api/v1/posts/statistics", "role:ADMIN"),
		MustRule("*", "/api/*/**", "authenticated"),
	}
}

// RulesFromConfig parses configured rule entries, falling back to DefaultRules when
// none are configured.
func RulesFromConfig(entries []config.RuleConfig) ([]Rule, error) {
	if len(entries) == 0 {
		return DefaultRules(), nil
	}
	rules := make([]Rule, 0, len(entries))
	for i, e := range entries {
		rule, err := NewRule(e.Method, e.Path, e.Access)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// FromConfig builds a table from the policy section of the configuration.
func FromConfig(cfg config.PolicyConfig) (*Table, error) {
	rules, err := RulesFromConfig(cfg.Rules)
	if err != nil {
		return nil, err
	}
	noMatch, err := ParseNoMatch(cfg.Default)
	if err != nil {
		return nil, err
	}
	return NewTable(rules, noMatch), nil
}
