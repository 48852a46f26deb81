package policy

import (
	"fmt"
	"strings"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
)

// Access is the kind of requirement a rule imposes.
type Access int

const (
	AccessPublic Access = iota
	AccessAuthenticated
	AccessRole
)

// Requirement is what a caller must satisfy for a matched rule.
type Requirement struct {
	Access Access
	Role   auth.Role
}

var (
	Public        = Requirement{Access: AccessPublic}
	Authenticated = Requirement{Access: AccessAuthenticated}
)

// RequireRole returns a requirement for role.
func RequireRole(role auth.Role) Requirement {
	return Requirement{Access: AccessRole, Role: role}
}

// ParseRequirement accepts "public", "authenticated" or "role:<NAME>".
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "public":
		return Public, nil
	case "authenticated":
		return Authenticated, nil
	}
	if prefix, role, ok := strings.Cut(s, ":"); ok && strings.EqualFold(prefix, "role") {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role == "" {
			return Requirement{}, fmt.Errorf("requirement %q: empty role", s)
		}
		return RequireRole(auth.Role(role)), nil
	}
	return Requirement{}, fmt.Errorf("unknown requirement %q", s)
}

func (r Requirement) String() string {
	switch r.Access {
	case AccessPublic:
		return "public"
	case AccessAuthenticated:
		return "authenticated"
	default:
		return "role:" + string(r.Role)
	}
}

// evaluate applies the requirement to a possibly anonymous identity.
func (r Requirement) evaluate(identity *auth.Identity) Outcome {
	switch r.Access {
	case AccessPublic:
		return Allow
	case AccessAuthenticated:
		if identity == nil {
			return DenyUnauthenticated
		}
		return Allow
	default:
		if identity == nil {
			return DenyUnauthenticated
		}
		if !identity.HasRole(r.Role) {
			return DenyForbidden
		}
		return Allow
	}
}

// Rule binds a method and path pattern to a requirement.
type Rule struct {
	// Method is an HTTP method, or "" for any.
	Method      string
	Pattern     Pattern
	Requirement Requirement
}

// NewRule parses a rule. method "" or "*" matches any method.
func NewRule(method, pattern, requirement string) (Rule, error) {
	p, err := ParsePattern(strings.TrimSpace(pattern))
	if err != nil {
		return Rule{}, err
	}
	req, err := ParseRequirement(requirement)
	if err != nil {
		return Rule{}, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "*" {
		method = ""
	}
	return Rule{Method: method, Pattern: p, Requirement: req}, nil
}

// MustRule is NewRule that panics on error.
func MustRule(method, pattern, requirement string) Rule {
	r, err := NewRule(method, pattern, requirement)
	if err != nil {
		panic(err)
	}
	return r
}

// Matches reports whether the rule applies to the request line.
func (r Rule) Matches(method, path string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return r.Pattern.Match(path)
}

func (r Rule) String() string {
	method := r.Method
	if method == "" {
		method = "*"
	}
	return method + " " + r.Pattern.String() + " " + r.Requirement.String()
}
