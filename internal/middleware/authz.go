package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/envelope"
	"github.com/dlfjsld1/kopring-gateway/internal/policy"
	"github.com/dlfjsld1/kopring-gateway/internal/telemetry"
)

// DecisionRecorder counts enforcement outcomes. *telemetry.AuthMetrics implements it.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, outcome, rule string)
}

// AuthzDependencies provides the collaborators needed for authorization decisions.
type AuthzDependencies struct {
	Table       *policy.Table
	Metrics     DecisionRecorder
	// DecisionLog, when set, receives one line per decision. serve sets it in debug mode.
	DecisionLog *log.Logger
}

// NewAuthzMiddleware constructs a Chi middleware that enforces the access policy table.
// Denied requests get the 401-1 or 403-1 envelope and never reach the next handler.
func NewAuthzMiddleware(deps AuthzDependencies) (func(http.Handler) http.Handler, error) {
	if deps.Table == nil {
		return nil, errors.New("authz middleware requires a policy table")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := auth.IdentityFromContext(r.Context())
			decision := deps.Table.Decide(r.Method, r.URL.Path, identity)

			if deps.Metrics != nil {
				deps.Metrics.RecordDecision(r.Context(), decision.Outcome.String(), decision.RuleName())
			}
			if deps.DecisionLog != nil {
				caller := "anonymous"
				if identity != nil {
					caller = identity.ID
				}
				deps.DecisionLog.Printf("authz: %s %s caller=%s outcome=%s rule=%q",
					r.Method, r.URL.Path, caller, decision.Outcome, decision.RuleName())
			}

			switch decision.Outcome {
			case policy.Allow:
				next.ServeHTTP(w, r)
			case policy.DenyForbidden:
				_, span := telemetry.StartSpan(r.Context(), "authgate/middleware", "authz.Deny",
					attribute.String(telemetry.AttrPolicyOutcome, decision.Outcome.String()),
					attribute.String(telemetry.AttrPolicyRule, decision.RuleName()),
					attribute.String(telemetry.AttrIdentityID, identity.ID),
				)
				span.End()
				envelope.Forbidden(w)
			default:
				envelope.Unauthorized(w)
			}
		})
	}, nil
}
