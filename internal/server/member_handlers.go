package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dlfjsld1/kopring-gateway/internal/auth"
	"github.com/dlfjsld1/kopring-gateway/internal/envelope"
	"github.com/dlfjsld1/kopring-gateway/internal/member"
)

// MemberService is the subset of *member.Service the member endpoints use.
type MemberService interface {
	Register(ctx context.Context, reg member.Registration) (*auth.Identity, error)
	Authenticate(ctx context.Context, username, password string) (*auth.Identity, error)
	IssueCredential(ctx context.Context, identity *auth.Identity) (auth.IssuedCredential, error)
}

// JoinRequest is the body of POST /api/v1/members/join.
type JoinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

// LoginRequest is the body of POST /api/v1/members/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// MemberResponse is the public view of an identity.
type MemberResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Nickname string   `json:"nickname"`
	Roles    []string `json:"roles"`
}

// LoginResponse carries the member and the credentials also set as cookies.
type LoginResponse struct {
	Item        MemberResponse `json:"item"`
	APIKey      string         `json:"apiKey"`
	AccessToken string         `json:"accessToken"`
	ExpiresAt   int64          `json:"expiresAt"`
}

func mountMemberRoutes(r chi.Router, members MemberService, cookies *auth.CookieWriter) {
	r.Route("/api/v1/members", func(r chi.Router) {
		r.Post("/join", HandleJoin(members))
		r.Post("/login", HandleLogin(members, cookies))
		r.Post("/logout", HandleLogout(cookies))
		r.Delete("/logout", HandleLogout(cookies))
		r.Get("/me", HandleMe())
	})
}

// HandleJoin registers a local member.
func HandleJoin(members MemberService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}

		identity, err := members.Register(r.Context(), member.Registration{
			Username: req.Username,
			Password: req.Password,
			Nickname: req.Nickname,
		})
		switch {
		case errors.Is(err, member.ErrInvalidRegistration):
			writeBadRequest(w, "username and password are required")
			return
		case errors.Is(err, member.ErrUsernameTaken):
			envelope.Write(w, http.StatusConflict, envelope.RsData{Code: "409-1", Message: "username already taken"})
			return
		case err != nil:
			log.Printf("join: failed to register %q: %v", req.Username, err)
			writeInternalError(w)
			return
		}

		envelope.OK(w, http.StatusCreated, fmt.Sprintf("welcome, %s", identity.Nickname), toMemberResponse(identity))
	}
}

// HandleLogin checks a username and password and sets both credential cookies.
func HandleLogin(members MemberService, cookies *auth.CookieWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeBadRequest(w, "missing username or password")
			return
		}

		identity, err := members.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			if !errors.Is(err, member.ErrInvalidPassword) {
				log.Printf("login: authenticate %q: %v", req.Username, err)
			}
			envelope.Unauthorized(w)
			return
		}

		issued, err := members.IssueCredential(r.Context(), identity)
		if err != nil {
			log.Printf("login: issue credential for %s: %v", identity.ID, err)
			writeInternalError(w)
			return
		}

		cookies.SetCredentialCookies(w, issued)
		envelope.OK(w, http.StatusOK, fmt.Sprintf("%s logged in", identity.Nickname), LoginResponse{
			Item:        toMemberResponse(identity),
			APIKey:      issued.APIKey,
			AccessToken: issued.AccessToken,
			ExpiresAt:   issued.ExpiresAt.UnixMilli(),
		})
	}
}

// HandleLogout expires both credential cookies.
func HandleLogout(cookies *auth.CookieWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookies.ClearCredentialCookies(w)
		envelope.OK(w, http.StatusOK, "logged out", nil)
	}
}

// HandleMe returns the identity attached by the authentication filter.
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			envelope.Unauthorized(w)
			return
		}
		envelope.OK(w, http.StatusOK, "current member", toMemberResponse(identity))
	}
}

func toMemberResponse(identity *auth.Identity) MemberResponse {
	return MemberResponse{
		ID:       identity.ID,
		Username: identity.Username,
		Nickname: identity.Nickname,
		Roles:    identity.RoleNames(),
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	envelope.Write(w, http.StatusBadRequest, envelope.RsData{Code: "400-1", Message: message})
}

func writeInternalError(w http.ResponseWriter) {
	envelope.Write(w, http.StatusInternalServerError, envelope.RsData{Code: "500-1", Message: "internal server error"})
}
