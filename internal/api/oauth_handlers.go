package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lavente-care/ciam/internal/api/helpers"
	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
	"github.com/lavente-care/ciam/internal/oauthserver"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

// oidcDiscovery is the subset of the OpenID Connect discovery document
// clients need to bootstrap without prior configuration.
type oidcDiscovery struct {
	Issuer                  string   `json:"issuer"`
	AuthorizationEndpoint   string   `json:"authorization_endpoint"`
	TokenEndpoint           string   `json:"token_endpoint"`
	UserinfoEndpoint        string   `json:"userinfo_endpoint"`
	JWKSURI                 string   `json:"jwks_uri"`
	IntrospectionEndpoint   string   `json:"introspection_endpoint"`
	RevocationEndpoint      string   `json:"revocation_endpoint"`
	ResponseTypesSupported  []string `json:"response_types_supported"`
	GrantTypesSupported     []string `json:"grant_types_supported"`
	SubjectTypesSupported   []string `json:"subject_types_supported"`
	IDTokenSigningAlgValues []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported         []string `json:"scopes_supported"`
	ClaimsSupported         []string `json:"claims_supported"`
	PKCEMethodsSupported    []string `json:"code_challenge_methods_supported"`
}

// DiscoveryDocument serves GET /.well-known/openid-configuration.
func (s *Server) DiscoveryDocument(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, oidcDiscovery{
		Issuer:                  s.Config.Issuer,
		AuthorizationEndpoint:   s.Config.Issuer + "/authorize",
		TokenEndpoint:           s.Config.Issuer + "/oauth/token",
		UserinfoEndpoint:        s.Config.Issuer + "/api/v1/oauth/userinfo",
		JWKSURI:                 s.Config.Issuer + "/.well-known/jwks.json",
		IntrospectionEndpoint:   s.Config.Issuer + "/oauth/introspect",
		RevocationEndpoint:      s.Config.Issuer + "/oauth/revoke",
		ResponseTypesSupported:  []string{"code"},
		GrantTypesSupported:     []string{"authorization_code", "refresh_token", "client_credentials"},
		SubjectTypesSupported:   []string{"public"},
		IDTokenSigningAlgValues: []string{"RS256"},
		ScopesSupported:         []string{"openid", "profile", "email", "offline_access"},
		ClaimsSupported:         []string{"sub", "email", "email_verified", "name", "tid"},
		PKCEMethodsSupported:    []string{"S256", "plain"},
	})
}

// JWKSDocument serves GET /.well-known/jwks.json.
func (s *Server) JWKSDocument(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, s.Tokens.JWKS())
}

// Authorize serves GET /authorize. The caller must already hold a bearer
// access token identifying the resource owner — this deployment has no
// browser login page of its own, so consent happens at the first-party
// client that obtained that token via /api/v1/auth/login.
func (s *Server) Authorize(w http.ResponseWriter, r *http.Request) {
	claims, err := s.bearerClaims(r)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "login_required")
		return
	}

	q := r.URL.Query()
	req := oauthserver.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	app, err := s.OAuth.ValidateAuthorizeRequest(r.Context(), req)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	// Third-party clients need recorded consent before a code is issued.
	// The first-party login surface re-submits the same request with
	// consent=approve once the user accepts the prompt.
	approved := q.Get("consent") == "approve"
	if err := s.OAuth.EnsureConsent(r.Context(), app, claims.UserID, req.Scope, approved); err != nil {
		if errors.Is(err, oauthserver.ErrConsentRequired) {
			helpers.RespondJSON(w, http.StatusOK, map[string]any{
				"consent_required": true,
				"client_id":        app.ClientID,
				"scope":            req.Scope,
			})
			return
		}
		writeOAuthError(w, err)
		return
	}

	code, err := s.OAuth.IssueAuthorizationCode(r.Context(), app, claims.UserID, claims.TenantID, req)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "server_error")
		return
	}

	redirect := req.RedirectURI + "?code=" + code
	if req.State != "" {
		redirect += "&state=" + req.State
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Token serves POST /oauth/token, dispatching on grant_type.
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	clientID, clientSecret := clientCredentialsFromRequest(r)
	ip := helpers.GetRealIP(r).String()
	ua := r.UserAgent()

	var (
		result oauthserver.TokenResult
		err    error
	)
	switch r.FormValue("grant_type") {
	case "authorization_code":
		result, err = s.OAuth.ExchangeAuthorizationCode(r.Context(), clientID, clientSecret,
			r.FormValue("redirect_uri"), r.FormValue("code"), r.FormValue("code_verifier"), ip, ua)
	case "refresh_token":
		result, err = s.OAuth.RefreshToken(r.Context(), clientID, clientSecret, r.FormValue("refresh_token"), r.FormValue("scope"), ip, ua)
	case "client_credentials":
		result, err = s.OAuth.ClientCredentials(r.Context(), clientID, clientSecret, r.FormValue("scope"))
	default:
		helpers.RespondError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"access_token":  result.AccessToken,
		"token_type":    result.TokenType,
		"expires_in":    result.ExpiresIn,
		"refresh_token": omitEmpty(result.RefreshToken),
		"id_token":      omitEmpty(result.IDToken),
		"scope":         result.Scope,
	})
}

// Introspect serves POST /oauth/introspect (RFC 7662).
func (s *Server) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	clientID, clientSecret := clientCredentialsFromRequest(r)
	result, err := s.OAuth.Introspect(r.Context(), clientID, clientSecret, r.FormValue("token"), r.FormValue("token_type_hint"))
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, result)
}

// Revoke serves POST /oauth/revoke (RFC 7009).
func (s *Server) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	clientID, clientSecret := clientCredentialsFromRequest(r)
	if err := s.OAuth.Revoke(r.Context(), clientID, clientSecret, r.FormValue("token"), r.FormValue("token_type_hint")); err != nil {
		writeOAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UserInfo serves GET /api/v1/oauth/userinfo.
func (s *Server) UserInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	user, err := s.DB.GetUserByID(r.Context(), userID)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "user not found")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"sub":            user.ID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"name":           derefOrEmpty(user.FullName),
	})
}

func (s *Server) bearerClaims(r *http.Request) (*tokencodec.AccessClaims, error) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.New("missing bearer token")
	}
	claims, err := s.Tokens.ValidateAccessToken(r.Context(), parts[1])
	if err != nil || claims.Scope != "access" {
		return nil, errors.New("invalid bearer token")
	}
	return claims, nil
}

func clientCredentialsFromRequest(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}

// writeOAuthError maps an oauthserver sentinel error onto the RFC 6749 §5.2
// error envelope, defaulting to invalid_request's 400 when nothing else
// matches.
func writeOAuthError(w http.ResponseWriter, err error) {
	code, status := "invalid_request", http.StatusBadRequest
	switch {
	case errors.Is(err, oauthserver.ErrInvalidClient):
		code, status = "invalid_client", http.StatusUnauthorized
	case errors.Is(err, oauthserver.ErrUnauthorizedClient):
		code, status = "unauthorized_client", http.StatusForbidden
	case errors.Is(err, oauthserver.ErrInvalidGrant):
		code, status = "invalid_grant", http.StatusBadRequest
	case errors.Is(err, oauthserver.ErrUnsupportedGrant):
		code, status = "unsupported_grant_type", http.StatusBadRequest
	case errors.Is(err, oauthserver.ErrInvalidRedirectURI):
		code, status = "invalid_request", http.StatusBadRequest
	case errors.Is(err, oauthserver.ErrInvalidScope):
		code, status = "invalid_scope", http.StatusBadRequest
	case errors.Is(err, oauthserver.ErrPKCERequired), errors.Is(err, oauthserver.ErrPKCEVerificationFail):
		code, status = "invalid_grant", http.StatusBadRequest
	case errors.Is(err, oauthserver.ErrConsentRequired):
		code, status = "consent_required", http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func omitEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
