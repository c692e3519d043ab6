package oauth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parkgate-io/authcore/identity"
	"github.com/parkgate-io/authcore/instrumentation"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/server"
	"github.com/parkgate-io/authcore/storage"
)

const tokenTypeBearer = "Bearer"

// Handler is a thin HTTP adapter for the authorization server. It parses
// requests, resolves the current user, delegates to the server package for
// protocol logic, and renders the results: JSON for machine endpoints, the
// consent page and redirects for the browser-facing authorization endpoint.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer

	// CurrentUser resolves the authenticated end user for browser-facing
	// endpoints, typically from a session cookie. A nil func or a nil
	// return means no user is logged in; login itself is out of scope here.
	CurrentUser func(r *http.Request) *identity.Identity

	// LoginURL is where unauthenticated users are sent to log in. The
	// original authorization URL is appended as the "next" query parameter
	// so the login flow can resume it. Empty means respond 401 instead of
	// redirecting.
	LoginURL string
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// Routes registers the protocol endpoints on the given mux. The userinfo
// endpoint is mounted behind RequireScope as the in-repo example of
// protecting a resource.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/authorize", h.ServeAuthorize)
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/revoke", h.ServeRevocation)
	mux.HandleFunc("/register", h.ServeRegistration)
	mux.Handle("/userinfo", h.RequireScope("profile", http.HandlerFunc(h.ServeUserInfo)))
}

// consentTemplate is the HTML consent page shown on GET /authorize. It is
// deliberately self-contained: inline styles only, no scripts, and a plain
// form POST back to the same endpoint carrying the pending request ID.
const consentTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorize {{.ClientName}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: #f5f6f8;
            display: flex;
            align-items: center;
            justify-content: center;
            min-height: 100vh;
            margin: 0;
            color: #1a1a2e;
        }
        .card {
            background: #fff;
            border-radius: 8px;
            box-shadow: 0 2px 12px rgba(0, 0, 0, 0.08);
            max-width: 420px;
            padding: 2rem;
        }
        h1 { font-size: 1.25rem; margin: 0 0 1rem; }
        .client { font-weight: 600; }
        ul { padding-left: 1.25rem; }
        li { margin: 0.25rem 0; }
        .actions { display: flex; gap: 0.75rem; margin-top: 1.5rem; }
        button {
            flex: 1;
            padding: 0.75rem;
            border: none;
            border-radius: 6px;
            font-size: 1rem;
            cursor: pointer;
        }
        .approve { background: #00a855; color: #fff; }
        .deny { background: #e5e7eb; color: #1a1a2e; }
    </style>
</head>
<body>
    <div class="card">
        <h1><span class="client">{{.ClientName}}</span> is requesting access</h1>
        {{if .Scopes}}<p>The application asks for the following permissions:</p>
        <ul>{{range .Scopes}}<li>{{.}}</li>{{end}}</ul>
        {{else}}<p>The application asks for basic access.</p>{{end}}
        {{if .ClientURI}}<p><a href="{{.ClientURI}}" rel="noreferrer">{{.ClientURI}}</a></p>{{end}}
        <form method="POST" action="authorize">
            <input type="hidden" name="request_id" value="{{.RequestID}}">
            <div class="actions">
                <button class="approve" type="submit" name="confirm" value="approve">Allow</button>
                <button class="deny" type="submit" name="confirm" value="deny">Deny</button>
            </div>
        </form>
    </div>
</body>
</html>`

// consentTmpl is parsed once at package initialization.
var consentTmpl = template.Must(template.New("consent").Parse(consentTemplate))

// ServeAuthorize handles the OAuth authorization endpoint. GET validates the
// request and renders the consent page; POST records the user's decision and
// redirects back to the client.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveConsentPage(w, r)
	case http.MethodPost:
		h.serveConsentDecision(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveConsentPage(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx := r.Context()
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorize")
		defer span.End()
	}

	q := r.URL.Query()
	params := &server.AuthorizationParams{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, params.ClientID))

	view, err := h.server.BeginAuthorization(ctx, params, h.currentUser(r))
	if err != nil {
		h.handleAuthorizeError(w, r, err, startTime, span)
		return
	}

	h.recordHTTPMetrics("authorize", http.MethodGet, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.renderConsentPage(w, view)
}

func (h *Handler) serveConsentDecision(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx := r.Context()
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.consent_decision")
		defer span.End()
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("authorize", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	requestID := r.FormValue("request_id")
	approved := r.FormValue("confirm") == "approve"

	target, err := h.server.DecideAuthorization(ctx, requestID, h.currentUser(r), approved)
	if err != nil {
		h.handleAuthorizeError(w, r, err, startTime, span)
		return
	}

	h.recordHTTPMetrics("authorize", http.MethodPost, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, target.URL, http.StatusFound)
}

// handleAuthorizeError renders or redirects an authorization endpoint
// failure according to the server's classification: validation failures
// before the redirect URI was verified are rendered here, failures after it
// go back to the client as a redirect, and a missing user goes to login.
func (h *Handler) handleAuthorizeError(w http.ResponseWriter, r *http.Request, err error, startTime time.Time, span trace.Span) {
	instrumentation.RecordError(span, err)

	var authErr *server.AuthorizationError
	if errors.As(err, &authErr) {
		redirectURL, buildErr := errorRedirectURL(authErr)
		if buildErr != nil {
			h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
			h.writeError(w, authErr.Code, authErr.Description, http.StatusBadRequest)
			return
		}
		h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
		http.Redirect(w, r, redirectURL, http.StatusFound)
		return
	}

	var loginErr *server.LoginRequiredError
	if errors.As(err, &loginErr) {
		loginErr.Next = r.URL.RequestURI()
		if h.LoginURL != "" {
			h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
			http.Redirect(w, r, h.LoginURL+"?next="+url.QueryEscape(loginErr.Next), http.StatusFound)
			return
		}
		h.recordHTTPMetrics("authorize", r.Method, http.StatusUnauthorized, startTime)
		h.writeError(w, ErrorCodeLoginRequired, "Authentication is required", http.StatusUnauthorized)
		return
	}

	switch {
	case errors.Is(err, server.ErrUnavailable):
		h.recordHTTPMetrics("authorize", r.Method, http.StatusServiceUnavailable, startTime)
		h.writeError(w, ErrorCodeTemporarilyUnavailable, "Service temporarily unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, server.ErrInvalidRequest):
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Invalid authorization request", http.StatusBadRequest)
	default:
		h.logger.Error("Authorization request failed", "error", err)
		h.recordHTTPMetrics("authorize", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, ErrorCodeServerError, "Authorization failed", http.StatusInternalServerError)
	}
}

// errorRedirectURL appends the protocol error parameters to the validated
// redirect URI, echoing state verbatim (RFC 6749 Section 4.1.2.1).
func errorRedirectURL(authErr *server.AuthorizationError) (string, error) {
	parsed, err := url.Parse(authErr.RedirectURI)
	if err != nil {
		return "", err
	}

	q := parsed.Query()
	q.Set("error", authErr.Code)
	if authErr.Description != "" {
		q.Set("error_description", authErr.Description)
	}
	if authErr.State != "" {
		q.Set("state", authErr.State)
	}
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

func (h *Handler) renderConsentPage(w http.ResponseWriter, view *server.ConsentView) {
	// Execute to a buffer first so template failures never produce a
	// half-written page
	var buf bytes.Buffer
	if err := consentTmpl.Execute(&buf, view); err != nil {
		h.logger.Error("Failed to execute consent template", "error", err)
		h.writeError(w, ErrorCodeServerError, "Failed to render consent page", http.StatusInternalServerError)
		return
	}

	security.SetConsentSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP, "token") {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	grantType := r.FormValue("grant_type")

	switch grantType {
	case server.GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r, clientIP)
	case server.GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r, clientIP)
	case server.GrantTypeClientCredentials:
		h.handleClientCredentialsGrant(w, r, clientIP)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType, fmt.Sprintf("Grant type %s not supported", grantType), http.StatusBadRequest)
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, clientIP string) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	clientID, clientSecret := h.clientCredentials(r)

	if code == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "code missing")
		h.writeError(w, ErrorCodeInvalidRequest, "Required parameter 'code' missing", http.StatusBadRequest)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	token, err := h.server.ExchangeAuthorizationCode(ctx, clientID, clientSecret, code, redirectURI)
	if err != nil {
		oauthErr := grantError(err)
		h.logger.Warn("Authorization code exchange failed", "client_id", clientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "code exchange failed")
		h.writeOAuthError(w, oauthErr)
		return
	}

	h.logger.Info("Token exchange successful", "client_id", token.ClientID, "ip", clientIP)
	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, clientIP string) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	refreshToken := r.FormValue("refresh_token")
	clientID, clientSecret := h.clientCredentials(r)

	if refreshToken == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "refresh_token missing")
		h.writeError(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	token, err := h.server.ExchangeRefreshToken(ctx, clientID, clientSecret, refreshToken)
	if err != nil {
		oauthErr := grantError(err)
		h.logger.Warn("Token refresh failed", "client_id", clientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "token refresh failed")
		h.writeOAuthError(w, oauthErr)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

func (h *Handler) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request, clientIP string) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_credentials")
		defer span.End()
	}

	scope := r.FormValue("scope")
	clientID, clientSecret := h.clientCredentials(r)

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	token, err := h.server.ExchangeClientCredentials(ctx, clientID, clientSecret, scope)
	if err != nil {
		oauthErr := grantError(err)
		h.logger.Warn("Client credentials grant failed", "client_id", clientID, "ip", clientIP, "error", err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "client credentials grant failed")
		h.writeOAuthError(w, oauthErr)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

// grantError maps a server token-grant failure to its protocol error.
// Descriptions stay generic so error text cannot be used to probe what the
// server knows about a presented credential.
func grantError(err error) *OAuthError {
	switch {
	case errors.Is(err, server.ErrUnavailable):
		return ErrTemporarilyUnavailable("Service temporarily unavailable")
	case errors.Is(err, server.ErrInvalidClient):
		return ErrInvalidClient("Client authentication failed")
	case errors.Is(err, server.ErrUnauthorizedClient):
		return ErrUnauthorizedClient("Client is not authorized for this grant type")
	case errors.Is(err, server.ErrInvalidScope):
		return ErrInvalidScope("Requested scope is invalid")
	case errors.Is(err, server.ErrInvalidGrant):
		return ErrInvalidGrant("Authorization grant is invalid or expired")
	case errors.Is(err, server.ErrInvalidRequest):
		return ErrInvalidRequest("Invalid token request")
	default:
		return ErrServerError("Token request failed")
	}
}

// ServeRevocation handles the RFC 7009 token revocation endpoint
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_revocation")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP, "revoke") {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	token := r.FormValue("token")
	tokenTypeHint := r.FormValue("token_type_hint")
	clientID, clientSecret := h.clientCredentials(r)

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	if err := h.server.RevokeToken(ctx, clientID, clientSecret, token, tokenTypeHint, clientIP); err != nil {
		// Only authentication failures and backend outages are errors here;
		// unknown or foreign tokens already returned success inside the server
		// (RFC 7009 Section 2.2)
		oauthErr := grantError(err)
		h.recordHTTPMetrics("revoke", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "revocation failed")
		h.writeOAuthError(w, oauthErr)
		return
	}

	h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeRegistration handles client registration. The form carries
// client_name, client_uri, scope, token_endpoint_auth_method, and the
// newline-delimited list fields redirect_uri, grant_type, and response_type.
// Registration requires the configured access token unless public
// registration is explicitly enabled.
func (h *Handler) ServeRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_registration")
		defer span.End()
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if h.checkIPRateLimit(w, r, clientIP, "register") {
		return
	}

	if !h.authorizeRegistration(w, r, clientIP) {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusUnauthorized, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	reg := &server.ClientRegistration{
		ClientName:              r.FormValue("client_name"),
		ClientURI:               r.FormValue("client_uri"),
		RedirectURIs:            splitFormLines(r.FormValue("redirect_uri")),
		GrantTypes:              splitFormLines(r.FormValue("grant_type")),
		ResponseTypes:           splitFormLines(r.FormValue("response_type")),
		Scope:                   r.FormValue("scope"),
		TokenEndpointAuthMethod: r.FormValue("token_endpoint_auth_method"),
	}

	var ownerUserID string
	if user := h.currentUser(r); user != nil {
		ownerUserID = user.UserID
	}

	client, clientSecret, err := h.server.RegisterClient(ctx, ownerUserID, reg, clientIP)
	if err != nil {
		h.handleRegistrationError(w, err, clientIP, startTime, span)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType),
	)
	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics("register", http.MethodPost, http.StatusCreated, startTime)
	h.writeRegistrationResponse(w, client, clientSecret)
}

// authorizeRegistration checks the registration guard: a valid registration
// access token, or public registration explicitly enabled. Writes the error
// response on rejection.
func (h *Handler) authorizeRegistration(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.Config.AllowPublicClientRegistration {
		h.logger.Warn("Unauthenticated client registration (DoS risk)", "client_ip", clientIP)
		return true
	}

	if h.validateRegistrationToken(r.Header.Get("Authorization")) {
		return true
	}

	h.logger.Warn("Client registration rejected: missing or invalid authorization", "client_ip", clientIP)
	if h.server.Auditor != nil {
		h.server.Auditor.LogAuthFailure("", "", clientIP, "registration_unauthorized")
	}
	h.writeError(w, ErrorCodeInvalidToken,
		"Registration requires a valid registration access token", http.StatusUnauthorized)
	return false
}

// validateRegistrationToken validates the registration access token
// Returns true if a valid token was provided
func (h *Handler) validateRegistrationToken(authHeader string) bool {
	if authHeader == "" || h.server.Config.RegistrationAccessToken == "" {
		return false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.server.Config.RegistrationAccessToken)) == 1
}

func (h *Handler) handleRegistrationError(w http.ResponseWriter, err error, clientIP string, startTime time.Time, span trace.Span) {
	instrumentation.RecordError(span, err)

	switch {
	case errors.Is(err, server.ErrRegistrationLimited):
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusTooManyRequests, startTime)
		instrumentation.SetSpanError(span, "registration limit exceeded")
		h.writeError(w, ErrorCodeInvalidRequest, "Client registration limit exceeded", http.StatusTooManyRequests)
	case errors.Is(err, server.ErrInvalidClientMetadata):
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "invalid client metadata")
		h.writeError(w, ErrorCodeInvalidClientMetadata, err.Error(), http.StatusBadRequest)
	case errors.Is(err, server.ErrUnavailable):
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusServiceUnavailable, startTime)
		h.writeError(w, ErrorCodeTemporarilyUnavailable, "Service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("Failed to register client", "ip", clientIP, "error", err)
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusInternalServerError, startTime)
		instrumentation.SetSpanError(span, "registration failed")
		h.writeError(w, ErrorCodeServerError, "Failed to register client", http.StatusInternalServerError)
	}
}

func (h *Handler) writeRegistrationResponse(w http.ResponseWriter, client *storage.Client, clientSecret string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	response := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientName:              client.ClientName,
		ClientType:              client.ClientType,
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   strings.Join(client.Scopes, " "),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(response)
}

// ServeUserInfo serves the profile of the user bound to the presented bearer
// token. Mounted behind RequireScope("profile") by Routes; when used
// standalone it validates the token itself.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics("userinfo", http.MethodGet, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, ok := TokenInfoFromContext(r.Context())
	if !ok {
		info, ok = h.bearerTokenInfo(w, r, "profile")
		if !ok {
			h.recordHTTPMetrics("userinfo", http.MethodGet, http.StatusUnauthorized, startTime)
			return
		}
	}

	if info.UserID == "" {
		// client_credentials tokens have no user behind them
		h.recordHTTPMetrics("userinfo", http.MethodGet, http.StatusForbidden, startTime)
		h.writeInsufficientScopeError(w, "profile", "Token is not bound to a user")
		return
	}

	user, err := h.server.GetUser(r.Context(), info.UserID)
	if err != nil {
		if errors.Is(err, server.ErrUnavailable) {
			h.recordHTTPMetrics("userinfo", http.MethodGet, http.StatusServiceUnavailable, startTime)
			h.writeError(w, ErrorCodeTemporarilyUnavailable, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		h.recordHTTPMetrics("userinfo", http.MethodGet, http.StatusUnauthorized, startTime)
		h.writeError(w, ErrorCodeInvalidToken, "Token is not bound to a known user", http.StatusUnauthorized)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	h.recordHTTPMetrics("userinfo", http.MethodGet, http.StatusOK, startTime)
	_ = json.NewEncoder(w).Encode(UserInfoResponse{
		GUID:       user.ID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		MiddleName: user.MiddleName,
		Mail:       user.Mail,
		Mobile:     user.Mobile,
	})
}

// RequireScope is middleware that gates a protected resource on a valid
// bearer token carrying the given scope. On success the token info is placed
// in the request context for the wrapped handler.
func (h *Handler) RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
		if h.checkIPRateLimit(w, r, clientIP, r.URL.Path) {
			return
		}

		info, ok := h.bearerTokenInfo(w, r, scope)
		if !ok {
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithTokenInfo(r.Context(), info)))
	})
}

// bearerTokenInfo extracts and validates the bearer token, requiring the
// given scope. On failure it writes the error response and returns false.
func (h *Handler) bearerTokenInfo(w http.ResponseWriter, r *http.Request, scope string) (*server.TokenInfo, bool) {
	accessToken, ok := h.extractBearerToken(w, r)
	if !ok {
		return nil, false
	}

	info, err := h.server.ValidateAccessToken(r.Context(), accessToken, scope)
	if err != nil {
		switch {
		case errors.Is(err, server.ErrInsufficientScope):
			h.writeInsufficientScopeError(w, scope, "Token lacks the required scope")
		case errors.Is(err, server.ErrUnavailable):
			h.writeError(w, ErrorCodeTemporarilyUnavailable, "Service temporarily unavailable", http.StatusServiceUnavailable)
		default:
			h.writeError(w, ErrorCodeInvalidToken, "Token is invalid or expired", http.StatusUnauthorized)
		}
		return nil, false
	}

	return info, true
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeError(w, ErrorCodeInvalidToken, "Missing Authorization header", http.StatusUnauthorized)
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		h.writeError(w, ErrorCodeInvalidToken, "Invalid Authorization header format", http.StatusUnauthorized)
		return "", false
	}

	return parts[1], true
}

// Context key for validated token info
type contextKey string

const tokenInfoKey contextKey = "token_info"

// TokenInfoFromContext retrieves the validated token info placed by
// RequireScope from the request context.
func TokenInfoFromContext(ctx context.Context) (*server.TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*server.TokenInfo)
	return info, ok
}

// ContextWithTokenInfo returns a context carrying validated token info.
// Production code should only reach this through RequireScope; setting it
// directly is for tests.
func ContextWithTokenInfo(ctx context.Context, info *server.TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey, info)
}

// Helper methods

// currentUser resolves the authenticated user via the CurrentUser hook.
func (h *Handler) currentUser(r *http.Request) *identity.Identity {
	if h.CurrentUser == nil {
		return nil
	}
	return h.CurrentUser(r)
}

// clientCredentials extracts client credentials from Basic auth, falling
// back to the form parameters (client_secret_post and public clients).
func (h *Handler) clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, "")
	}

	w.Header().Set("Retry-After", "60")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *storage.Token) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	expiresIn := int64(time.Until(token.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = tokenTypeBearer
	}

	response := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    tokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", formatWWWAuthenticate("", code, description))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeInsufficientScopeError writes a 403 Forbidden with the scope the
// resource requires in the WWW-Authenticate challenge (RFC 6750 Section 3.1).
func (h *Handler) writeInsufficientScopeError(w http.ResponseWriter, requiredScope, description string) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(requiredScope, ErrorCodeInsufficientScope, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            ErrorCodeInsufficientScope,
		ErrorDescription: description,
	})
}

// formatWWWAuthenticate formats the WWW-Authenticate header value per
// RFC 6750 Section 3. Quote characters in values are escaped per the
// quoted-string rules so descriptions cannot inject header parameters.
func formatWWWAuthenticate(scope, errCode, errorDesc string) string {
	var params []string

	quote := func(v string) string {
		v = strings.ReplaceAll(v, `\`, `\\`)
		return strings.ReplaceAll(v, `"`, `\"`)
	}

	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quote(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, quote(errCode)))
	}
	if errorDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quote(errorDesc)))
	}

	if len(params) == 0 {
		return tokenTypeBearer
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	durationMs := time.Since(startTime).Seconds() * 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}

// splitFormLines splits a newline-delimited form field into its entries,
// trimming whitespace and dropping blanks.
func splitFormLines(value string) []string {
	if value == "" {
		return nil
	}

	var out []string
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
