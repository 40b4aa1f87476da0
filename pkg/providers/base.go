package providers

import (
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jdutton/mcp-scaffold/pkg/crypto"
	"github.com/jdutton/mcp-scaffold/pkg/errors"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
	"github.com/jdutton/mcp-scaffold/pkg/transport"
)

// clientCodeTTL is how long a minted client-facing authorization code
// remains redeemable.
const clientCodeTTL = 5 * time.Minute

// Flow orchestrates the authorization-code + PKCE flow for one provider
// over the stores and the encryption service. Handlers are safe for
// concurrent use; all per-request state lives in the stores.
type Flow struct {
	provider IdentityProvider
	sessions storage.SessionStore
	pkce     storage.PKCEStore
	tokens   storage.TokenStore

	sessionTTL time.Duration
	codeTTL    time.Duration
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) FlowOption {
	return func(f *Flow) { f.sessionTTL = ttl }
}

// WithClientCodeTTL overrides the client-facing code lifetime.
func WithClientCodeTTL(ttl time.Duration) FlowOption {
	return func(f *Flow) { f.codeTTL = ttl }
}

// NewFlow creates a flow for one provider over a storage backend.
func NewFlow(provider IdentityProvider, backend *storage.Backend, opts ...FlowOption) (*Flow, error) {
	if provider == nil {
		return nil, errors.NewInvalidInput("provider is required")
	}
	if backend == nil {
		return nil, errors.NewInvalidInput("storage backend is required")
	}

	f := &Flow{
		provider:   provider,
		sessions:   backend.Sessions,
		pkce:       backend.PKCE,
		tokens:     backend.Tokens,
		sessionTTL: storage.DefaultSessionTTL,
		codeTTL:    clientCodeTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Provider returns the provider this flow drives.
func (f *Flow) Provider() IdentityProvider {
	return f.provider
}

// HandleAuthorizationRequest starts a flow: mints internal state and a PKCE
// pair, persists the session, and redirects to the upstream IdP.
func (f *Flow) HandleAuthorizationRequest(req transport.Request, w transport.ResponseWriter) {
	setNoCache(w)

	clientRedirectURI := req.Query("redirect_uri")
	if clientRedirectURI == "" {
		writeFlowError(w, errors.NewInvalidInput("redirect_uri is required"))
		return
	}

	clientChallenge := req.Query("code_challenge")
	clientChallengeMethod := req.Query("code_challenge_method")
	if clientChallenge != "" {
		if clientChallengeMethod == "" {
			clientChallengeMethod = crypto.PKCEChallengeMethodS256
		}
		// Plain is dropped in OAuth 2.1; S256 only.
		if clientChallengeMethod != crypto.PKCEChallengeMethodS256 {
			writeFlowError(w, errors.NewInvalidInput("code_challenge_method must be S256"))
			return
		}
	}

	state, err := crypto.GenerateState()
	if err != nil {
		writeFlowError(w, errors.NewError(errors.TypeStorageFailed, "failed to generate state", err))
		return
	}
	verifier := crypto.GeneratePKCEVerifier()

	now := time.Now()
	session := &storage.OAuthSession{
		State:                     state,
		CodeVerifier:              verifier,
		CodeChallenge:             crypto.ComputePKCEChallenge(verifier),
		ClientRedirectURI:         clientRedirectURI,
		ClientState:               req.Query("state"),
		ClientCodeChallenge:       clientChallenge,
		ClientCodeChallengeMethod: clientChallengeMethod,
		Provider:                  f.provider.Name(),
		Scopes:                    strings.Fields(req.Query("scope")),
		CreatedAt:                 now,
		ExpiresAt:                 now.Add(f.sessionTTL),
	}

	if err := f.sessions.StoreSession(req.Context(), state, session); err != nil {
		writeFlowError(w, err)
		return
	}

	authURL, err := f.provider.AuthorizationURL(state, session.CodeChallenge)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	logger.Infow("authorization flow started",
		"provider", f.provider.Name(),
		"has_client_pkce", clientChallenge != "",
	)
	_ = w.Redirect(authURL)
}

// HandleAuthorizationCallback completes the upstream half of a flow. The
// session is consumed exactly once: a replayed callback finds no session
// and fails with InvalidState before any token exchange happens.
func (f *Flow) HandleAuthorizationCallback(req transport.Request, w transport.ResponseWriter) {
	setNoCache(w)
	ctx := req.Context()

	if upstreamErr := req.Query("error"); upstreamErr != "" {
		logger.Warnw("upstream returned authorization error",
			"provider", f.provider.Name(),
			"error", upstreamErr,
		)
		writeFlowError(w, errors.NewTokenExchangeFailed("upstream authorization failed: "+upstreamErr, nil))
		return
	}

	code := req.Query("code")
	state := req.Query("state")
	if code == "" || state == "" {
		writeFlowError(w, errors.NewInvalidInput("code and state are required"))
		return
	}

	session, err := f.sessions.GetSession(ctx, state)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if session == nil {
		logger.Warnw("callback with unknown or expired state",
			"provider", f.provider.Name(),
		)
		writeFlowError(w, errors.NewInvalidState("state parameter is unknown or expired"))
		return
	}

	// Consume before exchanging so a racing replay cannot reuse the session.
	if err := f.sessions.DeleteSession(ctx, state); err != nil {
		writeFlowError(w, err)
		return
	}

	tokens, err := f.provider.ExchangeCode(ctx, code, session.CodeVerifier)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	userInfo, err := f.provider.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		// Identity resolution is best effort at callback time; bearer
		// validation still works against the stored record.
		logger.Warnw("failed to resolve user info",
			"provider", f.provider.Name(),
			"error", err,
		)
	}

	record := &storage.StoredTokenInfo{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserInfo:     userInfo,
		Provider:     f.provider.Name(),
		Scopes:       session.Scopes,
		IssuedAt:     time.Now(),
		ExpiresAt:    tokens.ExpiresAt,
	}
	if err := f.tokens.StoreToken(ctx, record); err != nil {
		writeFlowError(w, err)
		return
	}

	clientCode, err := crypto.GenerateState()
	if err != nil {
		writeFlowError(w, errors.NewError(errors.TypeStorageFailed, "failed to generate authorization code", err))
		return
	}
	codeData := &storage.PKCEData{
		State:               session.ClientState,
		ClientCodeChallenge: session.ClientCodeChallenge,
		TokenKey:            tokens.AccessToken,
	}
	if err := f.pkce.StoreCodeVerifier(ctx, clientCode, codeData, f.codeTTL); err != nil {
		writeFlowError(w, err)
		return
	}

	logger.Infow("authorization flow completed",
		"provider", f.provider.Name(),
		"has_refresh_token", tokens.RefreshToken != "",
	)
	_ = w.Redirect(buildClientRedirect(session.ClientRedirectURI, clientCode, session.ClientState))
}

// HandleTokenExchange redeems a client-facing authorization code for the
// stored tokens. Redemption is atomic; when the client registered a PKCE
// challenge, the presented code_verifier must match by S256.
func (f *Flow) HandleTokenExchange(req transport.Request, w transport.ResponseWriter) {
	setNoCache(w)
	ctx := req.Context()

	if grantType := req.FormValue("grant_type"); grantType != "authorization_code" {
		writeFlowError(w, errors.NewInvalidInput("grant_type must be authorization_code"))
		return
	}
	code := req.FormValue("code")
	if code == "" {
		writeFlowError(w, errors.NewInvalidInput("code is required"))
		return
	}

	data, err := f.pkce.GetAndDeleteCodeVerifier(ctx, code)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if data == nil {
		logger.Warnw("token exchange with unknown or consumed code",
			"provider", f.provider.Name(),
		)
		writeFlowError(w, errors.NewInvalidState("authorization code is unknown, expired, or already redeemed"))
		return
	}

	if data.ClientCodeChallenge != "" {
		verifier := req.FormValue("code_verifier")
		if !crypto.VerifyPKCEChallenge(verifier, data.ClientCodeChallenge) {
			logger.Warnw("token exchange with failed PKCE verification",
				"provider", f.provider.Name(),
			)
			writeFlowError(w, errors.NewInvalidState("code_verifier does not match the registered challenge"))
			return
		}
	}

	record, err := f.tokens.GetToken(ctx, data.TokenKey)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if record == nil {
		writeFlowError(w, errors.NewInvalidState("token record expired before redemption"))
		return
	}

	respondTokens(w, record)
}

// HandleTokenRefresh exchanges a refresh token for fresh tokens. On
// success the old access-token record is revoked (rotate-on-refresh).
// Providers without refresh support surface a 501.
func (f *Flow) HandleTokenRefresh(req transport.Request, w transport.ResponseWriter) {
	setNoCache(w)
	ctx := req.Context()

	refreshToken := req.FormValue("refresh_token")
	if refreshToken == "" {
		writeFlowError(w, errors.NewInvalidInput("refresh_token is required"))
		return
	}

	old, err := f.tokens.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if old == nil {
		logger.Warnw("refresh with unknown refresh token",
			"provider", f.provider.Name(),
		)
		writeFlowError(w, errors.NewInvalidState("refresh token is unknown or expired"))
		return
	}

	tokens, err := f.provider.RefreshTokens(ctx, refreshToken)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	newRefresh := tokens.RefreshToken
	if newRefresh == "" {
		// Upstream did not rotate the refresh token; keep the old one live.
		newRefresh = old.RefreshToken
	}
	record := &storage.StoredTokenInfo{
		AccessToken:  tokens.AccessToken,
		RefreshToken: newRefresh,
		UserInfo:     old.UserInfo,
		Provider:     old.Provider,
		Scopes:       old.Scopes,
		IssuedAt:     time.Now(),
		ExpiresAt:    tokens.ExpiresAt,
	}
	if err := f.tokens.StoreToken(ctx, record); err != nil {
		writeFlowError(w, err)
		return
	}

	// Rotate: the old access token stops validating immediately.
	if old.AccessToken != record.AccessToken {
		if err := f.tokens.DeleteToken(ctx, old.AccessToken); err != nil {
			logger.Warnw("failed to revoke rotated token record",
				"provider", f.provider.Name(),
				"error", err,
			)
		}
	}

	logger.Infow("tokens refreshed", "provider", f.provider.Name())
	respondTokens(w, record)
}

// HandleLogout deletes the token record for the presented bearer token and
// best-effort revokes it upstream when the provider supports revocation.
func (f *Flow) HandleLogout(req transport.Request, w transport.ResponseWriter) {
	setNoCache(w)
	ctx := req.Context()

	token := bearerToken(req)
	if token == "" {
		token = req.FormValue("token")
	}
	if token == "" {
		writeFlowError(w, errors.NewInvalidInput("no token presented"))
		return
	}

	if err := f.tokens.DeleteToken(ctx, token); err != nil {
		writeFlowError(w, err)
		return
	}

	if revoker, ok := f.provider.(TokenRevoker); ok {
		if err := revoker.RevokeToken(ctx, token); err != nil {
			logger.Warnw("upstream token revocation failed",
				"provider", f.provider.Name(),
				"error", err,
			)
		}
	}

	logger.Infow("logged out", "provider", f.provider.Name())
	_ = w.WriteJSON(http.StatusOK, map[string]string{"status": "logged_out"})
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(req transport.Request) string {
	auth := req.Header("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// buildClientRedirect appends code and state to the client's redirect URI.
func buildClientRedirect(redirectURI, code, state string) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	u := redirectURI + sep + "code=" + url.QueryEscape(code)
	if state != "" {
		u += "&state=" + url.QueryEscape(state)
	}
	return u
}

// respondTokens writes the RFC 6749 §5.1 token response for a record.
func respondTokens(w transport.ResponseWriter, record *storage.StoredTokenInfo) {
	body := map[string]any{
		"access_token": record.AccessToken,
		"token_type":   "Bearer",
	}
	if record.RefreshToken != "" {
		body["refresh_token"] = record.RefreshToken
	}
	if !record.ExpiresAt.IsZero() {
		body["expires_in"] = int64(time.Until(record.ExpiresAt).Seconds())
	}
	if len(record.Scopes) > 0 {
		body["scope"] = strings.Join(record.Scopes, " ")
	}
	_ = w.WriteJSON(http.StatusOK, body)
}

// setNoCache sets the anti-caching headers required on every OAuth
// response (RFC 6749 §5.1, RFC 9700).
func setNoCache(w transport.ResponseWriter) {
	w.SetHeader("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.SetHeader("Pragma", "no-cache")
	w.SetHeader("Expires", "0")
}

// errorBody is the JSON error shape all flow handlers use.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Timestamp        string `json:"timestamp"`
}

// writeFlowError maps a typed error to its HTTP status and writes the
// standard error body. Messages never carry raw upstream bodies or key
// material; constructors enforce that upstream of here.
func writeFlowError(w transport.ResponseWriter, err error) {
	var typed *errors.Error
	if !stderrors.As(err, &typed) {
		typed = errors.NewError("internal_error", "internal server error", nil)
	}

	status := http.StatusInternalServerError
	switch typed.Type {
	case errors.TypeInvalidInput, errors.TypeInvalidState:
		status = http.StatusBadRequest
	case errors.TypeDecryptionFailed:
		status = http.StatusUnauthorized
	case errors.TypeTokenExchangeFailed:
		status = http.StatusBadGateway
	case errors.TypeRefreshNotSupported:
		status = http.StatusNotImplemented
	case errors.TypeStorageFailed:
		status = http.StatusInternalServerError
	}

	_ = w.WriteJSON(status, errorBody{
		Error:            typed.Type,
		ErrorDescription: typed.Message,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	})
}
