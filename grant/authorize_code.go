package grant

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// AuthorizeCodeStore is the storage the authorization code flow needs.
type AuthorizeCodeStore interface {
	oauth2.AuthorizeCodeStorage
	oauth2.TokenRevocationStorage
}

var (
	_ oauth2.AuthorizeEndpointHandler = (*AuthorizeCodeHandler)(nil)
	_ oauth2.TokenEndpointHandler     = (*AuthorizeCodeHandler)(nil)
)

// AuthorizeCodeHandler implements both legs of the authorization code grant.
//
// Authorize leg mutations: the session's AuthorizeCode expiry, the response's
// code, state and scope parameters, and the handled response types.
//
// Token leg mutations: the request's scopes, session and id are replaced with
// those of the stored authorize request, and the session's token expiries are set.
type AuthorizeCodeHandler struct {
	strategy oauth2.AuthorizeCodeStrategy
	storage  AuthorizeCodeStore
	issuer   *TokenIssuer
	config   Config
}

// NewAuthorizeCodeHandler creates the authorization code handler.
func NewAuthorizeCodeHandler(strategy oauth2.AuthorizeCodeStrategy, storage AuthorizeCodeStore, issuer *TokenIssuer, cfg Config) *AuthorizeCodeHandler {
	return &AuthorizeCodeHandler{strategy: strategy, storage: storage, issuer: issuer, config: cfg}
}

func (h *AuthorizeCodeHandler) CanHandleAuthorizeEndpointRequest(ar *oauth2.AuthorizeRequest) bool {
	return ar.ResponseTypes.ExactOne(oauth2.ResponseTypeCode)
}

func (h *AuthorizeCodeHandler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *oauth2.AuthorizeRequest, resp *oauth2.AuthorizeResponse) error {
	if !h.CanHandleAuthorizeEndpointRequest(ar) {
		return nil
	}
	if !ar.Client.HasGrantType(oauth2.GrantTypeAuthorizationCode) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use authorization grant 'authorization_code'.")
	}
	if !oauth2.IsRedirectURISecure(ar.RedirectURI) {
		return oauth2.ErrInvalidRequest.WithHint("Redirect URL is using an insecure protocol, http is only allowed for loopback hosts.").WithParam("redirect_uri")
	}
	if err := oauth2.ValidateScopes(h.config.GetScopeStrategy(), ar.Client.Scopes, ar.RequestedScope); err != nil {
		return err
	}

	code, err := h.IssueAuthorizeCode(ctx, ar)
	if err != nil {
		return err
	}

	resp.AddParameter("code", code)
	resp.AddParameter("state", ar.State)
	resp.AddParameter("scope", strings.Join(ar.GrantedScope, " "))
	ar.SetResponseTypeHandled(oauth2.ResponseTypeCode)
	return nil
}

// IssueAuthorizeCode mints a code and stores the sanitized authorize request
// under its signature. The hybrid flow shares it.
func (h *AuthorizeCodeHandler) IssueAuthorizeCode(ctx context.Context, ar *oauth2.AuthorizeRequest) (string, error) {
	code, err := h.strategy.GenerateAuthorizeCode(ctx, &ar.Request)
	if err != nil {
		return "", oauth2.ErrorToRFC6749(err)
	}
	ar.Session.SetExpiresAt(oauth2.AuthorizeCode, h.config.Now().Add(h.config.GetAuthorizeCodeLifespan()))
	if err := h.storage.CreateAuthorizeCodeSession(ctx, code.Signature, ar.Sanitize("code", "redirect_uri")); err != nil {
		return "", oauth2.ErrServerError.WithCause(err)
	}
	return code.Value, nil
}

func (h *AuthorizeCodeHandler) CanHandleTokenEndpointRequest(r *oauth2.AccessRequest) bool {
	return r.GrantTypes.ExactOne(oauth2.GrantTypeAuthorizationCode)
}

func (h *AuthorizeCodeHandler) HandleTokenEndpointRequest(ctx context.Context, r *oauth2.AccessRequest) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	if !r.Client.HasGrantType(oauth2.GrantTypeAuthorizationCode) {
		return oauth2.ErrUnauthorizedClient.WithHint("The OAuth 2.0 Client is not allowed to use authorization grant 'authorization_code'.")
	}

	code := r.Form.Get("code")
	signature := h.strategy.AuthorizeCodeSignature(ctx, code)
	stored, err := h.storage.GetAuthorizeCodeSession(ctx, signature, r.Session)
	if errors.Is(err, oauth2.ErrInvalidatedAuthorizeCode) {
		h.revokeReplayed(ctx, stored)
		return oauth2.ErrInvalidatedAuthorizeCode.WithHint("The authorization code has already been used, every token issued with it has been revoked.")
	}
	if err != nil {
		return storageLookupError(err, "The authorization code session could not be found.")
	}

	if err := h.strategy.ValidateAuthorizeCode(ctx, stored, code); err != nil {
		return oauth2.ErrorToRFC6749(err)
	}

	// The stored request is authoritative for the client and the redirect URI.
	if stored.GetClientID() != r.GetClientID() {
		return oauth2.ErrClientMismatch.WithHint("The OAuth 2.0 Client ID from this request does not match the one from the authorize request.")
	}
	if want := stored.Form.Get("redirect_uri"); want != "" && want != r.Form.Get("redirect_uri") {
		return oauth2.ErrRedirectURIMismatch.WithHint("The 'redirect_uri' from this request does not match the one from the authorize request.").WithParam("redirect_uri")
	}

	r.SetRequestedScopes(stored.RequestedScope)
	r.GrantedScope = oauth2.Arguments{}.Append(stored.GrantedScope...)
	r.Session = stored.Session
	r.ID = stored.ID
	h.issuer.SetExpiries(&r.Request, HasOfflineAccess(&r.Request))
	return nil
}

func (h *AuthorizeCodeHandler) PopulateTokenEndpointResponse(ctx context.Context, r *oauth2.AccessRequest, resp *oauth2.AccessResponse) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}

	code := r.Form.Get("code")
	signature := h.strategy.AuthorizeCodeSignature(ctx, code)
	stored, err := h.storage.GetAuthorizeCodeSession(ctx, signature, r.Session)
	if err != nil {
		return storageLookupError(err, "The authorization code session could not be found.")
	}
	if err := h.strategy.ValidateAuthorizeCode(ctx, stored, code); err != nil {
		return oauth2.ErrorToRFC6749(err)
	}

	if err := h.storage.InvalidateAuthorizeCodeSession(ctx, signature); err != nil {
		if errors.Is(err, oauth2.ErrInvalidatedAuthorizeCode) || errors.Is(err, oauth2.ErrNotFound) {
			return oauth2.ErrInvalidatedAuthorizeCode.WithHint("The authorization code has already been used.")
		}
		return oauth2.ErrServerError.WithCause(err)
	}

	return h.issuer.IssueTokens(ctx, &r.Request, resp)
}

// revokeReplayed revokes every token minted under a code that is being
// redeemed a second time (RFC 6749 section 4.1.2).
func (h *AuthorizeCodeHandler) revokeReplayed(ctx context.Context, stored *oauth2.Request) {
	if stored == nil {
		return
	}
	log.Warn().Str("request_id", stored.ID).Str("client_id", stored.GetClientID()).Msg("authorization code replayed, revoking issued tokens")
	if err := h.storage.RevokeAccessToken(ctx, stored.ID); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		log.Error().Err(err).Str("request_id", stored.ID).Msg("failed to revoke access tokens of replayed code")
	}
	if err := h.storage.RevokeRefreshToken(ctx, stored.ID); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		log.Error().Err(err).Str("request_id", stored.ID).Msg("failed to revoke refresh tokens of replayed code")
	}
}

func storageLookupError(err error, hint string) error {
	if errors.Is(err, oauth2.ErrNotFound) {
		return oauth2.ErrNotFound.WithHint(hint)
	}
	var e *oauth2.Error
	if errors.As(err, &e) {
		return e
	}
	return oauth2.ErrServerError.WithCause(err)
}
