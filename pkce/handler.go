package pkce

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var (
	_ oauth2.AuthorizeEndpointHandler = (*Handler)(nil)
	_ oauth2.TokenEndpointHandler     = (*Handler)(nil)
)

// Handler binds authorization codes to a code challenge. It must run after the
// authorization code handler in the authorize chain since it stores the
// challenge under the code that handler issued. On the token leg it only
// validates; minting is left to the authorization code handler.
type Handler struct {
	codes      oauth2.AuthorizeCodeStrategy
	storage    oauth2.PKCERequestStorage
	validators Validators
	config     config.PKCEPolicyProvider
}

// NewHandler creates the PKCE handler.
func NewHandler(codes oauth2.AuthorizeCodeStrategy, storage oauth2.PKCERequestStorage, validators Validators, cfg config.PKCEPolicyProvider) *Handler {
	return &Handler{codes: codes, storage: storage, validators: validators, config: cfg}
}

func (h *Handler) CanHandleAuthorizeEndpointRequest(ar *oauth2.AuthorizeRequest) bool {
	rt := ar.ResponseTypes
	return rt.Matches(oauth2.ResponseTypeCode) ||
		rt.Matches(oauth2.ResponseTypeCode, oauth2.ResponseTypeIDToken) ||
		rt.Matches(oauth2.ResponseTypeCode, oauth2.ResponseTypeToken) ||
		rt.Matches(oauth2.ResponseTypeCode, oauth2.ResponseTypeToken, oauth2.ResponseTypeIDToken)
}

func (h *Handler) HandleAuthorizeEndpointRequest(ctx context.Context, ar *oauth2.AuthorizeRequest, resp *oauth2.AuthorizeResponse) error {
	if !h.CanHandleAuthorizeEndpointRequest(ar) {
		return nil
	}

	challenge := ar.Form.Get("code_challenge")
	method := oauth2.CodeMethodType(ar.Form.Get("code_challenge_method"))
	if challenge == "" {
		if h.required(ar) {
			return oauth2.ErrInvalidRequest.WithHint("Clients must include a code_challenge when performing the authorize code flow.").WithParam("code_challenge")
		}
		return nil
	}
	if method == "" {
		method = oauth2.CodeMethodPlain
	}
	if !h.validators.Supports(method) {
		return oauth2.ErrPKCEMethodNotAllowed.WithHintf("Code challenge method '%s' is not allowed.", method)
	}
	if len(challenge) < 43 || len(challenge) > 128 {
		return oauth2.ErrInvalidRequest.WithHint("The code_challenge must be between 43 and 128 characters long.").WithParam("code_challenge")
	}

	code := resp.Code()
	if code == "" {
		return oauth2.ErrServerError.WithHint("The PKCE handler must run after the authorization code handler.")
	}
	signature := h.codes.AuthorizeCodeSignature(ctx, code)
	if err := h.storage.CreatePKCERequestSession(ctx, signature, ar.Sanitize("code_challenge", "code_challenge_method")); err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}
	return nil
}

func (h *Handler) required(ar *oauth2.AuthorizeRequest) bool {
	return h.config.GetEnforcePKCE() || (h.config.GetEnforcePKCEForPublicClients() && ar.Client.IsPublic())
}

func (h *Handler) CanHandleTokenEndpointRequest(r *oauth2.AccessRequest) bool {
	return r.GrantTypes.ExactOne(oauth2.GrantTypeAuthorizationCode)
}

func (h *Handler) HandleTokenEndpointRequest(ctx context.Context, r *oauth2.AccessRequest) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}

	verifier := r.Form.Get("code_verifier")
	signature := h.codes.AuthorizeCodeSignature(ctx, r.Form.Get("code"))
	stored, err := h.storage.GetPKCERequestSession(ctx, signature, r.Session)
	if errors.Is(err, oauth2.ErrNotFound) {
		if verifier != "" {
			return oauth2.ErrInvalidGrant.WithHint("Unable to find the PKCE session; a code_verifier was given without a code_challenge.")
		}
		if h.config.GetEnforcePKCE() || (h.config.GetEnforcePKCEForPublicClients() && r.Client.IsPublic()) {
			return oauth2.ErrInvalidGrant.WithHint("The PKCE code challenge is required but was not part of the authorize request.")
		}
		return nil
	}
	if err != nil {
		return oauth2.ErrServerError.WithCause(err)
	}

	if verifier == "" {
		return oauth2.ErrInvalidGrant.WithHint("The PKCE code verifier must be provided.").WithParam("code_verifier")
	}
	method := oauth2.CodeMethodType(stored.Form.Get("code_challenge_method"))
	if method == "" {
		method = oauth2.CodeMethodPlain
	}
	return h.validators.Verify(method, stored.Form.Get("code_challenge"), verifier)
}

// PopulateTokenEndpointResponse drops the challenge once the code has been
// redeemed. A failed exchange leaves it bound to the code.
func (h *Handler) PopulateTokenEndpointResponse(ctx context.Context, r *oauth2.AccessRequest, _ *oauth2.AccessResponse) error {
	if !h.CanHandleTokenEndpointRequest(r) {
		return nil
	}
	signature := h.codes.AuthorizeCodeSignature(ctx, r.Form.Get("code"))
	if err := h.storage.DeletePKCERequestSession(ctx, signature); err != nil && !errors.Is(err, oauth2.ErrNotFound) {
		return oauth2.ErrServerError.WithCause(err)
	}
	return nil
}
