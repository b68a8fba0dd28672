package openid

import (
	"context"
	"slices"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

var _ oauth2.AuthorizeRequestValidator = (*Validator)(nil)

// Validator applies the OpenID Connect prompt and authentication freshness rules
// to an authorize request. It runs before any handler issues a credential.
type Validator struct {
	hints  *HintVerifier
	config config.OpenIDProvider
}

// NewValidator creates the request validator.
func NewValidator(hints *HintVerifier, cfg config.OpenIDProvider) *Validator {
	return &Validator{hints: hints, config: cfg}
}

// ValidateAuthorizeRequest validates requests carrying the openid scope and
// ignores all others.
func (v *Validator) ValidateAuthorizeRequest(ctx context.Context, ar *oauth2.AuthorizeRequest) error {
	if !ar.RequestedScope.Has(oauth2.ScopeOpenID) {
		return nil
	}
	return v.ValidatePrompt(ctx, ar)
}

// ValidatePrompt checks the prompt, max_age and id_token_hint parameters against
// the session's authentication time and subject.
func (v *Validator) ValidatePrompt(ctx context.Context, ar *oauth2.AuthorizeRequest) error {
	prompts := oauth2.SplitArguments(ar.Form.Get("prompt"))

	allowed := v.config.GetAllowedPrompts()
	for _, prompt := range prompts {
		if !slices.Contains(allowed, prompt) {
			return oauth2.ErrInvalidRequest.WithHintf("Used unknown value '%s' for prompt parameter.", prompt).WithParam("prompt")
		}
	}
	if prompts.Has("none") && len(prompts) > 1 {
		return oauth2.ErrInvalidRequest.WithHint("Parameter 'prompt' was set to 'none', but contains other values as well which is not allowed.").WithParam("prompt")
	}
	if prompts.Has("none") && ar.Client.IsPublic() {
		return oauth2.ErrConsentRequired.WithHint("OAuth 2.0 Client is marked public, but 'prompt=none' was requested.")
	}

	session, err := oauth2.AsOpenIDSession(ar.Session)
	if err != nil {
		return err
	}
	claims := session.IDClaims
	if claims.Subject == "" {
		return oauth2.ErrServerError.WithHint("Failed to validate OpenID Connect request because session subject is empty.")
	}
	if claims.AuthTime.After(v.config.Now().Add(authTimeLeeway)) {
		return oauth2.ErrServerError.WithHint("Failed to validate OpenID Connect request because authentication time is in the future.")
	}

	if maxAge := parseMaxAge(ar.Form.Get("max_age")); maxAge > 0 {
		switch {
		case claims.AuthTime.IsZero():
			return oauth2.ErrServerError.WithHint("Failed to validate OpenID Connect request because authentication time claim is required when max_age is set.")
		case claims.RequestedAt.IsZero():
			return oauth2.ErrServerError.WithHint("Failed to validate OpenID Connect request because requested at claim is required when max_age is set.")
		case claims.AuthTime.Add(maxAge).Before(claims.RequestedAt):
			return oauth2.ErrLoginRequired.WithHint("Failed to validate OpenID Connect request because authentication time does not satisfy max_age time.")
		}
	}

	if prompts.Has("none") {
		if claims.AuthTime.IsZero() {
			return oauth2.ErrServerError.WithHint("Failed to validate OpenID Connect request because auth_time is missing from session.")
		}
		if claims.AuthTime.After(claims.RequestedAt) {
			return oauth2.ErrLoginRequired.WithHint("Failed to validate OpenID Connect request because prompt was set to 'none' but auth_time happened after the authorization request was registered, indicating that the user was logged in during this request which is not allowed.")
		}
	}
	if prompts.Has("login") && !claims.AuthTime.IsZero() && !claims.RequestedAt.IsZero() {
		if claims.AuthTime.Before(claims.RequestedAt) {
			return oauth2.ErrLoginRequired.WithHint("Failed to validate OpenID Connect request because prompt was set to 'login' but auth_time happened before the authorization request was registered, indicating that the user was not re-authenticated which is forbidden.")
		}
	}

	hint := ar.Form.Get("id_token_hint")
	if hint == "" {
		return nil
	}
	subject, err := v.hints.Subject(ctx, hint)
	if err != nil {
		return oauth2.ErrInvalidRequest.WithHint("Failed to validate OpenID Connect request as decoding id token from id_token_hint parameter failed.").WithParam("id_token_hint").WithCause(err)
	}
	if subject == "" {
		return oauth2.ErrInvalidRequest.WithHint("Failed to validate OpenID Connect request because provided id token from id_token_hint does not have a subject.").WithParam("id_token_hint")
	}
	if subject != claims.Subject {
		return oauth2.ErrLoginRequired.WithHint("Failed to validate OpenID Connect request because the subject from provided id token from id_token_hint does not match the current session's subject.")
	}
	return nil
}
