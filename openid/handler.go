package openid

import (
	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// Config is what the OpenID Connect handlers read from configuration.
type Config interface {
	config.LifespanProvider
	config.ScopeStrategyProvider
	GetMinParameterEntropy() int
}

// IDTokenStrategy mints ID tokens and names the algorithm they are signed
// with, which selects the hash of at_hash and c_hash.
type IDTokenStrategy interface {
	oauth2.IDTokenStrategy
	SigningAlgorithm() string
}

// requestParameters are the authorize parameters kept with the OpenID Connect
// session so the token endpoint can apply them when minting the ID token.
var requestParameters = []string{"grant_type", "max_age", "prompt", "acr_values", "id_token_hint", "nonce"}

func checkNonce(ar *oauth2.AuthorizeRequest, cfg Config, flow string) error {
	nonce := ar.Form.Get("nonce")
	if nonce == "" {
		return oauth2.ErrInvalidRequest.WithHintf("Parameter 'nonce' must be set when using the OpenID Connect %s Flow.", flow).WithParam("nonce")
	}
	if len(nonce) < cfg.GetMinParameterEntropy() {
		return oauth2.ErrInsufficientEntropy.WithHintf("Parameter 'nonce' is set but does not satisfy the minimum entropy of %d characters.", cfg.GetMinParameterEntropy()).WithParam("nonce")
	}
	return nil
}

func fragmentMode(resp *oauth2.AuthorizeResponse) {
	if resp.Mode != oauth2.ResponseModeFormPost {
		resp.Mode = oauth2.ResponseModeFragment
	}
}
