package pkce_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-engine/oauth2"
	"github.com/jrsteele09/go-oauth-engine/pkce"
)

func TestHandlerClaimsCodeResponseTypes(t *testing.T) {
	h := pkce.NewHandler(nil, nil, pkce.NewValidators(false), nil)

	tests := []struct {
		responseType string
		want         bool
	}{
		{"code", true},
		{"code id_token", true},
		{"id_token code", true},
		{"code token", true},
		{"code token id_token", true},
		{"token", false},
		{"id_token", false},
		{"token id_token", false},
		{"code foo", false},
		{"code code_extra", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.responseType, func(t *testing.T) {
			ar := oauth2.NewAuthorizeRequest()
			ar.ResponseTypes = oauth2.SplitArguments(tt.responseType)
			require.Equal(t, tt.want, h.CanHandleAuthorizeEndpointRequest(ar))
		})
	}
}
