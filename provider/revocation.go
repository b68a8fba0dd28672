package provider

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jrsteele09/go-oauth-engine/instrumentation"
	"github.com/jrsteele09/go-oauth-engine/oauth2"
)

// NewRevocationRequest answers an RFC 7009 revocation request. Revoking a
// token that does not exist is not an error; the response reports Revoked=false.
func (p *Provider) NewRevocationRequest(ctx context.Context, r *http.Request) (*oauth2.RevocationResponse, error) {
	ctx, span := p.inst.Start(ctx, opRevocation)
	defer span.End()

	if r.Method != http.MethodPost {
		err := oauth2.ErrInvalidRequest.WithHintf("HTTP method is '%s', expected 'POST'.", r.Method)
		return nil, p.fail(ctx, span, opRevocation, "", err)
	}
	if err := r.ParseForm(); err != nil {
		err := oauth2.ErrInvalidRequest.WithHint("Unable to parse HTTP body, make sure to send a properly formatted form request body.").WithCause(err)
		return nil, p.fail(ctx, span, opRevocation, "", err)
	}

	client, err := p.TokenAuth.Authenticate(ctx, r, r.PostForm)
	if err != nil {
		return nil, p.fail(ctx, span, opRevocation, "", err)
	}
	span.SetAttributes(attribute.String(instrumentation.AttrClientID, client.ID))

	token := r.PostForm.Get("token")
	if token == "" {
		err := oauth2.ErrInvalidRequest.WithHint("The POST body can not be empty.").WithParam("token")
		return nil, p.fail(ctx, span, opRevocation, client.ID, err)
	}

	hint := tokenTypeHint(r.PostForm.Get("token_type_hint"))
	err = p.Revocation.RevokeToken(ctx, token, hint, client)
	if errors.Is(err, oauth2.ErrNotFound) {
		p.logger.Debug().Str("client_id", client.ID).Msg("revocation of unknown token ignored")
		instrumentation.SetSuccess(span)
		return &oauth2.RevocationResponse{Revoked: false}, nil
	}
	if err != nil {
		return nil, p.fail(ctx, span, opRevocation, client.ID, err)
	}

	p.inst.Metrics().Revocations.Add(ctx, 1, metric.WithAttributes(attribute.String(instrumentation.AttrTokenType, string(hint))))
	p.logger.Debug().Str("client_id", client.ID).Msg("token revoked")
	instrumentation.SetSuccess(span)
	return &oauth2.RevocationResponse{Revoked: true}, nil
}
