package oauth2

import (
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-oauth-engine/clients"
)

// Request is the aggregate shared by every handler processing one inbound call.
// Handlers mutate it in place; the mutation points are documented on each handler.
type Request struct {
	ID             string
	RequestedAt    time.Time
	Client         *clients.Client
	RequestedScope Arguments
	GrantedScope   Arguments
	Session        Session
	Form           url.Values
}

// NewRequest returns an empty request with a fresh id.
func NewRequest() *Request {
	return &Request{
		ID:             uuid.NewString(),
		RequestedAt:    time.Now().UTC(),
		RequestedScope: Arguments{},
		GrantedScope:   Arguments{},
		Form:           url.Values{},
	}
}

// SetRequestedScopes replaces the requested scopes, dropping duplicates.
func (r *Request) SetRequestedScopes(scopes Arguments) {
	r.RequestedScope = Arguments{}.Append(scopes...)
}

// GrantScope grants scope. Scopes that were not requested are ignored so the
// granted set never exceeds the requested one.
func (r *Request) GrantScope(scope string) {
	if !r.RequestedScope.Has(scope) {
		return
	}
	r.GrantedScope = r.GrantedScope.Append(scope)
}

// GetClientID returns the client id or an empty string.
func (r *Request) GetClientID() string {
	if r.Client == nil {
		return ""
	}
	return r.Client.ID
}

// Sanitize returns a copy retaining only the allowed form parameters. It is
// applied before anything is handed to storage.
func (r *Request) Sanitize(allowed ...string) *Request {
	c := r.shallowCopy()
	c.Form = url.Values{}
	for _, key := range allowed {
		if values, ok := r.Form[key]; ok {
			c.Form[key] = slices.Clone(values)
		}
	}
	return c
}

// Clone deep-copies the request including its session.
func (r *Request) Clone() *Request {
	c := r.shallowCopy()
	c.Form = url.Values{}
	for k, v := range r.Form {
		c.Form[k] = slices.Clone(v)
	}
	if r.Session != nil {
		c.Session = r.Session.Clone()
	}
	return c
}

func (r *Request) shallowCopy() *Request {
	return &Request{
		ID:             r.ID,
		RequestedAt:    r.RequestedAt,
		Client:         r.Client,
		RequestedScope: slices.Clone(r.RequestedScope),
		GrantedScope:   slices.Clone(r.GrantedScope),
		Session:        r.Session,
	}
}

// AuthorizeRequest is the request model of the authorization endpoint.
type AuthorizeRequest struct {
	Request
	ResponseTypes        Arguments
	HandledResponseTypes Arguments
	RedirectURI          *url.URL
	State                string
	Nonce                string
	ResponseMode         ResponseModeType
}

// NewAuthorizeRequest returns an empty authorize request.
func NewAuthorizeRequest() *AuthorizeRequest {
	return &AuthorizeRequest{
		Request:              *NewRequest(),
		ResponseTypes:        Arguments{},
		HandledResponseTypes: Arguments{},
	}
}

// SetResponseTypeHandled records that a handler satisfied responseType.
func (a *AuthorizeRequest) SetResponseTypeHandled(responseType string) {
	a.HandledResponseTypes = a.HandledResponseTypes.Append(responseType)
}

// DidHandleAllResponseTypes reports whether every requested response type was handled.
func (a *AuthorizeRequest) DidHandleAllResponseTypes() bool {
	return len(a.ResponseTypes) > 0 && a.HandledResponseTypes.Matches(a.ResponseTypes...)
}

// DefaultResponseMode is query for response_type=code and fragment for anything
// that returns tokens from the authorization endpoint.
func (a *AuthorizeRequest) DefaultResponseMode() ResponseModeType {
	if a.ResponseTypes.ExactOne(ResponseTypeCode) {
		return ResponseModeQuery
	}
	return ResponseModeFragment
}

// AccessRequest is the request model of the token endpoint.
type AccessRequest struct {
	Request
	GrantTypes        Arguments
	HandledGrantTypes Arguments
}

// NewAccessRequest returns an access request carrying session.
func NewAccessRequest(session Session) *AccessRequest {
	r := &AccessRequest{
		Request:           *NewRequest(),
		GrantTypes:        Arguments{},
		HandledGrantTypes: Arguments{},
	}
	r.Session = session
	return r
}
