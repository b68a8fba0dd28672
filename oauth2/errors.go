package oauth2

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrorKind is the RFC 6749 / OIDC error code a protocol error maps to.
type ErrorKind string

const (
	KindInvalidRequest          ErrorKind = "invalid_request"
	KindInvalidClient           ErrorKind = "invalid_client"
	KindInvalidGrant            ErrorKind = "invalid_grant"
	KindInvalidScope            ErrorKind = "invalid_scope"
	KindUnauthorizedClient      ErrorKind = "unauthorized_client"
	KindUnsupportedGrantType    ErrorKind = "unsupported_grant_type"
	KindUnsupportedResponseType ErrorKind = "unsupported_response_type"
	KindAccessDenied            ErrorKind = "access_denied"
	KindLoginRequired           ErrorKind = "login_required"
	KindConsentRequired         ErrorKind = "consent_required"
	KindInvalidRequestObject    ErrorKind = "invalid_request_object"
	KindInvalidRequestURI       ErrorKind = "invalid_request_uri"
	KindServerError             ErrorKind = "server_error"
)

// StatusCode maps an error kind to the HTTP status the host should answer with.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindInvalidClient:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is a protocol error. Kind selects the wire code, Reason distinguishes
// failures that share a kind (expired vs. bad signature, for example).
type Error struct {
	Kind        ErrorKind
	Reason      string
	Description string
	Hint        string
	Debug       string
	// Param names the offending request parameter, if any.
	Param string
	// Token is the kind of credential involved, if any.
	Token TokenType

	cause error
}

// Base errors, one per kind. errors.Is(err, ErrInvalidGrant) matches every invalid_grant error.
var (
	ErrInvalidRequest = &Error{
		Kind:        KindInvalidRequest,
		Description: "The request is missing a required parameter, includes an invalid parameter value, includes a parameter more than once, or is otherwise malformed.",
	}
	ErrInvalidClient = &Error{
		Kind:        KindInvalidClient,
		Description: "Client authentication failed (e.g., unknown client, no client authentication included, or unsupported authentication method).",
	}
	ErrInvalidGrant = &Error{
		Kind:        KindInvalidGrant,
		Description: "The provided authorization grant or refresh token is invalid, expired, revoked, does not match the redirection URI used in the authorization request, or was issued to another client.",
	}
	ErrInvalidScope = &Error{
		Kind:        KindInvalidScope,
		Description: "The requested scope is invalid, unknown, or malformed.",
	}
	ErrUnauthorizedClient = &Error{
		Kind:        KindUnauthorizedClient,
		Description: "The client is not authorized to request a token using this method.",
	}
	ErrUnsupportedGrantType = &Error{
		Kind:        KindUnsupportedGrantType,
		Description: "The authorization grant type is not supported by the authorization server.",
	}
	ErrUnsupportedResponseType = &Error{
		Kind:        KindUnsupportedResponseType,
		Description: "The authorization server does not support obtaining a token using this method.",
	}
	ErrAccessDenied = &Error{
		Kind:        KindAccessDenied,
		Description: "The resource owner or authorization server denied the request.",
	}
	ErrLoginRequired = &Error{
		Kind:        KindLoginRequired,
		Description: "The Authorization Server requires End-User authentication.",
	}
	ErrConsentRequired = &Error{
		Kind:        KindConsentRequired,
		Description: "The Authorization Server requires End-User consent.",
	}
	ErrInvalidRequestObject = &Error{
		Kind:        KindInvalidRequestObject,
		Description: "The request parameter contains an invalid Request Object.",
	}
	ErrInvalidRequestURI = &Error{
		Kind:        KindInvalidRequestURI,
		Description: "The request_uri in the Authorization Request returns an error or contains invalid data.",
	}
	ErrServerError = &Error{
		Kind:        KindServerError,
		Description: "The authorization server encountered an unexpected condition that prevented it from fulfilling the request.",
	}
)

// Specific failures. Each keeps its kind so the wire mapping stays uniform.
var (
	ErrNotFound = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "not_found",
		Description: "Could not find the requested resource(s).",
	}
	ErrInvalidTokenFormat = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "invalid_token_format",
		Description: "Invalid token format.",
	}
	ErrTokenSignatureMismatch = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "token_signature_mismatch",
		Description: "Token signature mismatch.",
	}
	ErrTokenExpired = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "token_expired",
		Description: "Token expired.",
	}
	ErrInvalidatedAuthorizeCode = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "authorize_code_invalidated",
		Description: "The authorization code has already been used.",
	}
	ErrClientMismatch = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "client_mismatch",
		Description: "The grant was issued to another client.",
	}
	ErrRedirectURIMismatch = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "redirect_uri_mismatch",
		Description: "The redirect_uri does not match the one used in the authorization request.",
	}
	ErrPKCEChallengeMismatch = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "pkce_challenge_mismatch",
		Description: "The PKCE code challenge did not match the code verifier.",
	}
	ErrPKCEInsufficientEntropy = &Error{
		Kind:        KindInvalidGrant,
		Reason:      "pkce_insufficient_entropy",
		Description: "The PKCE code verifier has insufficient entropy.",
	}
	ErrPKCEMethodNotAllowed = &Error{
		Kind:        KindInvalidRequest,
		Reason:      "pkce_method_not_allowed",
		Description: "The PKCE code challenge method is not supported or not allowed.",
		Param:       "code_challenge_method",
	}
	ErrJTIKnown = &Error{
		Kind:        KindInvalidClient,
		Reason:      "jti_known",
		Description: "The client assertion has already been used.",
	}
	ErrInvalidState = &Error{
		Kind:        KindInvalidRequest,
		Reason:      "invalid_state",
		Description: "The state is missing or does not have enough characters and is therefore considered too weak.",
		Param:       "state",
	}
	ErrInsufficientEntropy = &Error{
		Kind:        KindInvalidRequest,
		Reason:      "insufficient_entropy",
		Description: "The request used a security parameter (e.g., anti-replay, anti-csrf) with insufficient entropy.",
	}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Hint != "" {
		b.WriteString(" ")
		b.WriteString(e.Hint)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on kind, and on reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// StatusCode returns the HTTP status for this error.
func (e *Error) StatusCode() int {
	return e.Kind.StatusCode()
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

// WithHint returns a copy carrying a human readable hint.
func (e *Error) WithHint(hint string) *Error {
	c := e.clone()
	c.Hint = hint
	return c
}

// WithHintf is WithHint with formatting.
func (e *Error) WithHintf(format string, args ...any) *Error {
	return e.WithHint(fmt.Sprintf(format, args...))
}

// WithDebug returns a copy carrying debug detail that is only sent to clients when enabled.
func (e *Error) WithDebug(debug string) *Error {
	c := e.clone()
	c.Debug = debug
	return c
}

// WithParam returns a copy naming the offending parameter.
func (e *Error) WithParam(param string) *Error {
	c := e.clone()
	c.Param = param
	return c
}

// WithToken returns a copy naming the token kind involved.
func (e *Error) WithToken(t TokenType) *Error {
	c := e.clone()
	c.Token = t
	return c
}

// WithCause returns a copy wrapping err.
func (e *Error) WithCause(err error) *Error {
	c := e.clone()
	c.cause = err
	if c.Debug == "" && err != nil {
		c.Debug = err.Error()
	}
	return c
}

// DescriptionWithHint joins the description, hint and optionally the debug detail.
func (e *Error) DescriptionWithHint(includeDebug bool) string {
	parts := []string{e.Description}
	if e.Hint != "" {
		parts = append(parts, e.Hint)
	}
	if includeDebug && e.Debug != "" {
		parts = append(parts, e.Debug)
	}
	return strings.Join(parts, " ")
}

// ToValues encodes the error as redirect parameters.
func (e *Error) ToValues(includeDebug bool) url.Values {
	v := url.Values{}
	v.Set("error", string(e.Kind))
	v.Set("error_description", e.DescriptionWithHint(includeDebug))
	return v
}

// ToMap encodes the error as a JSON body for the token, introspection and revocation endpoints.
func (e *Error) ToMap(includeDebug bool) map[string]any {
	return map[string]any{
		"error":             string(e.Kind),
		"error_description": e.DescriptionWithHint(includeDebug),
	}
}

// ErrorToRFC6749 converts any error into a protocol error. Errors that are not
// protocol errors become server_error wrapping the original.
func ErrorToRFC6749(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServerError.WithCause(err)
}
