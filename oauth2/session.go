package oauth2

import (
	"maps"
	"time"
)

// SessionKind tags the concrete session variant.
type SessionKind string

const (
	SessionKindDefault SessionKind = "default"
	SessionKindJWT     SessionKind = "jwt"
	SessionKindOpenID  SessionKind = "openid"
)

// Session carries per-request credentials and claims. The set of variants is
// closed: DefaultSession, JWTSession and OpenIDSession are the only implementations.
type Session interface {
	Kind() SessionKind
	SetExpiresAt(key TokenType, exp time.Time)
	GetExpiresAt(key TokenType) time.Time
	GetSubject() string
	SetSubject(subject string)
	GetUsername() string
	// Clone deep-copies the expiry map and any claims.
	Clone() Session

	sealed()
}

var (
	_ Session = (*DefaultSession)(nil)
	_ Session = (*JWTSession)(nil)
	_ Session = (*OpenIDSession)(nil)
)

// DefaultSession is the plain session used by opaque token flows.
type DefaultSession struct {
	ExpiresAt map[TokenType]time.Time `json:"expires_at,omitempty"`
	Username  string                  `json:"username,omitempty"`
	Subject   string                  `json:"subject,omitempty"`
}

// NewDefaultSession returns a plain session for subject.
func NewDefaultSession(subject string) *DefaultSession {
	return &DefaultSession{Subject: subject, ExpiresAt: map[TokenType]time.Time{}}
}

func (s *DefaultSession) Kind() SessionKind { return SessionKindDefault }

func (s *DefaultSession) SetExpiresAt(key TokenType, exp time.Time) {
	if s.ExpiresAt == nil {
		s.ExpiresAt = map[TokenType]time.Time{}
	}
	s.ExpiresAt[key] = exp
}

func (s *DefaultSession) GetExpiresAt(key TokenType) time.Time {
	if s.ExpiresAt == nil {
		return time.Time{}
	}
	return s.ExpiresAt[key]
}

func (s *DefaultSession) GetSubject() string { return s.Subject }

func (s *DefaultSession) SetSubject(subject string) { s.Subject = subject }

func (s *DefaultSession) GetUsername() string { return s.Username }

func (s *DefaultSession) Clone() Session {
	c := s.cloneDefault()
	return &c
}

func (s *DefaultSession) cloneDefault() DefaultSession {
	return DefaultSession{
		ExpiresAt: maps.Clone(s.ExpiresAt),
		Username:  s.Username,
		Subject:   s.Subject,
	}
}

func (s *DefaultSession) sealed() {}

// JWTSession carries the claims and headers of a JWT access token.
type JWTSession struct {
	DefaultSession
	Claims  *AccessTokenClaims `json:"access_token_claims,omitempty"`
	Headers map[string]any     `json:"access_token_headers,omitempty"`
}

// NewJWTSession returns a session able to back JWT access tokens.
func NewJWTSession(subject string) *JWTSession {
	return &JWTSession{
		DefaultSession: *NewDefaultSession(subject),
		Claims:         &AccessTokenClaims{Subject: subject},
		Headers:        map[string]any{},
	}
}

func (s *JWTSession) Kind() SessionKind { return SessionKindJWT }

func (s *JWTSession) GetSubject() string {
	if s.Subject == "" && s.Claims != nil {
		return s.Claims.Subject
	}
	return s.Subject
}

func (s *JWTSession) SetSubject(subject string) {
	s.Subject = subject
	if s.Claims != nil {
		s.Claims.Subject = subject
	}
}

func (s *JWTSession) Clone() Session {
	c := s.cloneJWT()
	return &c
}

func (s *JWTSession) cloneJWT() JWTSession {
	return JWTSession{
		DefaultSession: s.cloneDefault(),
		Claims:         s.Claims.Clone(),
		Headers:        maps.Clone(s.Headers),
	}
}

// OpenIDSession carries ID token claims in addition to access token claims.
type OpenIDSession struct {
	JWTSession
	IDClaims  *IDTokenClaims `json:"id_token_claims,omitempty"`
	IDHeaders map[string]any `json:"id_token_headers,omitempty"`
}

// NewOpenIDSession returns an OpenID Connect session for subject.
func NewOpenIDSession(subject string) *OpenIDSession {
	return &OpenIDSession{
		JWTSession: *NewJWTSession(subject),
		IDClaims:   &IDTokenClaims{Subject: subject},
		IDHeaders:  map[string]any{},
	}
}

func (s *OpenIDSession) Kind() SessionKind { return SessionKindOpenID }

func (s *OpenIDSession) GetSubject() string {
	if s.Subject == "" && s.IDClaims != nil {
		return s.IDClaims.Subject
	}
	return s.JWTSession.GetSubject()
}

func (s *OpenIDSession) SetSubject(subject string) {
	s.JWTSession.SetSubject(subject)
	if s.IDClaims != nil {
		s.IDClaims.Subject = subject
	}
}

func (s *OpenIDSession) Clone() Session {
	return &OpenIDSession{
		JWTSession: s.cloneJWT(),
		IDClaims:   s.IDClaims.Clone(),
		IDHeaders:  maps.Clone(s.IDHeaders),
	}
}

// NewSession returns an empty session of the given kind.
func NewSession(kind SessionKind) (Session, error) {
	switch kind {
	case SessionKindDefault, "":
		return &DefaultSession{}, nil
	case SessionKindJWT:
		return &JWTSession{}, nil
	case SessionKindOpenID:
		return &OpenIDSession{}, nil
	default:
		return nil, ErrServerError.WithHintf("Unknown session kind %q.", kind)
	}
}

// AsOpenIDSession asserts the session is the OpenID Connect variant with claims.
func AsOpenIDSession(s Session) (*OpenIDSession, error) {
	o, ok := s.(*OpenIDSession)
	if !ok || o == nil {
		return nil, ErrServerError.WithHint("Failed to generate id token because session must be of type OpenIDSession.")
	}
	if o.IDClaims == nil {
		return nil, ErrServerError.WithHint("Failed to generate id token because claims must not be nil.")
	}
	return o, nil
}

// JWTClaimsOf returns the access token claims and headers of a JWT capable session.
func JWTClaimsOf(s Session) (*AccessTokenClaims, map[string]any, error) {
	var js *JWTSession
	switch v := s.(type) {
	case *JWTSession:
		js = v
	case *OpenIDSession:
		js = &v.JWTSession
	}
	if js == nil || js.Claims == nil {
		return nil, nil, ErrServerError.WithHint("Session must carry JWT access token claims.")
	}
	if js.Headers == nil {
		js.Headers = map[string]any{}
	}
	return js.Claims, js.Headers, nil
}
