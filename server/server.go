// Package server is the example host: a thin net/http transport over the
// engine's Provider.
package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/config"
	"github.com/jrsteele09/go-oauth-engine/grant"
	"github.com/jrsteele09/go-oauth-engine/provider"
	"github.com/jrsteele09/go-oauth-engine/token/keys"
)

type Server struct {
	mux    *http.ServeMux
	routes []string
	logger zerolog.Logger

	config   *config.Config
	provider *provider.Provider
	signer   keys.Signer
	// owners authenticates resource owners at the authorization endpoint.
	owners grant.ResourceOwnerAuthenticator
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The global zerolog logger is used by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(cfg *config.Config, p *provider.Provider, signer keys.Signer, owners grant.ResourceOwnerAuthenticator, options ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[server.New] Config is required")
	}
	if p == nil {
		return nil, errors.New("[server.New] Provider is required")
	}
	if signer == nil {
		return nil, errors.New("[server.New] Signer is required")
	}
	if owners == nil {
		return nil, errors.New("[server.New] ResourceOwnerAuthenticator is required")
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   log.Logger,
		config:   cfg,
		provider: p,
		signer:   signer,
		owners:   owners,
	}
	for _, option := range options {
		option(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.logger.Debug().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}
