package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.RegisterRouteHandler("GET "+RouteWellKnownOpenIDConfig, ChainMiddleware(s.WellKnownOpenIDConfig(), s.APIMiddleware(s.CacheMiddleware)...))
	s.RegisterRouteHandler("GET "+RouteWellKnownJWKS, ChainMiddleware(s.JWKS(), s.APIMiddleware(s.CacheMiddleware)...))

	// The authorization endpoint accepts both GET and POST (OIDC Core 3.1.2.1).
	s.RegisterRouteHandler("GET "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.BrowserMiddleware()...))

	s.RegisterRouteHandler("POST "+RouteOAuth2Token, ChainMiddleware(s.Token(), s.APIMiddleware(s.NoStoreMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Introspect, ChainMiddleware(s.Introspect(), s.APIMiddleware(s.NoStoreMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Revoke, ChainMiddleware(s.Revoke(), s.APIMiddleware()...))

	for _, route := range []string{RouteOAuth2Token, RouteOAuth2Introspect, RouteOAuth2Revoke, RouteWellKnownOpenIDConfig, RouteWellKnownJWKS} {
		s.RegisterRouteHandler("OPTIONS "+route, ChainMiddleware(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}, s.APIMiddleware()...))
	}
}
