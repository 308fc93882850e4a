// Package api provides the HTTP surface of Grantly: the login/session
// endpoints, the authorization check endpoint and the signed API gateway.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/grantly/grantly/pkg/acl"
	"github.com/grantly/grantly/pkg/auth"
	"github.com/grantly/grantly/pkg/config"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/restapi"
	"github.com/grantly/grantly/pkg/session"
)

// Deps are the server's injected collaborators
type Deps struct {
	Users    interfaces.UserRepository
	Grants   interfaces.GrantRepository
	Creds    interfaces.APICredentialRepository
	Cache    interfaces.Cache
	Notifier interfaces.Notifier
	Logger   interfaces.Logger
}

// Server represents the API server instance
type Server struct {
	cfg      *config.Config
	users    interfaces.UserRepository
	grants   interfaces.GrantRepository
	notifier interfaces.Notifier
	logger   interfaces.Logger
	tokens   *auth.TokenIssuer
	apiAuth  *restapi.Authenticator
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new API server instance
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.LogLevel == "error" || cfg.LogLevel == "warn" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		users:    deps.Users,
		grants:   deps.Grants,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		tokens:   auth.NewTokenIssuer(cfg, nil),
		apiAuth:  restapi.NewAuthenticator(cfg, deps.Creds, deps.Users, deps.Cache, deps.Logger),
		router:   gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Auth-Key", "X-Auth-Signature", "X-Api-Nonce", "X-Request-ID"}
	s.router.Use(cors.New(corsConfig))

	s.router.Use(s.requestIDMiddleware())
}

// setupRoutes registers the endpoint handlers
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	authGroup := s.router.Group("/auth")
	{
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/logout", s.handleLogout)
		authGroup.GET("/session", s.handleSession)
		authGroup.POST("/reset", s.handleReset)
		authGroup.PUT("/password", s.jwtMiddleware(), s.handlePassword)
	}

	s.router.POST("/authz/check", s.handleCheck)
	s.router.Any("/api", s.handleAPI)
	s.router.Any("/api/*path", s.handleAPI)
}

// Router exposes the underlying engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// newEvaluator builds a fresh grant evaluator; memoization is scoped to
// one request
func (s *Server) newEvaluator() *acl.Evaluator {
	return acl.NewEvaluator(s.cfg, s.grants, s.logger)
}

// authenticator builds a per-request credential authenticator bound to the
// given gin context's cookies
func (s *Server) authenticator(c *gin.Context) *auth.Authenticator {
	return auth.NewAuthenticator(s.cfg, auth.Deps{
		Users:     s.users,
		Evaluator: s.newEvaluator(),
		Session:   session.NewMemoryStore(),
		Cookies:   ginCookieWriter{c: c},
		Notifier:  s.notifier,
		Logger:    s.logger,
	})
}

// cookiePair reads the remember-me pair off the inbound request
func (s *Server) cookiePair(c *gin.Context) session.CookiePair {
	name, _ := c.Cookie(s.cfg.Auth.CookieName)
	key, _ := c.Cookie(s.cfg.Auth.CookieKey)
	return session.CookiePair{Name: name, Key: key}
}

// ginCookieWriter maps authenticator cookie mutations onto Set-Cookie
// headers of the active response
type ginCookieWriter struct {
	c *gin.Context
}

func (w ginCookieWriter) SetCookie(name, value string, maxAge int) {
	w.c.SetCookie(name, value, maxAge, "/", "", false, true)
}

func (w ginCookieWriter) ExpireCookie(name string) {
	w.c.SetCookie(name, "", -1, "/", "", false, true)
}

// Start starts the API server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server", map[string]interface{}{
		"addr": s.server.Addr,
		"mode": gin.Mode(),
	})

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Failed to start server", err)
		}
	}()

	<-ctx.Done()

	s.logger.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
