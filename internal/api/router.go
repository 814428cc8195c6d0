package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"samadhan/internal/config"
	"samadhan/internal/constants"
	"samadhan/internal/identity"
	"samadhan/internal/imagehost"
	"samadhan/internal/models"
)

const (
	defaultBodyLimit = 1 << 20
	avatarBodyLimit  = 8 << 20
)

// ServerDeps are the collaborators the router needs. Media and Redis are
// optional. A nil Counters keeps limiter state in memory.
type ServerDeps struct {
	Config   *config.Config
	Service  *identity.Service
	Database Pinger
	Redis    Pinger
	Media    MediaFiles
	Counters CounterFactory
}

type Server struct {
	router *chi.Mux
}

func NewServer(deps ServerDeps) (*Server, error) {
	cfg := deps.Config
	exposeDetail := !cfg.IsProduction()

	ipResolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	limits := rateLimiters{ip: ipResolver, newCounter: deps.Counters}

	authHandler := NewAuthHandler(deps.Service, exposeDetail)
	userHandler := NewUserHandler(deps.Service, exposeDetail)
	adminHandler := NewAdminHandler(deps.Service, exposeDetail)
	healthHandler := NewHealthHandler(deps.Database, deps.Redis)
	serverInfoHandler := NewServerInfoHandler(cfg.Server.Name, cfg.Storage.UploadMaxBytes)
	authMiddleware := NewAuthMiddleware(deps.Service, exposeDetail)

	authLimit := limits.limit("auth", cfg.RateLimit.Auth)
	verifyLimit := limits.limit("verification", cfg.RateLimit.Verification)
	refreshLimit := limits.limit("refresh", cfg.RateLimit.Refresh)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.CORSOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	if deps.Media != nil {
		r.Get(imagehost.PathPrefix+"*", NewMediaHandler(deps.Media).Get)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/server/info", serverInfoHandler.GetInfo)

		r.Route("/auth", func(r chi.Router) {
			r.Use(maxBodySizeMiddleware(defaultBodyLimit))

			r.With(authLimit).Post("/register", authHandler.Register)
			r.With(authLimit).Post("/login", authHandler.Login)
			r.With(verifyLimit).Post("/verify-phone", authHandler.VerifyPhone)
			r.Get("/verify-email/{token}", authHandler.VerifyEmail)
			r.With(verifyLimit).Post("/resend-verification", authHandler.ResendVerification)
			r.With(verifyLimit).Post("/forgot-password", authHandler.ForgotPassword)
			r.With(verifyLimit).Post("/reset-password", authHandler.ResetPassword)
			r.With(refreshLimit).Post("/refresh-token", authHandler.Refresh)
			r.With(authMiddleware.OptionalAuth).Post("/logout", authHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Get("/me", authHandler.Me)
				r.With(authLimit).Post("/change-password", authHandler.ChangePassword)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/me", userHandler.GetMe)
			r.With(maxBodySizeMiddleware(defaultBodyLimit)).Patch("/me", userHandler.UpdateMe)
			r.With(maxBodySizeMiddleware(avatarBodyLimit)).Put("/me/avatar", userHandler.UpdateAvatar)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(maxBodySizeMiddleware(defaultBodyLimit))
			r.Use(authMiddleware.RequireAuth)
			r.Use(authMiddleware.RequireRole(models.RoleAdmin))
			r.Get("/users/{id}", adminHandler.GetUser)
			r.Post("/users/{id}/ban", adminHandler.Ban)
			r.Post("/users/{id}/unban", adminHandler.Unban)
		})
	})

	return &Server{router: r}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsMiddleware allows the configured origins plus any loopback origin.
// Requests without an Origin header pass through untouched.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			_, ok := allowed[origin]
			if !ok && !isLoopbackOrigin(origin) {
				writeError(w, http.StatusForbidden, constants.ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"component", "api",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
