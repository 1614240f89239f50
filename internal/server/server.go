package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vidstream/vidstream/internal/auth"
	"github.com/vidstream/vidstream/internal/billing"
	"github.com/vidstream/vidstream/internal/database"
	"github.com/vidstream/vidstream/internal/docs"
	"github.com/vidstream/vidstream/internal/httputil"
	"github.com/vidstream/vidstream/internal/languages"
	"github.com/vidstream/vidstream/internal/metrics"
	"github.com/vidstream/vidstream/internal/notify"
	"github.com/vidstream/vidstream/internal/ratelimit"
	"github.com/vidstream/vidstream/internal/telemetry"
	"github.com/vidstream/vidstream/internal/user"
	"github.com/vidstream/vidstream/internal/validate"
	"github.com/vidstream/vidstream/internal/video"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB               database.DBTX
	Pinger           Pinger
	Storage          video.ObjectStorage
	JWTSecret        string
	StreamSecret     string
	BaseURL          string
	MaxUploadBytes   int64
	StreamChunkBytes int64
	StreamTokenTTL   time.Duration
	S3PublicEndpoint string
	EnableDocs       bool

	EmailSender     auth.EmailSender
	LoginGuard      auth.LoginGuard
	Publisher       notify.Publisher
	CountryResolver video.CountryResolver
	StatsCache      video.Cache

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePrices        map[string]string
	BillingMailer       billing.Mailer
}

type Server struct {
	router          chi.Router
	pinger          Pinger
	authHandler     *auth.Handler
	userHandler     *user.Handler
	videoHandler    *video.Handler
	billingHandlers *billing.Handlers
	billingEnabled  bool
	enableDocs      bool
	maxUploadBytes  int64
	chunkBytes      int64
	limiters        []*ratelimit.Limiter
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(telemetry.Recoverer)
	r.Use(accessLog)
	r.Use(metrics.Middleware)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: cfg.S3PublicEndpoint,
	}))

	s := &Server{
		router:         r,
		pinger:         cfg.Pinger,
		enableDocs:     cfg.EnableDocs,
		maxUploadBytes: cfg.MaxUploadBytes,
		chunkBytes:     cfg.StreamChunkBytes,
	}

	if cfg.DB != nil {
		jwtSecret := cfg.JWTSecret
		if jwtSecret == "" {
			log.Fatal("JWT_SECRET is required; set the environment variable")
		}

		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		streamSecret := cfg.StreamSecret
		if streamSecret == "" {
			streamSecret = jwtSecret
		}

		secureCookies := strings.HasPrefix(baseURL, "https://")
		s.authHandler = auth.NewHandler(cfg.DB, jwtSecret, secureCookies)
		if cfg.EmailSender != nil {
			s.authHandler.SetEmailSender(cfg.EmailSender, baseURL)
		}
		if cfg.LoginGuard != nil {
			s.authHandler.SetLoginGuard(cfg.LoginGuard)
		}

		s.userHandler = user.NewHandler(cfg.DB)

		s.videoHandler = video.NewHandler(cfg.DB, cfg.Storage, baseURL, cfg.MaxUploadBytes, streamSecret)
		s.videoHandler.SetStreamLimits(cfg.StreamChunkBytes, cfg.StreamTokenTTL)
		if cfg.Publisher != nil {
			s.videoHandler.SetPublisher(cfg.Publisher)
		}
		if cfg.CountryResolver != nil {
			s.videoHandler.SetCountryResolver(cfg.CountryResolver)
		}
		if cfg.StatsCache != nil {
			s.videoHandler.SetStatsCache(cfg.StatsCache)
		}

		var stripeClient *billing.Client
		if cfg.StripeSecretKey != "" {
			stripeClient = billing.New(cfg.StripeSecretKey, cfg.StripePrices, nil)
			s.billingEnabled = true
		}
		s.billingHandlers = billing.NewHandlers(cfg.DB, stripeClient, baseURL, cfg.StripeWebhookSecret)
		if cfg.BillingMailer != nil {
			s.billingHandlers.SetMailer(cfg.BillingMailer)
		}
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the background eviction of the per-IP limiters.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) newLimiter(rps float64, burst int) *ratelimit.Limiter {
	l := ratelimit.NewLimiter(rps, burst)
	s.limiters = append(s.limiters, l)
	return l
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/limits", s.handleLimits)
	s.router.Get("/api/languages", s.handleLanguages)
	s.router.Handle("/metrics", metrics.Handler())

	if s.enableDocs {
		s.router.Get("/api/docs", docs.HandleDocs)
		s.router.Get("/api/docs/openapi.yaml", docs.HandleSpec)
	}

	if s.authHandler == nil {
		return
	}

	authLimiter := s.newLimiter(0.5, 5)
	s.router.Route("/api/auth", func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/register", s.authHandler.Register)
		r.Post("/login", s.authHandler.Login)
		r.Post("/refresh", s.authHandler.Refresh)
		r.Post("/logout", s.authHandler.Logout)
		r.Post("/forgot-password", s.authHandler.ForgotPassword)
		r.Post("/reset-password", s.authHandler.ResetPassword)
	})

	apiLimiter := s.newLimiter(10, 40)
	streamLimiter := s.newLimiter(50, 100)

	// Public catalog; identity is attached when present.
	s.router.Group(func(r chi.Router) {
		r.Use(apiLimiter.Middleware)
		r.Use(s.authHandler.OptionalMiddleware)

		r.Get("/api/categories", s.videoHandler.ListCategories)
		r.Get("/api/categories/{slug}", s.videoHandler.GetCategory)
		r.Get("/api/videos", s.videoHandler.ListVideos)
		r.Get("/api/videos/{id}", s.videoHandler.GetVideo)
		r.Get("/api/videos/{id}/episodes", s.videoHandler.ListEpisodes)
		r.Get("/api/videos/{id}/subtitles", s.videoHandler.ListVideoSubtitles)
		r.Get("/api/videos/{id}/ratings", s.videoHandler.ListRatings)
		r.Get("/api/episodes/{id}", s.videoHandler.GetEpisode)
		r.Get("/api/episodes/{id}/subtitles", s.videoHandler.ListEpisodeSubtitles)
		r.Get("/api/subtitles/{id}/file", s.videoHandler.GetSubtitleFile)
		r.Get("/api/search", s.videoHandler.Search)
		r.Get("/api/plans", s.billingHandlers.Plans)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(streamLimiter.Middleware)
		r.Use(s.authHandler.OptionalMiddleware)
		r.Get("/api/stream/{token}", s.videoHandler.ServeStream)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(apiLimiter.Middleware)
		r.Use(s.authHandler.Middleware)

		r.Get("/api/me", s.userHandler.GetProfile)
		r.Patch("/api/me", s.userHandler.UpdateProfile)
		r.Put("/api/me/password", s.userHandler.ChangePassword)

		r.Post("/api/stream/videos/{id}", s.videoHandler.CreateVideoStream)
		r.Post("/api/stream/episodes/{id}", s.videoHandler.CreateEpisodeStream)

		r.Get("/api/favorites", s.videoHandler.ListFavorites)
		r.Put("/api/favorites/{videoId}", s.videoHandler.AddFavorite)
		r.Delete("/api/favorites/{videoId}", s.videoHandler.RemoveFavorite)

		r.Put("/api/videos/{id}/rating", s.videoHandler.RateVideo)
		r.Delete("/api/videos/{id}/rating", s.videoHandler.DeleteRating)

		r.Put("/api/history", s.videoHandler.SaveProgress)
		r.Get("/api/history", s.videoHandler.ListHistory)
		r.Delete("/api/history", s.videoHandler.ClearHistory)
		r.Get("/api/history/continue", s.videoHandler.ContinueWatching)
		r.Delete("/api/history/{id}", s.videoHandler.DeleteHistoryEntry)

		r.Get("/api/notifications", s.videoHandler.ListNotifications)
		r.Get("/api/notifications/unread-count", s.videoHandler.UnreadNotificationCount)
		r.Post("/api/notifications/read-all", s.videoHandler.MarkAllNotificationsRead)
		r.Post("/api/notifications/{id}/read", s.videoHandler.MarkNotificationRead)
		r.Delete("/api/notifications/{id}", s.videoHandler.DeleteNotification)

		if s.billingEnabled {
			r.Get("/api/billing", s.billingHandlers.GetBilling)
			r.Post("/api/billing/checkout", s.billingHandlers.CreateCheckout)
			r.Post("/api/billing/portal", s.billingHandlers.CreatePortal)
			r.Post("/api/billing/cancel", s.billingHandlers.CancelSubscription)
			r.Get("/api/billing/payments", s.billingHandlers.ListPayments)
		}
	})

	s.router.Route("/api/admin", func(r chi.Router) {
		r.Use(apiLimiter.Middleware)
		r.Use(s.authHandler.Middleware)
		r.Use(auth.RequireAdmin)

		r.Get("/users", s.userHandler.AdminList)
		r.Patch("/users/{id}/role", s.userHandler.AdminSetRole)
		r.Delete("/users/{id}", s.userHandler.AdminDelete)

		r.Post("/categories", s.videoHandler.AdminCreateCategory)
		r.Patch("/categories/{id}", s.videoHandler.AdminUpdateCategory)
		r.Delete("/categories/{id}", s.videoHandler.AdminDeleteCategory)

		r.Post("/videos", s.videoHandler.AdminCreateVideo)
		r.Patch("/videos/{id}", s.videoHandler.AdminUpdateVideo)
		r.Delete("/videos/{id}", s.videoHandler.AdminDeleteVideo)
		r.Post("/videos/{id}/complete", s.videoHandler.AdminCompleteVideo)
		r.Post("/videos/{id}/thumbnail", s.videoHandler.AdminVideoThumbnail)
		r.Post("/videos/{id}/episodes", s.videoHandler.AdminCreateEpisode)

		r.Patch("/episodes/{id}", s.videoHandler.AdminUpdateEpisode)
		r.Delete("/episodes/{id}", s.videoHandler.AdminDeleteEpisode)
		r.Post("/episodes/{id}/complete", s.videoHandler.AdminCompleteEpisode)

		r.Post("/subtitles", s.videoHandler.AdminUploadSubtitle)
		r.Delete("/subtitles/{id}", s.videoHandler.AdminDeleteSubtitle)

		r.Post("/notifications", s.videoHandler.AdminBroadcast)
		r.Get("/stats", s.videoHandler.AdminStats)
	})

	if s.billingEnabled {
		s.router.Post("/api/webhooks/stripe", s.billingHandlers.Webhook)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type limitsResponse struct {
	Fields           map[string]int `json:"fields"`
	MaxUploadBytes   int64          `json:"maxUploadBytes"`
	StreamChunkBytes int64          `json:"streamChunkBytes"`
}

func (s *Server) handleLimits(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, limitsResponse{
		Fields:           validate.FieldLimits(),
		MaxUploadBytes:   s.maxUploadBytes,
		StreamChunkBytes: s.chunkBytes,
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, languages.SubtitleLanguages())
}
