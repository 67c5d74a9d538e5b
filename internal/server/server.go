package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/apperr"
	"github.com/clockframe/clockframe/internal/audit"
	"github.com/clockframe/clockframe/internal/config"
	"github.com/clockframe/clockframe/internal/handlers"
	"github.com/clockframe/clockframe/internal/jobs"
	"github.com/clockframe/clockframe/internal/middleware"
	"github.com/clockframe/clockframe/internal/realtime"
	"github.com/clockframe/clockframe/internal/repository"
	"github.com/clockframe/clockframe/internal/services"
)

// Server wires the CORE's four modules (auth/session, timer state machine,
// realtime fan-out, offline sync) into one fiber.App. Everything it owns is
// constructed here and torn down in Shutdown.
type Server struct {
	app *fiber.App
	cfg *config.Config
	db  *pgxpool.Pool
	rdb *redis.Client
	log zerolog.Logger

	hub       *realtime.Hub
	jobWorker *jobs.Worker
	scheduler *jobs.Scheduler

	authLimiter *middleware.RateLimiter
	apiLimiter  *middleware.RateLimiter
}

func New(cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "clockframe",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: false,
		ErrorHandler:          apperr.Handler(log),
	})

	hub := realtime.NewHub(log)

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(rdb)
	projectRepo := repository.NewProjectRepository(db)
	entryRepo := repository.NewEntryRepository(db)

	auditLogger := audit.NewLogger(db)

	authService := services.NewAuthService(userRepo, sessionRepo, cfg.JWT)
	authService.SetLogger(log)
	authService.SetAuditLogger(auditLogger)
	timerService := services.NewTimerService(entryRepo, projectRepo, userRepo, hub, log)
	timerService.SetAuditLogger(auditLogger)
	entryService := services.NewEntryService(entryRepo, projectRepo, userRepo, hub, log)

	stopFn := func(ctx context.Context, userIDStr string) error {
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return err
		}
		_, err = timerService.ForceStopAll(ctx, userID)
		return err
	}

	jobQueue := jobs.NewMemoryQueue(1000)
	jobWorker := jobs.NewWorker(jobQueue, 2, log)
	jobWorker.RegisterHandler(jobs.JobTypeConsistencySweep, jobs.NewConsistencySweepHandler(entryRepo, stopFn, log))
	scheduler := jobs.NewScheduler(jobWorker, log)

	authLimitCfg := middleware.AuthRateLimitConfig()
	authLimitCfg.Rate = cfg.RateLimit.AuthAttempts
	authLimitCfg.MaxBurst = cfg.RateLimit.AuthAttempts
	authLimitCfg.Interval = cfg.RateLimit.AuthWindow
	apiLimitCfg := middleware.DefaultRateLimitConfig()
	apiLimitCfg.Rate = cfg.RateLimit.APIAttempts
	apiLimitCfg.Interval = cfg.RateLimit.APIWindow
	authLimiter := middleware.NewRateLimiter(authLimitCfg)
	apiLimiter := middleware.NewRateLimiter(apiLimitCfg)

	srv := &Server{
		app:         app,
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		log:         log,
		hub:         hub,
		jobWorker:   jobWorker,
		scheduler:   scheduler,
		authLimiter: authLimiter,
		apiLimiter:  apiLimiter,
	}

	srv.setupMiddleware()
	srv.setupRoutes(authService, timerService, entryService, userRepo, projectRepo)

	ctx := context.Background()
	jobWorker.Start(ctx)
	scheduler.Start(ctx)

	return srv
}

// embedOriginAllowed checks a request Origin against the configured
// embedding allowlist. An empty allowlist means every origin is permitted,
// matching the cross-origin-iframe-embeddable requirement of 4.F when no
// operator-side restriction has been configured.
func (s *Server) embedOriginAllowed(origin string) bool {
	if len(s.cfg.Embed.AllowedHosts) == 0 {
		return true
	}
	for _, host := range s.cfg.Embed.AllowedHosts {
		if host == "*" || strings.EqualFold(host, origin) {
			return true
		}
		if strings.HasSuffix(origin, "://"+host) || strings.Contains(origin, "://"+host+":") {
			return true
		}
	}
	return false
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(middleware.Metrics())
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
		TimeFormat: "15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOriginsFunc: s.embedOriginAllowed,
		AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		AllowCredentials: true,
		ExposeHeaders:    "X-Iframe-Compatible,X-Iframe-Restrictions,X-Fallback-Mode",
		MaxAge:           300,
	}))

	// Embedding headers: 4.F requires the CORE to make itself embeddable in
	// a cross-origin iframe rather than blocking it with the historical
	// same-origin-only defaults.
	s.app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-Iframe-Compatible", "true")

		if len(s.cfg.Embed.AllowedHosts) == 0 {
			c.Set("Content-Security-Policy", "frame-ancestors *")
		} else {
			ancestors := "frame-ancestors"
			for _, host := range s.cfg.Embed.AllowedHosts {
				ancestors += " " + host
			}
			c.Set("Content-Security-Policy", ancestors)
		}
		return c.Next()
	})
}

func (s *Server) setupRoutes(
	authService *services.AuthService,
	timerService *services.TimerService,
	entryService *services.EntryService,
	userRepo *repository.UserRepository,
	projectRepo *repository.ProjectRepository,
) {
	healthHandler := handlers.NewHealthHandler(s.log, s.db, s.rdb)
	authHandler := handlers.NewAuthHandler(authService, s.cfg.JWT, s.log)
	timerHandler := handlers.NewTimerHandler(timerService, s.log)
	entryHandler := handlers.NewEntryHandler(entryService, s.log)
	projectHandler := handlers.NewProjectHandler(projectRepo, s.log)
	realtimeHandler := handlers.NewRealtimeHandler(s.hub, authService, timerService, s.log)

	authMiddleware := middleware.NewAuthMiddleware(authService, s.cfg.JWT)

	apiLimit := middleware.RateLimitMiddleware(s.apiLimiter, middleware.DefaultRateLimitConfig())
	authLimit := middleware.RateLimitMiddleware(s.authLimiter, middleware.AuthRateLimitConfig())

	// Health checks and metrics, public.
	s.app.Get("/health", healthHandler.Liveness)
	s.app.Get("/ready", healthHandler.Readiness)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api", apiLimit)

	auth := api.Group("/auth")
	auth.Post("/register", authLimit, authHandler.Register)
	auth.Post("/login", authLimit, authHandler.Login)
	auth.Post("/refresh", authLimit, authHandler.RefreshToken)

	protected := api.Group("", authMiddleware.Authenticate)

	protected.Post("/auth/logout", authHandler.Logout)
	protected.Post("/auth/logout-all", authHandler.LogoutAll)
	protected.Get("/auth/me", authHandler.Me)
	protected.Put("/auth/change-password", authHandler.ChangePassword)
	protected.Get("/auth/websocket-ticket", authHandler.WebSocketTicket)

	timer := protected.Group("/timers")
	timer.Post("/start", timerHandler.Start)
	timer.Post("/stop", timerHandler.Stop)
	timer.Post("/pause", timerHandler.Pause)
	timer.Get("/active", timerHandler.Active)
	timer.Get("/state", timerHandler.State)
	timer.Post("/resolve-conflict", timerHandler.ResolveConflict)
	timer.Post("/force-stop-all", timerHandler.ForceStopAll)

	entries := protected.Group("/entries")
	entries.Get("/", entryHandler.List)
	entries.Get("/search", entryHandler.Search)
	entries.Get("/since", entryHandler.Since)
	entries.Get("/stats", entryHandler.Stats)
	entries.Post("/", entryHandler.Create)
	entries.Put("/bulk", entryHandler.BulkUpdate)
	entries.Delete("/bulk", entryHandler.BulkDelete)
	entries.Get("/:id", entryHandler.Get)
	entries.Put("/:id", entryHandler.Update)
	entries.Delete("/:id", entryHandler.Delete)

	projects := protected.Group("/projects")
	projects.Get("/", projectHandler.List)
	projects.Post("/", projectHandler.Create)
	projects.Get("/:id", projectHandler.Get)
	projects.Put("/:id", projectHandler.Update)
	projects.Delete("/:id", projectHandler.Delete)

	// Realtime channel: WebSocket upgrade for hosts that allow it, polling
	// fallback for hosts whose iframe sandbox blocks it entirely, per 4.F.
	api.Get("/socket", realtimeHandler.UpgradeCheck, websocket.New(realtimeHandler.HandleConnection))
	protected.Get("/poll", realtimeHandler.Poll)
	protected.Post("/send", realtimeHandler.Send)
}

// Start begins listening for requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown stops background work before closing the HTTP listener so no
// in-flight timer mutation or job is cut off mid-write.
func (s *Server) Shutdown() error {
	s.scheduler.Stop()
	s.jobWorker.Stop()
	s.authLimiter.Stop()
	s.apiLimiter.Stop()
	s.hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
