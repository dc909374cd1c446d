package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/starmint/starmint/starmint/catalog"
	"github.com/starmint/starmint/starmint/economy/auction"
	"github.com/starmint/starmint/starmint/economy/pricing"
	"github.com/starmint/starmint/starmint/economy/schedule"
	"github.com/starmint/starmint/starmint/economy/tiers"
	"github.com/starmint/starmint/starmint/metrics"
)

type Config struct {
	Addr            string        `toml:"addr" env:"ADDR"`
	AllowOrigins    string        `toml:"allow_origins" env:"ALLOW_ORIGINS"`
	ReadTimeout     time.Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		AllowOrigins:    "*",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Services are the engines the API fronts.
type Services struct {
	Prices   *pricing.Service
	Tiers    *tiers.Engine
	Schedule *schedule.Machine
	Auctions *auction.Manager
	Catalog  *catalog.Service
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	app      *fiber.App
	cfg      Config
	services Services
	db       Pinger
	metrics  *metrics.Registry
}

func NewServer(cfg Config, services Services, db Pinger, m *metrics.Registry) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.AllowOrigins == "" {
		cfg.AllowOrigins = def.AllowOrigins
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	app := fiber.New(fiber.Config{
		AppName:               "starmint",
		ServerHeader:          "starmint",
		ErrorHandler:          ErrorHandler,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept," + BidderHeader,
	}))
	app.Use(LoggingMiddleware(m))

	s := &Server{app: app, cfg: cfg, services: services, db: db, metrics: m}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", HealthCheck(s))
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	v1 := s.app.Group("/v1")
	v1.Get("/collectibles/search", SearchCollectibles(s))
	v1.Get("/collectibles/:id", GetCollectible(s))
	v1.Get("/collectibles/:id/price", GetPrice(s))
	v1.Get("/collectibles/:id/history", GetOwnershipHistory(s))
	v1.Get("/collectibles/:id/prices", GetPriceHistory(s))
	v1.Get("/tiers/stats", GetTierStats(s))
	v1.Get("/schedule", GetSchedule(s))
	v1.Get("/auctions/:id", GetAuction(s))
	v1.Post("/auctions/:id/bids", PlaceBid(s))
	v1.Post("/purchases", RecordPurchase(s))

	admin := v1.Group("/admin")
	admin.Post("/tiers/assign", AssignTiers(s))
	admin.Post("/prices/recalculate", RecalculatePrices(s))
	admin.Post("/schedule/advance", AdvancePhase(s))
	admin.Post("/schedule/pause", PauseSchedule(s))
	admin.Post("/schedule/resume", ResumeSchedule(s))
	admin.Post("/series", CreateSeries(s))
	admin.Post("/auctions", CreateAuction(s))
	admin.Post("/auctions/repair", RepairAuctions(s))
	admin.Post("/auctions/:id/finalize", FinalizeAuction(s))
	admin.Post("/auctions/:id/cancel", CancelAuction(s))
	admin.Post("/auctions/:id/settle", SettleAuction(s))
	admin.Post("/collectibles/:id/mint", MarkMinted(s))
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening",
			slog.String("type", "http"),
			slog.String("addr", s.cfg.Addr))
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	slog.Info("HTTP server stopped", slog.String("type", "http"))
	return nil
}
