package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/multierr"

	httpapi "github.com/i474232898/radar-overlay/internal/api/http"
	"github.com/i474232898/radar-overlay/internal/config"
	"github.com/i474232898/radar-overlay/internal/metrics"
	"github.com/i474232898/radar-overlay/internal/overlay"
	"github.com/i474232898/radar-overlay/internal/resilience"
	"github.com/i474232898/radar-overlay/internal/scheduler"
	"github.com/i474232898/radar-overlay/internal/store"
	"github.com/i474232898/radar-overlay/internal/surface"
	"github.com/i474232898/radar-overlay/internal/weather"
	"github.com/i474232898/radar-overlay/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound manifest and tile calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	collector := metrics.NewCollector(0)

	// Map surface that probes and proxies tiles.
	tiles := surface.New(surface.Config{
		Viewport: surface.Viewport{Lat: cfg.ViewLat, Lon: cfg.ViewLon, Zoom: cfg.ViewZoom},
		MaxTiles: cfg.MaxCachedTiles,
		HTTP: resilience.Config{
			Client:  httpClient,
			Backoff: resilience.DefaultBackoff,
		},
	}, collector)

	// Overlay engine on its own goroutine.
	loop := overlay.NewLoop(overlay.Config{
		Host:          cfg.TileHost,
		FrameInterval: cfg.FrameInterval,
		LoadTimeout:   cfg.LoadTimeout,
		OpacityStep:   cfg.OpacityStep,
		PreloadFrames: cfg.PreloadFrames,
		Opacity:       cfg.Opacity,
		ColorScheme:   cfg.ColorScheme,
	}, tiles, collector)
	tiles.SetListener(loop)

	if err := loop.Do(context.Background(), func(e *overlay.Engine) { e.SelectFamily(cfg.Layer) }); err != nil {
		log.Fatalf("failed to select initial layer: %v", err)
	}

	// In-memory manifest history with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	source := providers.NewRainViewerProvider(httpClient, cfg.ManifestURL)
	service := weather.NewService(source, memStore, loop, collector)

	// Scheduler that periodically refreshes the frame manifest.
	sched := scheduler.New(cfg.RefreshInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "radar-overlay",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "radar-overlay",
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Loop:    loop,
		Frames:  service,
		Tiles:   tiles,
		Metrics: collector,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := shutdown(shutdownCtx, app, sched, service, loop); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

// shutdown stops intake first, then the refresher, then the overlay.
func shutdown(ctx context.Context, app *fiber.App, sched *scheduler.Scheduler, service *weather.Service, loop *overlay.Loop) error {
	var errs error
	errs = multierr.Append(errs, app.ShutdownWithContext(ctx))

	sched.Stop()
	service.Stop()

	done := make(chan struct{})
	go func() {
		loop.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, ctx.Err())
	}
	return errs
}
