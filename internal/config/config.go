package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/radar-overlay/internal/weather"
)

type AppConfig struct {
	// ManifestURL is the RainViewer weather maps endpoint.
	ManifestURL string

	// RefreshInterval controls how often the frame manifest is refetched.
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration

	// Overlay defaults.
	TileHost      string
	Opacity       float64
	ColorScheme   weather.ColorScheme
	Layer         weather.Family
	FrameInterval time.Duration
	LoadTimeout   time.Duration
	OpacityStep   float64
	PreloadFrames int

	// Viewport probed when a layer is attached.
	ViewLat  float64
	ViewLon  float64
	ViewZoom int

	MaxCachedTiles int

	// In-memory manifest retention.
	StoreMaxHistory int           // max number of manifests kept (0 = unlimited)
	StoreMaxAge     time.Duration // max age of manifests (0 = unlimited)

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}
	var err error

	cfg.ManifestURL = getenvDefault("RAINVIEWER_MANIFEST_URL", "https://api.rainviewer.com/public/weather-maps.json")
	cfg.TileHost = getenvDefault("TILE_HOST", "https://tilecache.rainviewer.com")

	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.FrameInterval, err = getenvDuration("FRAME_INTERVAL", 300*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.LoadTimeout, err = getenvDuration("LOAD_TIMEOUT", 300*time.Millisecond); err != nil {
		return nil, err
	}

	for key, d := range map[string]time.Duration{
		"REFRESH_INTERVAL": cfg.RefreshInterval,
		"FRAME_INTERVAL":   cfg.FrameInterval,
		"LOAD_TIMEOUT":     cfg.LoadTimeout,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("invalid %s: %v must be positive", key, d)
		}
	}

	cfg.Opacity = getenvFloat("OVERLAY_OPACITY", 0.5)
	if cfg.Opacity < 0 || cfg.Opacity > 1 {
		return nil, fmt.Errorf("invalid OVERLAY_OPACITY: %v not in [0, 1]", cfg.Opacity)
	}
	cfg.OpacityStep = getenvFloat("OPACITY_STEP", 0.25)
	if cfg.OpacityStep <= 0 || cfg.OpacityStep > 1 {
		return nil, fmt.Errorf("invalid OPACITY_STEP: %v not in (0, 1]", cfg.OpacityStep)
	}
	cfg.PreloadFrames = getenvInt("PRELOAD_FRAMES", 2)

	cfg.ColorScheme = weather.ColorScheme(getenvInt("COLOR_SCHEME", int(weather.SchemeOriginal)))
	if !cfg.ColorScheme.Valid() {
		return nil, fmt.Errorf("invalid COLOR_SCHEME: %d", cfg.ColorScheme)
	}
	if cfg.Layer, err = weather.ParseFamily(getenvDefault("OVERLAY_LAYER", "none")); err != nil {
		return nil, fmt.Errorf("invalid OVERLAY_LAYER: %w", err)
	}

	cfg.ViewLat = getenvFloat("VIEW_LAT", 0)
	cfg.ViewLon = getenvFloat("VIEW_LON", 0)
	cfg.ViewZoom = getenvInt("VIEW_ZOOM", 3)
	cfg.MaxCachedTiles = getenvInt("MAX_CACHED_TILES", 512)

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 288) // 24h at 5-minute intervals
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
