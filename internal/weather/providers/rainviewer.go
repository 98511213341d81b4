package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/radar-overlay/internal/resilience"
	"github.com/i474232898/radar-overlay/internal/weather"
)

// DefaultRainViewerURL is the public RainViewer frame manifest.
const DefaultRainViewerURL = "https://api.rainviewer.com/public/weather-maps.json"

var errInvalidManifest = errors.New("invalid weather maps manifest")

// RainViewerProvider implements weather.FrameSource for RainViewer.
type RainViewerProvider struct {
	name    string
	baseURL string
	httpCfg resilience.Config
	circuit *gobreaker.CircuitBreaker
}

func NewRainViewerProvider(client *http.Client, baseURL string) *RainViewerProvider {
	if baseURL == "" {
		baseURL = DefaultRainViewerURL
	}
	return &RainViewerProvider{
		name:    "rainviewer",
		baseURL: baseURL,
		httpCfg: resilience.Config{
			Client:  client,
			Backoff: resilience.DefaultBackoff,
		},
		circuit: resilience.NewBreaker("rainviewer"),
	}
}

func (p *RainViewerProvider) Name() string {
	return p.name
}

type rainViewerFrame struct {
	Time int64  `json:"time"`
	Path string `json:"path"`
}

type rainViewerPayload struct {
	Version   string `json:"version"`
	Generated int64  `json:"generated"`
	Host      string `json:"host"`
	Radar     struct {
		Past    []rainViewerFrame `json:"past"`
		Nowcast []rainViewerFrame `json:"nowcast"`
	} `json:"radar"`
	Satellite struct {
		Infrared []rainViewerFrame `json:"infrared"`
	} `json:"satellite"`
}

func (p *RainViewerProvider) Fetch(ctx context.Context) (weather.Manifest, error) {
	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, p.baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := resilience.Do(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Manifest{}, err
	}
	defer resp.Body.Close()

	var payload rainViewerPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Manifest{}, fmt.Errorf("decode %s manifest: %w", p.name, err)
	}

	return toManifest(payload)
}

// toManifest keeps only observed radar frames; nowcast entries are forecasts.
func toManifest(payload rainViewerPayload) (weather.Manifest, error) {
	host := strings.TrimRight(payload.Host, "/")
	if host == "" {
		return weather.Manifest{}, fmt.Errorf("%w: missing host", errInvalidManifest)
	}

	m := weather.Manifest{
		Host:      host,
		Generated: time.Unix(payload.Generated, 0).UTC(),
		Radar:     make([]weather.Frame, 0, len(payload.Radar.Past)),
		Satellite: make([]weather.Frame, 0, len(payload.Satellite.Infrared)),
	}
	for _, f := range payload.Radar.Past {
		if f.Path == "" {
			continue
		}
		m.Radar = append(m.Radar, weather.RadarFrame(f.Path, f.Time))
	}
	for _, f := range payload.Satellite.Infrared {
		if f.Path == "" {
			continue
		}
		m.Satellite = append(m.Satellite, weather.SatelliteFrame(f.Path, f.Time))
	}
	if payload.Generated == 0 {
		m.Generated = time.Time{}
	}
	return m, nil
}
