package store

import (
	"errors"
	"testing"
	"time"

	"github.com/i474232898/radar-overlay/internal/weather"
)

func manifestAt(generated int64, radarTimes ...int64) weather.Manifest {
	m := weather.Manifest{Host: "https://tiles.example", Generated: time.Unix(generated, 0).UTC()}
	for _, ts := range radarTimes {
		m.Radar = append(m.Radar, weather.RadarFrame("/v2/radar/x", ts))
	}
	return m
}

func TestGetLatestEmpty(t *testing.T) {
	s := NewMemoryStore(0, 0)
	if _, err := s.GetLatest(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetentionByCount(t *testing.T) {
	s := NewMemoryStore(2, 0)
	s.SaveManifest(manifestAt(100, 100))
	s.SaveManifest(manifestAt(200, 200))
	s.SaveManifest(manifestAt(300, 300))

	latest, err := s.GetLatest()
	if err != nil || latest.Generated.Unix() != 300 {
		t.Fatalf("unexpected latest: %v %v", latest.Generated, err)
	}

	frames, err := s.GetRange(time.Unix(0, 0), time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 || frames[0].Time != 200 {
		t.Fatalf("expected the oldest manifest to be dropped, got %+v", frames)
	}
}

func TestRetentionByAgeKeepsNewest(t *testing.T) {
	s := NewMemoryStore(0, time.Hour)
	s.now = func() time.Time { return time.Unix(100000, 0) }

	s.SaveManifest(manifestAt(1, 1))
	s.SaveManifest(manifestAt(2, 2))

	latest, err := s.GetLatest()
	if err != nil || latest.Generated.Unix() != 2 {
		t.Fatalf("newest manifest must survive age retention, got %v %v", latest.Generated, err)
	}
	if _, err := s.GetRange(time.Unix(1, 0), time.Unix(1, 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected the stale manifest to be evicted, got %v", err)
	}
}

func TestGetRangeDeduplicatesAcrossManifests(t *testing.T) {
	s := NewMemoryStore(10, 0)
	s.SaveManifest(manifestAt(600, 0, 600))
	s.SaveManifest(manifestAt(1200, 600, 1200))

	frames, err := s.GetRange(time.Unix(0, 0), time.Unix(1200, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 distinct frames, got %d", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i-1].Time >= frames[i].Time {
			t.Fatalf("frames not ordered: %+v", frames)
		}
	}

	if _, err := s.GetRange(time.Unix(5000, 0), time.Unix(6000, 0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty range, got %v", err)
	}
}
