package weather

import (
	"fmt"
	"strings"
	"time"
)

// Family selects which overlay is displayed on top of the map.
type Family string

const (
	FamilyNone      Family = "none"
	FamilyRadar     Family = "radar"
	FamilySatellite Family = "satellite"
)

// ParseFamily maps a user supplied layer name to a Family.
func ParseFamily(s string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case FamilyNone:
		return FamilyNone, nil
	case FamilyRadar:
		return FamilyRadar, nil
	case FamilySatellite:
		return FamilySatellite, nil
	default:
		return FamilyNone, fmt.Errorf("unknown layer %q", s)
	}
}

// ColorScheme is one of the radar palettes offered by the tile host.
type ColorScheme int

const (
	SchemeOriginal ColorScheme = iota + 1
	SchemeUniversalBlue
	SchemeTitan
	SchemeWeatherChannel
)

var schemeNames = map[ColorScheme]string{
	SchemeOriginal:       "Original",
	SchemeUniversalBlue:  "Universal Blue",
	SchemeTitan:          "TITAN",
	SchemeWeatherChannel: "The Weather Channel",
}

// Valid reports whether c is one of the four known schemes.
func (c ColorScheme) Valid() bool {
	_, ok := schemeNames[c]
	return ok
}

func (c ColorScheme) Name() string {
	if n, ok := schemeNames[c]; ok {
		return n
	}
	return "unknown"
}

// Code is the path segment the tile host expects for this scheme.
func (c ColorScheme) Code() string {
	return fmt.Sprintf("%d", int(c))
}

// Next cycles 1 -> 2 -> 3 -> 4 -> 1.
func (c ColorScheme) Next() ColorScheme {
	if !c.Valid() {
		return SchemeOriginal
	}
	return c%SchemeWeatherChannel + 1
}

const (
	// SchemePlaceholder marks the color scheme segment in radar path templates.
	SchemePlaceholder = "{scheme}"

	RadarTileSize     = 256
	SatelliteTileSize = 512

	// radarOptions selects smoothed rendering with snow colors.
	radarOptions = "1_1"
)

// Frame is one time-stamped tile snapshot. Frames are immutable once fetched.
type Frame struct {
	PathTemplate string `json:"path"`
	Time         int64  `json:"time"` // unix seconds
}

// RadarFrame builds the tile path template for a radar frame rooted at basePath.
func RadarFrame(basePath string, unix int64) Frame {
	return Frame{
		PathTemplate: fmt.Sprintf("%s/%d/{z}/{x}/{y}/%s/%s.png", basePath, RadarTileSize, SchemePlaceholder, radarOptions),
		Time:         unix,
	}
}

// SatelliteFrame builds the tile path template for an infrared satellite frame.
func SatelliteFrame(basePath string, unix int64) Frame {
	return Frame{
		PathTemplate: fmt.Sprintf("%s/%d/{z}/{x}/{y}/0/0_0.png", basePath, SatelliteTileSize),
		Time:         unix,
	}
}

// Resolve returns the cache key for this frame under the given scheme.
// Satellite templates carry no scheme segment and resolve to themselves.
func (f Frame) Resolve(scheme ColorScheme) string {
	return strings.ReplaceAll(f.PathTemplate, SchemePlaceholder, scheme.Code())
}

// Timestamp returns the observation time in UTC.
func (f Frame) Timestamp() time.Time {
	return time.Unix(f.Time, 0).UTC()
}

// Manifest is the result of one frame source fetch. Index 0 of each
// sequence is the oldest frame; the last one is the most recent.
type Manifest struct {
	Host      string    `json:"host"`
	Generated time.Time `json:"generated"`
	Radar     []Frame   `json:"radar"`
	Satellite []Frame   `json:"satellite"`
}

// Frames returns the sequence animated for the given family. The radar
// sequence backs FamilyNone so the playback index stays meaningful while
// nothing is displayed.
func (m Manifest) Frames(f Family) []Frame {
	if f == FamilySatellite {
		return m.Satellite
	}
	return m.Radar
}
