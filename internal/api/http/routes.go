package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/radar-overlay/internal/metrics"
	"github.com/i474232898/radar-overlay/internal/overlay"
	"github.com/i474232898/radar-overlay/internal/store"
	"github.com/i474232898/radar-overlay/internal/surface"
	"github.com/i474232898/radar-overlay/internal/weather"
)

var validate = validator.New()

// FrameReader exposes stored manifests.
type FrameReader interface {
	GetLatest() (weather.Manifest, error)
	GetRange(from, to time.Time) ([]weather.Frame, error)
}

// TileSource serves tiles of layers known to the map surface.
type TileSource interface {
	Tile(ctx context.Context, id string, z, x, y int) ([]byte, error)
}

// Deps are the components the API drives.
type Deps struct {
	Loop    *overlay.Loop
	Frames  FrameReader
	Tiles   TileSource
	Metrics *metrics.Collector
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/overlay", control(d.Loop, func(*overlay.Engine) error { return nil }))

	v1.Get("/overlay/layers", func(c *fiber.Ctx) error {
		layers, err := overlay.Query(c.UserContext(), d.Loop, (*overlay.Engine).Layers)
		if err != nil {
			return unavailable(err)
		}
		return c.JSON(fiber.Map{"layers": layers})
	})

	actions := map[string]func(*overlay.Engine){
		"play":          (*overlay.Engine).Play,
		"pause":         (*overlay.Engine).Pause,
		"toggle":        (*overlay.Engine).TogglePlay,
		"step-forward":  (*overlay.Engine).StepForward,
		"step-backward": (*overlay.Engine).StepBackward,
		"speed":         (*overlay.Engine).CycleSpeed,
		"mode":          (*overlay.Engine).ToggleMode,
		"scheme":        (*overlay.Engine).CycleColorScheme,
	}
	for name, fn := range actions {
		fn := fn
		v1.Post("/overlay/"+name, control(d.Loop, func(e *overlay.Engine) error {
			fn(e)
			return nil
		}))
	}

	v1.Put("/overlay/opacity", func(c *fiber.Ctx) error {
		var req opacityRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		return control(d.Loop, func(e *overlay.Engine) error {
			return e.SetOpacity(*req.Opacity)
		})(c)
	})

	v1.Put("/overlay/layer", func(c *fiber.Ctx) error {
		var req layerRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		family, err := weather.ParseFamily(req.Layer)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return control(d.Loop, func(e *overlay.Engine) error {
			e.SelectFamily(family)
			return nil
		})(c)
	})

	v1.Put("/overlay/frame", func(c *fiber.Ctx) error {
		var req frameRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		return control(d.Loop, func(e *overlay.Engine) error {
			return e.Jump(*req.Index)
		})(c)
	})

	v1.Get("/frames", func(c *fiber.Ctx) error {
		m, err := d.Frames.GetLatest()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather frames fetched yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather frames")
		}
		return c.JSON(m)
	})

	v1.Get("/frames/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		frames, err := d.Frames.GetRange(req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no radar frames for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch frame history")
		}

		return c.JSON(fiber.Map{
			"from":   req.From,
			"to":     req.To,
			"frames": frames,
		})
	})

	v1.Get("/tiles/:layer/:z/:x/:y", func(c *fiber.Ctx) error {
		var coords [3]int
		for i, key := range []string{"z", "x", "y"} {
			n, err := strconv.Atoi(c.Params(key))
			if err != nil || n < 0 {
				return fiber.NewError(fiber.StatusBadRequest, "tile coordinates must be non-negative integers")
			}
			coords[i] = n
		}

		b, err := d.Tiles.Tile(c.UserContext(), c.Params("layer"), coords[0], coords[1], coords[2])
		if err != nil {
			switch {
			case errors.Is(err, surface.ErrUnknownLayer):
				return fiber.NewError(fiber.StatusNotFound, err.Error())
			case errors.Is(err, surface.ErrZoomRange):
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusBadGateway, "failed to load weather tile")
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(b)
	})

	v1.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"summaries": d.Metrics.Summaries(),
			"metrics":   d.Metrics.Snapshot(),
		})
	})
}

// control runs fn on the overlay loop and responds with the resulting state.
func control(loop *overlay.Loop, fn func(*overlay.Engine) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := overlay.Query(c.UserContext(), loop, func(e *overlay.Engine) controlResult {
			return controlResult{err: fn(e), state: e.Snapshot()}
		})
		if err != nil {
			return unavailable(err)
		}
		if opErr := res.err; opErr != nil {
			if errors.Is(opErr, overlay.ErrFrameOutOfRange) || errors.Is(opErr, overlay.ErrOpacityRange) {
				return fiber.NewError(fiber.StatusBadRequest, opErr.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, opErr.Error())
		}
		return c.JSON(res.state)
	}
}

type controlResult struct {
	err   error
	state overlay.State
}

func unavailable(err error) error {
	if errors.Is(err, overlay.ErrLoopClosed) {
		return fiber.NewError(fiber.StatusServiceUnavailable, "overlay is shutting down")
	}
	return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
}

// bind parses and validates a JSON request body.
func bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

type opacityRequest struct {
	Opacity *float64 `json:"opacity" validate:"required,gte=0,lte=1"`
}

type layerRequest struct {
	Layer string `json:"layer" validate:"required,oneof=none radar satellite"`
}

type frameRequest struct {
	Index *int `json:"index" validate:"required,gte=0"`
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
