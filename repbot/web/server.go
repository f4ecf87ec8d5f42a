// Package web serves the public leaderboard API and the public content pages.
package web

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/disgoorg/repbot/internal/domain/content"
	"github.com/disgoorg/repbot/internal/domain/leaderboard"
	"github.com/disgoorg/repbot/internal/domain/scores"
)

// maxLimit caps entries returned by the leaderboard endpoint.
const maxLimit = 100

type Leaderboard interface {
	Snapshot(ctx context.Context, tf scores.Timeframe, n int) ([]leaderboard.Entry, error)
}

type Scores interface {
	Score(ctx context.Context, username string) (int64, bool, error)
}

type Pages interface {
	Get(ctx context.Context, path string) (content.Page, bool, error)
	ListPublic(ctx context.Context, prefix string) ([]string, error)
}

// Check reports whether a dependency is healthy.
type Check func(ctx context.Context) error

type Deps struct {
	Leaderboard Leaderboard
	Scores      Scores
	Pages       Pages
	Checks      map[string]Check
	RateLimit   int
	Window      time.Duration
	Version     string
}

type Server struct {
	app  *fiber.App
	deps Deps
}

func New(deps Deps) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "RepBot API",
		ServerHeader:          "RepBot",
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(LoggingMiddleware())
	if deps.RateLimit > 0 && deps.Window > 0 {
		app.Use(RateLimit(deps.RateLimit, deps.Window))
	}

	s := &Server{app: app, deps: deps}
	app.Get("/health", s.health)
	api := app.Group("/api")
	api.Get("/leaderboard/:timeframe", s.leaderboard)
	api.Get("/users/:username", s.user)
	api.Get("/pages", s.pageIndex)
	app.Get("/pages/*", s.page)
	return s
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(s.deps.Checks))
	healthy := true
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	body := fiber.Map{"status": status, "version": s.deps.Version}
	if !healthy {
		return SendJSON(c, fiber.StatusServiceUnavailable, APIResponse{
			Data:      body,
			Error:     &APIError{Code: "UNHEALTHY", Message: "a dependency is unavailable"},
			Timestamp: time.Now().UTC(),
		})
	}
	return SendSuccess(c, body, "healthy")
}

func (s *Server) leaderboard(c *fiber.Ctx) error {
	tf, err := scores.ParseTimeframe(c.Params("timeframe"))
	if err != nil {
		return SendBadRequest(c, err.Error(), nil)
	}
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			return SendBadRequest(c, "limit must be between 1 and 100", map[string]string{"limit": raw})
		}
	}

	entries, err := s.deps.Leaderboard.Snapshot(c.UserContext(), tf, limit)
	if err != nil {
		return SendInternalServerError(c, "failed to read leaderboard")
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	return SendSuccess(c, fiber.Map{"timeframe": tf, "title": tf.Title(), "entries": entries}, "")
}

func (s *Server) user(c *fiber.Ctx) error {
	username := c.Params("username")
	score, ok, err := s.deps.Scores.Score(c.UserContext(), username)
	if err != nil {
		return SendInternalServerError(c, "failed to read score")
	}
	if !ok {
		return SendNotFound(c, "no score for "+username)
	}
	return SendSuccess(c, fiber.Map{"username": username, "score": score}, "")
}

func (s *Server) pageIndex(c *fiber.Ctx) error {
	paths, err := s.deps.Pages.ListPublic(c.UserContext(), content.Join(c.Query("prefix")))
	if err != nil {
		return SendInternalServerError(c, "failed to list pages")
	}
	if paths == nil {
		paths = []string{}
	}
	return SendSuccess(c, fiber.Map{"pages": paths}, "")
}

// page serves public pages only; moderator pages look missing.
func (s *Server) page(c *fiber.Ctx) error {
	path := content.Join(strings.Split(c.Params("*"), "/")...)
	if path == "" {
		return SendNotFound(c, "page not found")
	}
	page, ok, err := s.deps.Pages.Get(c.UserContext(), path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fiber.ErrGatewayTimeout
		}
		return SendInternalServerError(c, "failed to read page")
	}
	if !ok || page.Permission != content.PermissionPublic {
		return SendNotFound(c, "page not found")
	}
	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	return c.SendString(page.Content)
}
