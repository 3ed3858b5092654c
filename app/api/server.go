package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medvoice/app/config"
	"medvoice/app/service/session"
	"medvoice/app/service/store"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg        *config.Config
	sessionSvc *session.Service
	storeSvc   *store.Service
	app        *fiber.App
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
	Node  string `json:"node"`
	Ended bool   `json:"ended"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(di *do.Injector) (*Server, error) {
	s := &Server{
		cfg:        do.MustInvoke[*config.Config](di),
		sessionSvc: do.MustInvoke[*session.Service](di),
		storeSvc:   do.MustInvoke[*store.Service](di),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s.app.Get("/health", s.handleHealth)
	s.app.Post("/session/:id/chat", s.handleChat)
	s.app.Delete("/session/:id", s.handleEnd)
	s.app.Get("/session/:id/record", s.handleRecord)

	return s, nil
}

// Run serves HTTP until the context is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", s.cfg.HTTP.Addr)

		if err := s.app.Listen(s.cfg.HTTP.Addr); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			slog.Warn("HTTP shutdown error", "error", err)
		}

		return ctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	callID := c.Params("id")
	if callID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "missing session id"})
	}

	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "message is required"})
	}

	sess, err := s.sessionSvc.GetOrCreate(c.Context(), callID)
	if err != nil {
		slog.Error("Failed to create session", "call_id", callID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to create session"})
	}

	output, err := sess.ProcessTurn(c.Context(), req.Message)
	if err != nil {
		slog.Error("Turn processing failed", "call_id", callID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "failed to process message"})
	}

	if output.Ended {
		s.sessionSvc.End(c.Context(), callID)
	}

	return c.JSON(chatResponse{
		Reply: output.Reply,
		Node:  output.Node,
		Ended: output.Ended,
	})
}

func (s *Server) handleRecord(c *fiber.Ctx) error {
	callID := c.Params("id")
	if callID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "missing session id"})
	}

	record, err := s.storeSvc.LoadCallRecord(c.Context(), callID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "record not found"})
	}

	return c.JSON(record)
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	callID := c.Params("id")
	if callID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "missing session id"})
	}

	s.sessionSvc.End(c.Context(), callID)

	return c.SendStatus(fiber.StatusNoContent)
}
