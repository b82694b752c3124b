package rest

import (
	"context"
	"errors"
	"hirewire/app/client/oracle"
	"hirewire/app/config"
	"hirewire/app/service/conversation"
	"hirewire/app/service/workflow"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg           *config.Config
	conversations *conversation.Service
	validate      *validator.Validate
	app           *fiber.App
}

type messageRequest struct {
	Message string `json:"message" validate:"required,max=8000"`
}

type createResponse struct {
	ConversationID string `json:"conversation_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func New(di *do.Injector) (*Server, error) {
	return NewServer(
		do.MustInvoke[*config.Config](di),
		do.MustInvoke[*conversation.Service](di),
	), nil
}

func NewServer(cfg *config.Config, conversations *conversation.Service) *Server {
	s := &Server{
		cfg:           cfg,
		conversations: conversations,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "hirewire",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Post("/conversations", s.createConversation)
	s.app.Post("/conversations/:id/messages", s.postMessage)
	s.app.Get("/conversations/:id", s.getConversation)

	return s
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.HTTP.Listen)
		errCh <- s.app.Listen(s.cfg.HTTP.Listen)
	}()

	select {
	case err := <-errCh:
		return oops.In("rest").Wrapf(err, "http server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return oops.In("rest").Wrapf(err, "http server shutdown failed")
	}

	return nil
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	conv, err := s.conversations.Create(c.UserContext())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(createResponse{ConversationID: conv.ID})
}

func (s *Server) postMessage(c *fiber.Ctx) error {
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	reply, err := s.conversations.RunTurn(c.UserContext(), c.Params("id"), req.Message)
	if err != nil {
		return err
	}

	return c.JSON(reply)
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	conv, err := s.conversations.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	return c.JSON(conv)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, code := classify(err)

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status, code = fiberErr.Code, "bad_request"
		if fiberErr.Code == fiber.StatusNotFound || fiberErr.Code == fiber.StatusMethodNotAllowed {
			code = "not_found"
		}
	}

	if status >= fiber.StatusInternalServerError {
		slog.ErrorContext(c.UserContext(), "Request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"error", err)
	}

	return c.Status(status).JSON(errorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrInvalidID):
		return fiber.StatusBadRequest, "invalid_id"
	case errors.Is(err, conversation.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, conversation.ErrConflict):
		return fiber.StatusConflict, "conflict"
	case errors.Is(err, oracle.ErrUnavailable):
		return fiber.StatusServiceUnavailable, "oracle_unavailable"
	case errors.Is(err, oracle.ErrSchemaViolation):
		return fiber.StatusBadGateway, "schema_violation"
	case errors.Is(err, conversation.ErrInvariantViolation):
		return fiber.StatusBadGateway, "invariant_violation"
	case errors.Is(err, workflow.ErrRoutingViolation):
		return fiber.StatusInternalServerError, "routing_violation"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}
