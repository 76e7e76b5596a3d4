package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/progress"
	"github.com/manumartinm/ps3-worker/internal/services"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultKeepAlive = 15 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// TaskReader is the read side of the task store.
type TaskReader interface {
	Get(ctx context.Context, id string) (*taskstore.Task, error)
	List(ctx context.Context, opts taskstore.ListOptions) ([]taskstore.Task, error)
}

// EventSource is the read side of the progress broadcaster.
type EventSource interface {
	Subscribe(taskID string) ([]progress.Event, <-chan progress.Event, func())
	History(taskID string) []progress.Event
}

// Options configures a Server.
type Options struct {
	Bind       string
	JWTSecret  string
	CORSOrigin string
	Tasks      TaskReader
	Events     EventSource
	Health     HealthFunc
	Logger     *slog.Logger
	// KeepAlive is the idle interval between stream keepalives.
	KeepAlive time.Duration
}

// Server is the progress HTTP API.
type Server struct {
	opts   Options
	logger *slog.Logger
	engine *gin.Engine

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// New builds the router. It does not listen until Start.
func New(opts Options) (*Server, error) {
	if opts.Tasks == nil || opts.Events == nil {
		return nil, errors.New("api server requires a task reader and an event source")
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "api-server"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware(opts.CORSOrigin))
	engine.GET("/healthz", s.handleHealth)

	tasks := engine.Group("/tasks")
	tasks.Use(authMiddleware(opts.JWTSecret))
	{
		tasks.GET("", s.handleList)
		tasks.GET("/:id", s.handleTask)
		tasks.GET("/:id/history", s.handleHistory)
		tasks.GET("/:id/events", s.handleEvents)
		tasks.GET("/:id/ws", s.handleWebsocket)
	}
	s.engine = engine
	return s, nil
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.opts.Bind)
	if bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err), logging.Alert("api"))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.opts.JWTSecret != ""),
	)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down. Open streams are closed.
func (s *Server) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if s.opts.Health != nil {
		resp.Checks = s.opts.Health(c.Request.Context())
		for _, check := range resp.Checks {
			if !check.OK {
				resp.Status = "degraded"
				c.JSON(http.StatusServiceUnavailable, resp)
				return
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c *gin.Context) {
	var statuses []taskstore.Status
	for _, value := range c.QueryArray("status") {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := taskstore.ParseStatus(part)
			if !ok {
				s.writeError(c, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	limit := defaultListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	items, err := s.opts.Tasks.List(c.Request.Context(), taskstore.ListOptions{Statuses: statuses, Limit: limit})
	if err != nil {
		s.internalError(c, "list tasks", err)
		return
	}
	if items == nil {
		items = []taskstore.Task{}
	}
	c.JSON(http.StatusOK, TaskListResponse{Items: items})
}

func (s *Server) handleTask(c *gin.Context) {
	task, err := s.opts.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(c, http.StatusNotFound, "task not found")
			return
		}
		s.internalError(c, "get task", err)
		return
	}
	c.JSON(http.StatusOK, TaskResponse{Task: *task})
}

func (s *Server) handleHistory(c *gin.Context) {
	id := c.Param("id")
	events := s.opts.Events.History(id)
	if events == nil {
		events = []progress.Event{}
	}
	c.JSON(http.StatusOK, HistoryResponse{TaskID: id, Events: events})
}

// knownTask reports whether id has retained events or a task document. Stream
// handlers check it before subscribing so unknown ids never reach the
// broadcaster; it writes the error response itself when it returns false.
func (s *Server) knownTask(c *gin.Context, id string) bool {
	if len(s.opts.Events.History(id)) > 0 {
		return true
	}
	if _, err := s.opts.Tasks.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.writeError(c, http.StatusNotFound, "task not found")
			return false
		}
		s.internalError(c, "get task", err)
		return false
	}
	return true
}

func (s *Server) writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	logging.ErrorWithContext(s.logger, "api request failed", "api_error",
		logging.String("operation", op),
		logging.String("path", c.Request.URL.Path),
		logging.Error(err),
	)
	s.writeError(c, http.StatusInternalServerError, services.Details(err))
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
}
