// Package gateway exposes the job coordinator's submit/status/
// awaitResults surface (spec.md §6) as an HTTP+JSON API, grounded on
// the teacher's fiber-based inbound HTTP adapter.
package gateway

import (
	"context"
	"errors"

	"github.com/batheaded/map-reduce/internal/coordinator"
	"github.com/batheaded/map-reduce/pkg/logging"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Server fronts one Coordinator with an HTTP listener.
type Server struct {
	app   *fiber.App
	addr  string
	coord Coordinatorish
}

//go:generate mockgen -destination=mocks/coordinatorish_mock.go -package=mocks -source=server.go Coordinatorish

// Coordinatorish is the slice of *coordinator.Coordinator this package
// actually calls, kept as an interface so handler tests can fake it
// without standing up a real ring.
type Coordinatorish interface {
	Submit(ctx context.Context, input []coordinator.KV, mapFn, reduceFn string, opts coordinator.SubmitOptions) (int64, error)
	Status(jobID int64) (coordinator.Status, error)
	AwaitResults(ctx context.Context, jobID int64) (map[string][]byte, error)
}

// NewServer builds a gateway listening on addr and dispatching every
// submit/status/awaitResults call to coord.
func NewServer(addr string, coord Coordinatorish) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{app: app, addr: addr, coord: coord}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Post("/jobs", s.handleSubmit)
	s.app.Get("/jobs/:id/status", s.handleStatus)
	s.app.Get("/jobs/:id/results", s.handleAwaitResults)
}

// Start blocks serving HTTP on s.addr.
func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

// Stop gracefully shuts the HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

type submitRequest struct {
	Input     []kvJSON `json:"input"`
	MapFn     string   `json:"map_fn"`
	ReduceFn  string   `json:"reduce_fn"`
	NumReduce int      `json:"num_reduce"`
	MemoryCap int64    `json:"memory_cap,omitempty"`
}

type kvJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type submitResponse struct {
	JobID int64 `json:"job_id"`
}

func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.MapFn == "" || req.ReduceFn == "" {
		return s.sendJSONError(c, fiber.StatusBadRequest, "map_fn and reduce_fn are required")
	}

	input := make([]coordinator.KV, len(req.Input))
	for i, kv := range req.Input {
		input[i] = coordinator.KV{Key: []byte(kv.Key), Value: []byte(kv.Value)}
	}

	opts := coordinator.SubmitOptions{NumReduce: req.NumReduce, MemoryCap: req.MemoryCap}
	jobID, err := s.coord.Submit(c.Context(), input, req.MapFn, req.ReduceFn, opts)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrRingEmpty):
			return s.sendJSONError(c, fiber.StatusServiceUnavailable, err.Error())
		case errors.Is(err, coordinator.ErrCapacityExceeded):
			return s.sendJSONError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		}
		logging.Errorw("gateway: submit failed", "error", err)
		return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(submitResponse{JobID: jobID})
}

type statusResponse struct {
	Phase       string `json:"phase"`
	TasksTotal  int    `json:"tasks_total"`
	TasksDone   int    `json:"tasks_done"`
	TasksFailed int    `json:"tasks_failed"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	jobID, err := c.ParamsInt("id")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "invalid job id")
	}

	st, err := s.coord.Status(int64(jobID))
	if err != nil {
		return s.sendJSONError(c, fiber.StatusNotFound, err.Error())
	}

	resp := statusResponse{
		Phase:       st.Phase.String(),
		TasksTotal:  st.TasksTotal,
		TasksDone:   st.TasksDone,
		TasksFailed: st.TasksFailed,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return c.JSON(resp)
}

func (s *Server) handleAwaitResults(c *fiber.Ctx) error {
	jobID, err := c.ParamsInt("id")
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "invalid job id")
	}

	result, err := s.coord.AwaitResults(c.Context(), int64(jobID))
	if err != nil {
		logging.Warnw("gateway: job failed", "job", jobID, "error", err)
		return s.sendJSONError(c, fiber.StatusConflict, err.Error())
	}

	out := make(map[string]string, len(result))
	for k, v := range result {
		out[k] = string(v)
	}
	return c.JSON(out)
}
