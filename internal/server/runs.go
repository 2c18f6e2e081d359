package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
	"github.com/Y-Kanekoo/ai-shorts-factory/internal/queue"
)

// RunStore is the store surface the run handlers need.
type RunStore interface {
	CreateRun(ctx context.Context, topic string, keywords []string) (string, error)
	GetRun(ctx context.Context, id string) (pipeline.Run, bool, error)
	ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error)
	ListStageRecords(ctx context.Context, runID string) ([]pipeline.Record, error)
	RequestCancel(ctx context.Context, id string) error
}

// RunPublisher enqueues run requests for the worker.
type RunPublisher interface {
	PublishRun(ctx context.Context, req queue.RunRequest) (string, error)
}

// RunsHandler serves the run lifecycle endpoints.
type RunsHandler struct {
	store     RunStore
	publisher RunPublisher
	stages    map[string]bool
}

// NewRunsHandler constructs a RunsHandler. stageNames is the set of valid
// rerun targets, normally Registry.Order().
func NewRunsHandler(store RunStore, publisher RunPublisher, stageNames []string) *RunsHandler {
	stages := make(map[string]bool, len(stageNames))
	for _, name := range stageNames {
		stages[name] = true
	}
	return &RunsHandler{store: store, publisher: publisher, stages: stages}
}

// Register mounts the run routes on g.
func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/rerun", h.rerun)
	g.POST("/:id/cancel", h.cancel)
}

type createRunRequest struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords,omitempty"`
}

type createRunResponse struct {
	RunID    string    `json:"run_id"`
	Status   string    `json:"status"`
	Enqueued time.Time `json:"enqueued_at"`
}

type runDetailResponse struct {
	Run     pipeline.Run      `json:"run"`
	Records []pipeline.Record `json:"records"`
}

type rerunRequest struct {
	Stage string `json:"stage"`
}

func (h *RunsHandler) create(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}
	ctx := c.Request().Context()
	runID, err := h.store.CreateRun(ctx, req.Topic, req.Keywords)
	if err != nil {
		return err
	}
	if _, err := h.publisher.PublishRun(ctx, queue.RunRequest{RunID: runID}); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, createRunResponse{
		RunID:    runID,
		Status:   pipeline.RunPending,
		Enqueued: time.Now().UTC(),
	})
}

func (h *RunsHandler) list(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	runs, err := h.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *RunsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	run, ok, err := h.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	records, err := h.store.ListStageRecords(ctx, id)
	if err != nil {
		return err
	}
	if records == nil {
		records = []pipeline.Record{}
	}
	return c.JSON(http.StatusOK, runDetailResponse{Run: run, Records: records})
}

func (h *RunsHandler) rerun(c echo.Context) error {
	var req rerunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Stage == "" || !h.stages[req.Stage] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown stage")
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	run, ok, err := h.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if run.Status == pipeline.RunRunning {
		return echo.NewHTTPError(http.StatusConflict, "run is currently executing")
	}
	if _, err := h.publisher.PublishRun(ctx, queue.RunRequest{RunID: id, RerunFrom: req.Stage}); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": id, "rerun_from": req.Stage})
}

func (h *RunsHandler) cancel(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := h.store.RequestCancel(ctx, id); err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": id, "status": "cancel_requested"})
}
