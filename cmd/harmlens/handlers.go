package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/harmlens/harmlens/escalation"
	"github.com/harmlens/harmlens/notify"
	"github.com/harmlens/harmlens/pipeline"
	"github.com/harmlens/harmlens/queue"

	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const defaultListLimit = 100

func badRequest(format string, args ...any) error {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 1000 {
		return 0, badRequest("limit must be an integer between 1 and 1000")
	}
	return n, nil
}

func parseID(c echo.Context) (uint, error) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || n == 0 {
		return 0, badRequest("invalid id: %q", c.Param("id"))
	}
	return uint(n), nil
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if _, err := srv.eng.Ledger.Len(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "harmlens", Message: "database unavailable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "harmlens"})
}

func (srv *Server) HandleAnalyze(c echo.Context) error {
	var sub pipeline.Submission
	if err := c.Bind(&sub); err != nil {
		return badRequest("invalid request body: %s", err)
	}
	res, err := srv.eng.Pipeline.Analyze(c.Request().Context(), sub)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type batchRequest struct {
	Items []pipeline.Submission `json:"items"`
}

type batchResponse struct {
	Items []pipeline.BatchItem `json:"items"`
}

func (srv *Server) HandleAnalyzeBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %s", err)
	}
	items, err := srv.eng.Pipeline.Batch(c.Request().Context(), req.Items)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batchResponse{Items: items})
}

type queueListResponse struct {
	Queue   string        `json:"queue"`
	Entries []queue.Entry `json:"entries"`
}

// HandleQueueList returns entries in review order. The queue name "all" lists every queue.
func (srv *Server) HandleQueueList(c echo.Context) error {
	name := c.Param("name")
	if name == "all" {
		name = ""
	}
	status, err := queue.ParseStatus(c.QueryParam("status"))
	if err != nil {
		return badRequest("%s", err)
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	entries, err := srv.eng.Queue.ListOrdered(c.Request().Context(), name, status, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	return c.JSON(http.StatusOK, queueListResponse{Queue: c.Param("name"), Entries: entries})
}

func (srv *Server) HandleQueueReview(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var rev queue.Review
	if err := c.Bind(&rev); err != nil {
		return badRequest("invalid request body: %s", err)
	}
	res, err := srv.eng.Pipeline.Review(c.Request().Context(), id, rev)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleEscalationCreate(c echo.Context) error {
	var req escalation.CreateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %s", err)
	}
	esc, err := srv.eng.Pipeline.CreateEscalation(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, esc)
}

type escalationListResponse struct {
	Escalations []escalation.Escalation `json:"escalations"`
}

func (srv *Server) HandleEscalationList(c echo.Context) error {
	var f escalation.Filter
	if raw := c.QueryParam("status"); raw != "" {
		st, err := escalation.ParseStatus(raw)
		if err != nil {
			return badRequest("%s", err)
		}
		f.Status = st
	}
	f.ContentID = c.QueryParam("content_id")
	f.EscalatedBy = c.QueryParam("escalated_by")
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	f.Limit = limit

	escs, err := srv.eng.Tracker.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if escs == nil {
		escs = []escalation.Escalation{}
	}
	return c.JSON(http.StatusOK, escalationListResponse{Escalations: escs})
}

func (srv *Server) HandleEscalationGet(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	esc, err := srv.eng.Tracker.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, esc)
}

func (srv *Server) HandleEscalationUpdate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req escalation.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body: %s", err)
	}
	esc, err := srv.eng.Pipeline.UpdateEscalation(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, esc)
}

func (srv *Server) HandleAuditGet(c echo.Context) error {
	blk, err := srv.eng.Ledger.Get(c.Request().Context(), c.Param("content_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, blk)
}

func (srv *Server) HandleAuditHistory(c echo.Context) error {
	blocks, err := srv.eng.Ledger.History(c.Request().Context(), c.Param("content_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"content_id": c.Param("content_id"),
		"blocks":     blocks,
	})
}

func (srv *Server) HandleAuditVerify(c echo.Context) error {
	res, err := srv.eng.Ledger.Verify(c.Request().Context(), c.Param("content_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleAuditVerifyChain(c echo.Context) error {
	res, err := srv.eng.Ledger.VerifyChain(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type statsResponse struct {
	*pipeline.Stats
	Notifications *notify.Stats `json:"notifications,omitempty"`
}

func (srv *Server) HandleStats(c echo.Context) error {
	st, err := srv.eng.Pipeline.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	out := statsResponse{Stats: st}
	if srv.notify != nil {
		ns := srv.notify.Stats()
		out.Notifications = &ns
	}
	return c.JSON(http.StatusOK, out)
}
