package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"proflo-api/domain"
	"proflo-api/kanban"
	"proflo-api/storage"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, reg *Registry, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/projects/board", getProjectsBoard(reg, auth))
	e.GET("/api/projects/:id/tasks/board", getTasksBoard(reg, auth))
	e.GET("/api/tasks/board", getTenantTasksBoard(reg, auth))
	e.GET("/api/overview", getOverview(reg, auth))

	e.POST("/api/boards/:kind/drag/start", postDragStart(reg, auth))
	e.POST("/api/boards/:kind/drag/end", postDragEnd(reg, auth, deduper, logger))
	e.POST("/api/boards/:kind/drag/cancel", postDragCancel(reg, auth))
	e.DELETE("/api/boards/:kind/error", deleteBoardError(reg, auth))

	e.POST("/api/projects", createItem(reg, auth, domain.KindProject))
	e.PATCH("/api/projects/:id", editItem(reg, auth, domain.KindProject))
	e.DELETE("/api/projects/:id", deleteItem(reg, auth, domain.KindProject))
	e.POST("/api/projects/:id/tasks", createItem(reg, auth, domain.KindTask))
	e.PATCH("/api/projects/:id/tasks/:taskId", editItem(reg, auth, domain.KindTask))
	e.DELETE("/api/projects/:id/tasks/:taskId", deleteItem(reg, auth, domain.KindTask))

	e.GET("/api/projects/:id/notes", listNotes(reg, auth))
	e.POST("/api/projects/:id/notes", createNote(reg, auth))
	e.PATCH("/api/projects/:id/notes/:noteId", editNote(reg, auth))
	e.DELETE("/api/projects/:id/notes/:noteId", deleteNote(reg, auth))

	e.GET("/api/stream", streamChanges(reg, auth))
	e.GET("/healthz", healthz())

	initActivitySender(reg.store, reg.actCfg, logger)
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func tenantFrom(c echo.Context, auth Authenticator) (string, error) {
	tenant, err := auth.UserIDFromAuthHeader(authHeader(c.Request()))
	if err != nil {
		return "", c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	return tenant, nil
}

var strictJSON = sonic.Config{
	DisallowUnknownFields: true,
	CopyString:            true,
	ValidateString:        true,
}.Froze()

// decodeBody reads a size-limited JSON body. An empty body yields io.EOF.
func decodeBody(c echo.Context, v any) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return io.EOF
	}
	return strictJSON.Unmarshal(data, v)
}

func filterFromQuery(c echo.Context) domain.Filter {
	return domain.Filter{
		Search:  strings.TrimSpace(c.QueryParam("search")),
		Status:  c.QueryParam("status"),
		Client:  c.QueryParam("client"),
		Due:     c.QueryParam("due"),
		Project: c.QueryParam("project"),
	}
}

// boardError renders a board lookup failure. A board that exists but failed
// to load is still rendered with loadFailed so the client sees its error
// indicator.
func boardError(c echo.Context, board *kanban.Board, err error, loadFailed int) error {
	if errors.Is(err, errProjectNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	if board != nil {
		return c.JSON(loadFailed, board.View(filterFromQuery(c)))
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusBadGateway, errorResponse{Error: "failed to load board"})
}

func getProjectsBoard(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		board, err := reg.ProjectsBoard(c.Request().Context(), tenant)
		if err != nil {
			return boardError(c, board, err, http.StatusOK)
		}
		return c.JSON(http.StatusOK, board.View(filterFromQuery(c)))
	}
}

func getTasksBoard(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		board, err := reg.TasksBoard(c.Request().Context(), tenant, c.Param("id"))
		if err != nil {
			return boardError(c, board, err, http.StatusOK)
		}
		return c.JSON(http.StatusOK, board.View(filterFromQuery(c)))
	}
}

func getTenantTasksBoard(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		ctx := c.Request().Context()
		board, err := reg.TenantTasksBoard(ctx, tenant)
		if board == nil {
			return boardError(c, nil, err, http.StatusOK)
		}
		names := map[string]string{}
		if projects, _ := reg.ProjectsBoard(ctx, tenant); projects != nil {
			for _, p := range projects.Items() {
				names[p.ID] = p.Name
			}
		}
		return c.JSON(http.StatusOK, tenantTasksView{View: board.View(filterFromQuery(c)), Projects: names})
	}
}

func getOverview(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		ctx := c.Request().Context()
		projects, err := reg.ProjectsBoard(ctx, tenant)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusBadGateway, errorResponse{Error: "failed to load overview"})
		}
		tasks, err := reg.TenantTasksBoard(ctx, tenant)
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusBadGateway, errorResponse{Error: "failed to load overview"})
		}
		return c.JSON(http.StatusOK, domain.Summarize(projects.Items(), tasks.Items()))
	}
}

// dragBoard resolves the board addressed by a drag route. It writes the
// error response itself and returns a nil board on failure. A board whose
// load failed cannot be dragged; it is rendered with 503 so the client keeps
// its error indicator. An empty task scope addresses the tenant-wide board.
func dragBoard(c echo.Context, reg *Registry, tenant, scope string) (*kanban.Board, error) {
	kind, ok := domain.ParseKind(c.Param("kind"))
	if !ok {
		return nil, c.JSON(http.StatusNotFound, errorResponse{Error: "unknown board"})
	}
	board, err := reg.BoardFor(c.Request().Context(), tenant, kind, scope)
	if err != nil {
		return nil, boardError(c, board, err, http.StatusServiceUnavailable)
	}
	return board, nil
}

func postDragStart(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		var req dragStartRequest
		if err := decodeBody(c, &req); err != nil || req.ItemID == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		board, err := dragBoard(c, reg, tenant, req.Scope)
		if board == nil {
			return err
		}
		if err := board.DragStart(req.ItemID, req.Distance); err != nil {
			switch {
			case errors.Is(err, kanban.ErrUnknownItem):
				return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			case errors.Is(err, kanban.ErrDragInProgress):
				return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
			case errors.Is(err, kanban.ErrBelowActivation):
				return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
			}
			return err
		}
		return c.JSON(http.StatusOK, board.View(filterFromQuery(c)))
	}
}

func postDragEnd(reg *Registry, auth Authenticator, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newDropRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		var logErr error
		defer func() {
			metrics.Log(c.Response().Status, logErr)
		}()

		authStart := time.Now()
		tenant, authErr := auth.UserIDFromAuthHeader(authHeader(c.Request()))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
		}
		metrics.SetKind(c.Param("kind"))

		var req dragEndRequest
		if decErr := decodeBody(c, &req); decErr != nil && !errors.Is(decErr, io.EOF) {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		board, boardErr := dragBoard(c, reg, tenant, req.Scope)
		if board == nil {
			metrics.SetErrorStage("board")
			return boardErr
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		if key != "" && deduper != nil {
			dedupeStart := time.Now()
			added, dedupeErr := deduper.Add(ctx, tenant, key)
			metrics.ObserveDedupe(time.Since(dedupeStart))
			if dedupeErr != nil {
				metrics.SetErrorStage("dedupe")
				logErr = dedupeErr
				c.Logger().Errorf("dedupe add failed: %v", dedupeErr)
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
			}
			if !added {
				metrics.SetDuplicate(true)
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
		}

		moveStart := time.Now()
		// A client disconnect must not roll back a write already in flight;
		// the remote timeout still bounds it.
		res := board.DragEnd(context.WithoutCancel(ctx), req.OverID)
		metrics.ObserveMove(time.Since(moveStart))
		metrics.SetOutcome(res.Outcome.String())

		resp := dragEndResponse{Outcome: res.Outcome.String(), Item: res.Item}
		if res.Outcome != kanban.NoOp {
			resp.From, resp.To = res.Move.From, res.Move.To
		}
		status := http.StatusOK
		switch res.Outcome {
		case kanban.Committed:
			if res.Item != nil {
				reg.upsert(tenant, *res.Item, board)
				reg.changed(ctx, tenant, domain.ItemStatusChanged, *res.Item, domain.Activity{
					Action: domain.ActionMoved,
					From:   res.Move.From,
					To:     res.Move.To,
				})
			}
		case kanban.RolledBack:
			metrics.SetErrorStage("remote")
			logErr = res.Err
			status = http.StatusBadGateway
			resp.Error = board.Err()
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(context.WithoutCancel(ctx), tenant, key); rerr != nil {
					c.Logger().Errorf("dedupe rollback failed, err: %v, key: %s, tenant: %s", rerr, key, tenant)
				}
			}
		}
		resp.Board = board.View(filterFromQuery(c))

		encodeStart := time.Now()
		err = c.JSON(status, resp)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
			logErr = err
		}
		return err
	}
}

func postDragCancel(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		var req dragCancelRequest
		if err := decodeBody(c, &req); err != nil && !errors.Is(err, io.EOF) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		board, err := dragBoard(c, reg, tenant, req.Scope)
		if board == nil {
			return err
		}
		board.DragCancel()
		return c.JSON(http.StatusOK, board.View(filterFromQuery(c)))
	}
}

func deleteBoardError(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		board, err := dragBoard(c, reg, tenant, c.QueryParam("scope"))
		if board == nil {
			return err
		}
		board.ClearErr()
		return c.NoContent(http.StatusNoContent)
	}
}

// itemScope returns the partition of kind's items for the request, checking
// that a task's project belongs to tenant.
func itemScope(c echo.Context, reg *Registry, tenant string, kind domain.Kind) (string, error) {
	if kind == domain.KindProject {
		return tenant, nil
	}
	projectID := c.Param("id")
	if err := reg.ownsProject(c.Request().Context(), tenant, projectID); err != nil {
		return "", err
	}
	return projectID, nil
}

func itemID(c echo.Context, kind domain.Kind) string {
	if kind == domain.KindTask {
		return c.Param("taskId")
	}
	return c.Param("id")
}

func storageError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errProjectNotFound), errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, storage.ErrConflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: "already exists"})
	case errors.Is(err, storage.ErrConcurrencyConflict):
		return c.JSON(http.StatusPreconditionFailed, errorResponse{Error: "concurrent modification"})
	}
	c.Logger().Error(err)
	return c.JSON(http.StatusBadGateway, errorResponse{Error: "storage failure"})
}

func (r *Registry) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func createItem(reg *Registry, auth Authenticator, kind domain.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		scope, err := itemScope(c, reg, tenant, kind)
		if err != nil {
			return storageError(c, err)
		}
		var req createItemRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "name is required"})
		}
		if req.Status == "" {
			req.Status = kind.DefaultStatus()
		}
		if !kind.ValidStatus(req.Status) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid status"})
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		ctx, cancel := reg.remoteCtx(c.Request().Context())
		defer cancel()
		item, err := reg.store.InsertItem(ctx, domain.Item{
			ID:          req.ID,
			Kind:        kind,
			Scope:       scope,
			Status:      req.Status,
			Name:        req.Name,
			ClientName:  strings.TrimSpace(req.ClientName),
			Description: req.Description,
			DueDate:     req.DueDate,
		})
		if err != nil {
			return storageError(c, err)
		}
		reg.upsert(tenant, *item, nil)
		reg.changed(c.Request().Context(), tenant, domain.ItemCreated, *item, domain.Activity{
			Action: domain.ActionCreated,
			To:     item.Status,
		})
		return c.JSON(http.StatusCreated, item)
	}
}

func editItem(reg *Registry, auth Authenticator, kind domain.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		scope, err := itemScope(c, reg, tenant, kind)
		if err != nil {
			return storageError(c, err)
		}
		var patch domain.ItemPatch
		if err := decodeBody(c, &patch); err != nil || patch.Empty() {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		ctx, cancel := reg.remoteCtx(c.Request().Context())
		defer cancel()
		current, err := reg.store.GetItem(ctx, kind, scope, itemID(c, kind))
		if err != nil {
			return storageError(c, err)
		}
		next := current.Clone()
		patch.Apply(&next)
		next.Name = strings.TrimSpace(next.Name)
		if next.Name == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "name is required"})
		}
		if !kind.ValidStatus(next.Status) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid status"})
		}
		item, err := reg.store.UpdateItem(ctx, next)
		if err != nil {
			return storageError(c, err)
		}
		reg.upsert(tenant, *item, nil)
		act := domain.Activity{Action: domain.ActionEdited}
		if current.Status != item.Status {
			act.From, act.To = current.Status, item.Status
		}
		reg.changed(c.Request().Context(), tenant, domain.ItemUpdated, *item, act)
		return c.JSON(http.StatusOK, item)
	}
}

func deleteItem(reg *Registry, auth Authenticator, kind domain.Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		scope, err := itemScope(c, reg, tenant, kind)
		if err != nil {
			return storageError(c, err)
		}
		id := itemID(c, kind)

		ctx, cancel := reg.remoteCtx(c.Request().Context())
		defer cancel()
		if err := reg.store.DeleteItem(ctx, kind, scope, id); err != nil {
			return storageError(c, err)
		}
		reg.forget(tenant, kind, scope, id)
		reg.changed(c.Request().Context(), tenant, domain.ItemDeleted, domain.Item{ID: id, Kind: kind, Scope: scope}, domain.Activity{
			Action: domain.ActionDeleted,
		})
		return c.NoContent(http.StatusNoContent)
	}
}

// noteProject authenticates a notes request and checks the project belongs
// to the tenant. It writes the error response itself and returns an empty
// project id on failure.
func noteProject(c echo.Context, reg *Registry, auth Authenticator) (string, error) {
	tenant, err := tenantFrom(c, auth)
	if tenant == "" {
		return "", err
	}
	projectID := c.Param("id")
	if err := reg.ownsProject(c.Request().Context(), tenant, projectID); err != nil {
		return "", storageError(c, err)
	}
	return projectID, nil
}

func decodeNote(c echo.Context) (noteRequest, bool) {
	var req noteRequest
	if err := decodeBody(c, &req); err != nil {
		return req, false
	}
	req.Text = strings.TrimSpace(req.Text)
	return req, req.Text != ""
}

func listNotes(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID, err := noteProject(c, reg, auth)
		if projectID == "" {
			return err
		}
		ctx, cancel := reg.remoteCtx(c.Request().Context())
		defer cancel()
		notes, err := reg.store.ListNotes(ctx, projectID)
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(http.StatusOK, notes)
	}
}

func createNote(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID, err := noteProject(c, reg, auth)
		if projectID == "" {
			return err
		}
		req, ok := decodeNote(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "text is required"})
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		ctx, cancel := reg.remoteCtx(c.Request().Context())
		defer cancel()
		note, err := reg.store.InsertNote(ctx, domain.Note{ID: req.ID, ProjectID: projectID, Text: req.Text})
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(http.StatusCreated, note)
	}
}

func editNote(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID, err := noteProject(c, reg, auth)
		if projectID == "" {
			return err
		}
		req, ok := decodeNote(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "text is required"})
		}
		ctx, cancel := reg.remoteCtx(c.Request().Context())
		defer cancel()
		note, err := reg.store.UpdateNote(ctx, projectID, c.Param("noteId"), req.Text)
		if err != nil {
			return storageError(c, err)
		}
		return c.JSON(http.StatusOK, note)
	}
}

func deleteNote(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID, err := noteProject(c, reg, auth)
		if projectID == "" {
			return err
		}
		ctx, cancel := reg.remoteCtx(c.Request().Context())
		defer cancel()
		if err := reg.store.DeleteNote(ctx, projectID, c.Param("noteId")); err != nil {
			return storageError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func streamChanges(reg *Registry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant, err := tenantFrom(c, auth)
		if tenant == "" {
			return err
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		broker := reg.Broker()
		ch := broker.Subscribe(tenant)
		defer broker.Unsubscribe(tenant, ch)
		for {
			board, err := reg.ProjectsBoard(ctx, tenant)
			if board == nil {
				c.Logger().Error(err)
				return err
			}
			data, err := sonic.Marshal(board.View(domain.Filter{}))
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				continue
			}
		}
	}
}
