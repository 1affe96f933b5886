package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/session"
)

const draftMaxSize = 16 << 10

type draftRequest struct {
	Text     *string `json:"text"`
	IsPublic *bool   `json:"isPublic"`
}

type shareResponse struct {
	URL string `json:"url"`
}

// streamView mounts a controller for the view and streams its state as
// server-sent events until the client goes away.
func (s *Server) streamView(c echo.Context) error {
	sess := session.FromContext(c)
	id := c.Param("view")
	if _, err := uuid.Parse(id); err != nil {
		return c.String(http.StatusBadRequest, "invalid view id")
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	surf := newSurface(s.clipboardTimeout)
	ctrl := board.New(s.store, board.Options{
		BaseURL:   s.baseURL,
		Clipboard: surf,
		Notifier:  surf,
		Logger:    s.log,
	})
	v := &view{id: id, owner: sess.Email, ctrl: ctrl, surface: surf, stop: cancel}
	prev, ok := s.views.mount(v)
	if !ok {
		_ = ctrl.Close()
		return c.String(http.StatusForbidden, "view belongs to another session")
	}
	logger := s.log.WithFields(log.Fields{"view": id, "owner": sess.Email})
	defer func() {
		s.views.unmount(v)
		surf.close()
		if err := ctrl.Close(); err != nil {
			logger.WithError(err).Warn("close view")
		}
		logger.Debug("view closed")
	}()
	if prev != nil {
		prev.stop()
		draft := prev.ctrl.State()
		ctrl.UpdateDraftText(draft.DraftText)
		ctrl.UpdateDraftVisibility(draft.DraftIsPublic)
	}

	if err := ctrl.Initialize(ctx, sess.Email); err != nil {
		logger.WithError(err).Error("initialize view")
		return c.String(http.StatusBadGateway, "could not load tasks")
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
		return nil
	}
	flusher.Flush()
	logger.Debug("view opened")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	changes := ctrl.Changes()
	for {
		select {
		case state, ok := <-changes:
			if !ok {
				return nil
			}
			if err := writeEvent(c.Response(), "state", state); err != nil {
				return nil
			}
		case ev := <-surf.events:
			if err := writeEvent(c.Response(), ev.name, ev.payload); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
		flusher.Flush()
	}
}

func writeEvent(w io.Writer, name string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// viewFor returns the caller's mounted view or writes the error response.
func (s *Server) viewFor(c echo.Context, metrics *requestMetrics) (*view, bool) {
	sess := session.FromContext(c)
	v, ok := s.views.lookup(c.Param("view"))
	if !ok {
		metrics.SetErrorStage("view")
		owner, gone := s.views.disconnectedOwner(c.Param("view"))
		switch {
		case !gone:
			_ = c.String(http.StatusNotFound, "view not found")
		case sess == nil || sess.Email != owner:
			_ = c.String(http.StatusForbidden, "view belongs to another session")
		default:
			_ = c.String(http.StatusConflict, "view is not connected")
		}
		return nil, false
	}
	if sess == nil || sess.Email != v.owner {
		metrics.SetErrorStage("view")
		_ = c.String(http.StatusForbidden, "view belongs to another session")
		return nil, false
	}
	return v, true
}

func (s *Server) startMetrics(c echo.Context, action string) (*requestMetrics, context.Context) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), s.log, c.Path(), action)
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics, ctx
}

func decodeDraft(c echo.Context) (draftRequest, error) {
	var req draftRequest
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, draftMaxSize))
	if err != nil {
		return draftRequest{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, nil
	}
	if err := sonic.ConfigStd.Unmarshal(body, &req); err != nil {
		return draftRequest{}, err
	}
	return req, nil
}

func applyDraft(ctrl *board.Controller, req draftRequest) {
	if req.Text != nil {
		ctrl.UpdateDraftText(*req.Text)
	}
	if req.IsPublic != nil {
		ctrl.UpdateDraftVisibility(*req.IsPublic)
	}
}

func (s *Server) updateDraft(c echo.Context) (err error) {
	metrics, _ := s.startMetrics(c, "draft")
	defer func() { metrics.Log(c.Response().Status, nil) }()

	v, ok := s.viewFor(c, metrics)
	if !ok {
		return nil
	}
	req, decodeErr := decodeDraft(c)
	if decodeErr != nil {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	applyDraft(v.ctrl, req)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) submitTask(c echo.Context) (err error) {
	var failure error
	metrics, ctx := s.startMetrics(c, "submit")
	defer func() { metrics.Log(c.Response().Status, failure) }()

	v, ok := s.viewFor(c, metrics)
	if !ok {
		return nil
	}
	req, decodeErr := decodeDraft(c)
	if decodeErr != nil {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	applyDraft(v.ctrl, req)

	start := time.Now()
	failure = v.ctrl.SubmitTask(ctx)
	metrics.ObserveStore(time.Since(start))
	switch {
	case failure == nil:
		return c.NoContent(http.StatusCreated)
	case errors.Is(failure, board.ErrEmptyDraft):
		failure = nil
		return c.NoContent(http.StatusNoContent)
	case errors.Is(failure, board.ErrClosed), errors.Is(failure, board.ErrNotInitialized):
		metrics.SetErrorStage("view")
		return c.String(http.StatusConflict, "view is not connected")
	default:
		metrics.SetErrorStage("storage")
		return c.String(http.StatusBadGateway, "could not save the task")
	}
}

func (s *Server) deleteTask(c echo.Context) (err error) {
	var failure error
	metrics, ctx := s.startMetrics(c, "delete")
	defer func() { metrics.Log(c.Response().Status, failure) }()

	v, ok := s.viewFor(c, metrics)
	if !ok {
		return nil
	}
	id := c.Param("id")
	metrics.SetTask(id)

	start := time.Now()
	failure = v.ctrl.DeleteTask(ctx, id)
	metrics.ObserveStore(time.Since(start))
	switch {
	case failure == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(failure, board.ErrClosed), errors.Is(failure, board.ErrNotInitialized):
		metrics.SetErrorStage("view")
		return c.String(http.StatusConflict, "view is not connected")
	default:
		metrics.SetErrorStage("storage")
		return c.String(http.StatusBadGateway, "could not delete the task")
	}
}

func (s *Server) shareTask(c echo.Context) (err error) {
	var failure error
	metrics, ctx := s.startMetrics(c, "share")
	defer func() { metrics.Log(c.Response().Status, failure) }()

	v, ok := s.viewFor(c, metrics)
	if !ok {
		return nil
	}
	id := c.Param("id")
	metrics.SetTask(id)

	link, failure := v.ctrl.ShareTask(ctx, id)
	if failure != nil {
		metrics.SetErrorStage("clipboard")
		return c.String(http.StatusBadGateway, "could not copy the link")
	}
	return c.JSON(http.StatusOK, shareResponse{URL: link})
}

// clipboardAck receives the page's outcome for a clipboard write pushed over
// the view's stream.
func (s *Server) clipboardAck(c echo.Context) error {
	metrics, _ := s.startMetrics(c, "clipboard")
	defer func() { metrics.Log(c.Response().Status, nil) }()

	v, ok := s.viewFor(c, metrics)
	if !ok {
		return nil
	}
	var req clipboardAck
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, draftMaxSize))
	if err == nil {
		err = sonic.ConfigStd.Unmarshal(body, &req)
	}
	if err != nil {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if !v.surface.ack(c.Param("ack"), req.OK) {
		metrics.SetErrorStage("clipboard")
		return c.String(http.StatusNotFound, "no clipboard write pending")
	}
	return c.NoContent(http.StatusNoContent)
}
