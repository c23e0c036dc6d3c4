package server

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"trustroom/internal/notify"
)

const (
	liveWriteTimeout = 5 * time.Second
	msgLiveDisabled  = "即時更新未啟用"
)

// registerLive mounts the websocket feed of committed changes for one case.
// The first frame is a snapshot of the case as the caller may see it.
func registerLive(router chi.Router, basePath string, cfg Config) {
	router.Get(path.Join(basePath, "cases/{caseId}/live"), func(w http.ResponseWriter, r *http.Request) {
		e := cfg.Engine
		caseID := chi.URLParam(r, "caseId")
		view, err := e.GetCase(r.Context(), caseID, credentialsFrom(r.Context()))
		if err != nil {
			writeError(w, handleError(err))
			return
		}
		if e.Live == nil {
			writeError(w, newAPIError(http.StatusServiceUnavailable, "unavailable", msgLiveDisabled))
			return
		}

		sub := e.Live.Subscribe(caseID)
		defer e.Live.Unsubscribe(sub)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("live upgrade failed", "case_id", caseID, "error", err)
			return
		}
		defer conn.CloseNow()

		cfg.Metrics.LiveSubscribers.Add(r.Context(), 1)
		defer cfg.Metrics.LiveSubscribers.Add(context.WithoutCancel(r.Context()), -1)

		ctx := conn.CloseRead(r.Context())
		snapshot := notify.CaseChange{
			CaseID:      view.Case.ID,
			Version:     view.Case.Version,
			Status:      view.Case.Status,
			CurrentStep: view.Case.CurrentStep,
			Action:      "SNAPSHOT",
			At:          view.Case.UpdatedAt,
		}
		if err := writeChange(ctx, conn, snapshot); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "bye")
				return
			case change, ok := <-sub.Ch():
				if !ok {
					conn.Close(websocket.StatusGoingAway, "closed")
					return
				}
				if change.Version <= snapshot.Version {
					continue
				}
				if err := writeChange(ctx, conn, change); err != nil {
					cfg.Logger.Debug("live write failed", "case_id", caseID, "error", err)
					return
				}
			}
		}
	})
}

func writeChange(ctx context.Context, conn *websocket.Conn, change notify.CaseChange) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, change)
}
