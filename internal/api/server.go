package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/service"
	"github.com/dgnsrekt/streamsniff/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxMessageBytes = 1 << 20

type Service interface {
	Tabs() []service.TabSummary
	Streams(tab types.TabID) capture.Snapshot
	StreamPackage(tab types.TabID, index *int, pageURL string) (types.StreamPackage, error)
	PagePackage(ctx context.Context, tab types.TabID, pageURL string) (types.PagePackage, error)
	CachePage(ctx context.Context, tab types.TabID, pageURL string) (types.PagePackage, error)
	Cached(tab types.TabID) (types.PagePackage, error)
	EnableMonitoring(tab types.TabID)
	Monitoring(tab types.TabID) (types.MonitoringState, bool)
	Dispatch(ctx context.Context, sender types.TabID, msg relay.Message) any
}

// TargetLister reports the browser tabs attached over CDP.
type TargetLister interface {
	Tabs() []types.TabInfo
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Tab id (CDP target id or extension tab number)"`
}

func NewServer(svc Service, broker *relay.Broker, targets TargetLister) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("streamsniff capture API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	docs := renderDocs(cfg.Info.Title)
	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(docs); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Post(messagesPath, messagesHandler(svc))
	router.Get(eventsPath, relay.SSEHandler(broker))
	router.Get(wsPath, relay.WSHandler(svc))

	registerHealthHandlers(api, svc, broker)
	registerTabHandlers(api, svc, targets)
	registerPackageHandlers(api, svc)

	return router
}

// messagesHandler dispatches one raw message-channel request over plain HTTP.
// ?tab= names the sender tab.
func messagesHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		var msg relay.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			writeJSON(w, http.StatusBadRequest, relay.ErrorReply{Error: "malformed message"})
			return
		}
		reply := svc.Dispatch(r.Context(), types.TabID(r.URL.Query().Get("tab")), msg)
		data, err := relay.Encode(msg.ID, reply)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, relay.ErrorReply{Error: err.Error()})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(data); err != nil {
			slog.Debug("message reply write failed", "error", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("json response write failed", "error", err)
	}
}

func parseTab(raw string) (types.TabID, error) {
	tab := types.TabID(raw)
	if !tab.Valid() {
		return "", huma.Error400BadRequest(fmt.Sprintf("invalid tab id %q", raw))
	}
	return tab, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *service.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case service.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case service.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case service.CodeCookieUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
