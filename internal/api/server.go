package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/traffic_agent/internal/filter"
	"github.com/dgnsrekt/traffic_agent/internal/snapshot"
	"github.com/dgnsrekt/traffic_agent/internal/stream"
	"github.com/dgnsrekt/traffic_agent/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the recording control surface; satisfied by
// *recorder.Pipeline.
type Service interface {
	StartSession(sessionID string, cfg *filter.Config)
	StopSession()
	ActiveSession() string
	Filters() filter.Config
	SetFilters(cfg filter.Config)
	InFlight() []*types.InFlightRequest
	ActiveWebSockets() int
}

// Deps carries the server's collaborators. Broker and Snapshots are
// optional; their routes are omitted when nil.
type Deps struct {
	Service   Service
	Broker    *stream.Broker
	Snapshots *snapshot.Store
	Commander snapshot.Commander
}

func NewServer(deps Deps) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Traffic Recorder API", "1.0.0")
	api := humachi.New(router, cfg)

	registerRecordingHandlers(api, deps.Service)
	if deps.Broker != nil {
		router.Get("/api/v1/recording/stream", stream.SSEHandler(deps.Broker))
	}
	if deps.Snapshots != nil {
		registerSnapshotHandlers(api, router, deps)
	}
	return router
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func registerRecordingHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type sessionStatusOutput struct {
		Body struct {
			SessionID string        `json:"session_id"`
			Active    bool          `json:"active"`
			Filters   filter.Config `json:"filters"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/recording/session", Summary: "Get active recording session", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*sessionStatusOutput, error) {
			out := &sessionStatusOutput{}
			out.Body.SessionID = svc.ActiveSession()
			out.Body.Active = out.Body.SessionID != ""
			out.Body.Filters = svc.Filters()
			return out, nil
		})

	type startSessionInput struct {
		Body struct {
			SessionID string         `json:"session_id" minLength:"1" doc:"Logical session id; records are grouped under it"`
			Filters   *filter.Config `json:"filters,omitempty" doc:"Optional data-retention toggles; omitted keeps the current configuration"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "start-session", Method: http.MethodPost, Path: "/api/v1/recording/session", Summary: "Start or replace the recording session", Tags: []string{"Recording"}},
		func(ctx context.Context, input *startSessionInput) (*sessionStatusOutput, error) {
			svc.StartSession(input.Body.SessionID, input.Body.Filters)
			out := &sessionStatusOutput{}
			out.Body.SessionID = input.Body.SessionID
			out.Body.Active = true
			out.Body.Filters = svc.Filters()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-session", Method: http.MethodDelete, Path: "/api/v1/recording/session", Summary: "Stop the recording session and drop in-flight state", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*struct{}, error) {
			svc.StopSession()
			return &struct{}{}, nil
		})

	type filtersOutput struct {
		Body filter.Config
	}
	huma.Register(api, huma.Operation{OperationID: "get-filters", Method: http.MethodGet, Path: "/api/v1/recording/filters", Summary: "Get data-retention filters", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*filtersOutput, error) {
			return &filtersOutput{Body: svc.Filters()}, nil
		})

	type setFiltersInput struct {
		Body filter.Config
	}
	huma.Register(api, huma.Operation{OperationID: "set-filters", Method: http.MethodPut, Path: "/api/v1/recording/filters", Summary: "Replace data-retention filters", Description: "Takes effect for records finalized after the change; stored records are not refiltered.", Tags: []string{"Recording"}},
		func(ctx context.Context, input *setFiltersInput) (*filtersOutput, error) {
			svc.SetFilters(input.Body)
			return &filtersOutput{Body: svc.Filters()}, nil
		})

	type inFlightOutput struct {
		Body struct {
			Count            int                      `json:"count"`
			ActiveWebSockets int                      `json:"active_websockets"`
			Requests         []*types.InFlightRequest `json:"requests"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-in-flight", Method: http.MethodGet, Path: "/api/v1/recording/requests", Summary: "List tracked network exchanges", Tags: []string{"Recording"}},
		func(ctx context.Context, input *struct{}) (*inFlightOutput, error) {
			requests := svc.InFlight()
			out := &inFlightOutput{}
			out.Body.Count = len(requests)
			out.Body.ActiveWebSockets = svc.ActiveWebSockets()
			out.Body.Requests = requests
			return out, nil
		})
}

func registerSnapshotHandlers(api huma.API, router *chi.Mux, deps Deps) {
	type snapshotOutput struct {
		Body snapshot.Meta
	}
	type takeSnapshotInput struct {
		Body struct {
			Format string `json:"format,omitempty" enum:"png,jpeg" doc:"Image format, defaults to png"`
			Notes  string `json:"notes,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "take-snapshot", Method: http.MethodPost, Path: "/api/v1/recording/snapshots", Summary: "Screenshot the recorded page", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *takeSnapshotInput) (*snapshotOutput, error) {
			meta, err := deps.Snapshots.Capture(ctx, deps.Commander, deps.Service.ActiveSession(), input.Body.Format, input.Body.Notes)
			if err != nil {
				return nil, huma.Error502BadGateway("snapshot capture failed", err)
			}
			return &snapshotOutput{Body: meta}, nil
		})

	type snapshotListOutput struct {
		Body struct {
			Count     int             `json:"count"`
			Snapshots []snapshot.Meta `json:"snapshots"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-snapshots", Method: http.MethodGet, Path: "/api/v1/recording/snapshots", Summary: "List stored snapshots", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *struct{}) (*snapshotListOutput, error) {
			metas, err := deps.Snapshots.List()
			if err != nil {
				return nil, huma.Error500InternalServerError("snapshot listing failed", err)
			}
			out := &snapshotListOutput{}
			out.Body.Count = len(metas)
			out.Body.Snapshots = metas
			return out, nil
		})

	type deleteSnapshotInput struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{OperationID: "delete-snapshot", Method: http.MethodDelete, Path: "/api/v1/recording/snapshots/{id}", Summary: "Delete a snapshot", Tags: []string{"Snapshots"}},
		func(ctx context.Context, input *deleteSnapshotInput) (*struct{}, error) {
			if err := deps.Snapshots.Delete(input.ID); err != nil {
				return nil, huma.Error404NotFound("snapshot not found", err)
			}
			return &struct{}{}, nil
		})

	router.Get("/api/v1/recording/snapshots/{id}/image", func(w http.ResponseWriter, r *http.Request) {
		data, format, err := deps.Snapshots.ReadImage(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/"+format)
		_, _ = w.Write(data)
	})
}
