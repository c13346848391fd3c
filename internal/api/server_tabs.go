package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/service"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

func registerHealthHandlers(api huma.API, svc Service, broker *relay.Broker) {
	type healthOutput struct {
		Body struct {
			Status        string `json:"status"`
			Tabs          int    `json:"tabs"`
			EventClients  int    `json:"event_clients"`
			DroppedEvents int64  `json:"dropped_events"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Service health", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Tabs = len(svc.Tabs())
			if broker != nil {
				out.Body.EventClients = broker.ClientCount()
				out.Body.DroppedEvents = broker.Dropped()
			}
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service, targets TargetLister) {
	type listTabsOutput struct {
		Body struct {
			Tabs []service.TabSummary `json:"tabs"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List tabs holding captured state", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			out := &listTabsOutput{}
			out.Body.Tabs = svc.Tabs()
			return out, nil
		})

	type listTargetsOutput struct {
		Body struct {
			Targets []types.TabInfo `json:"targets"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-targets", Method: http.MethodGet, Path: "/api/v1/targets", Summary: "List browser tabs attached over CDP", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTargetsOutput, error) {
			out := &listTargetsOutput{}
			out.Body.Targets = []types.TabInfo{}
			if targets != nil {
				out.Body.Targets = targets.Tabs()
			}
			return out, nil
		})

	type streamsOutput struct {
		Body capture.Snapshot
	}

	huma.Register(api, huma.Operation{OperationID: "get-streams", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/streams", Summary: "Streams, licenses and keys captured in a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*streamsOutput, error) {
			tab, err := parseTab(input.TabID)
			if err != nil {
				return nil, err
			}
			return &streamsOutput{Body: svc.Streams(tab)}, nil
		})

	type monitoringOutput struct {
		Body struct {
			Success    bool                  `json:"success"`
			Monitoring types.MonitoringState `json:"monitoring"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "enable-monitoring", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/monitoring", Summary: "Enable monitoring for a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*monitoringOutput, error) {
			tab, err := parseTab(input.TabID)
			if err != nil {
				return nil, err
			}
			svc.EnableMonitoring(tab)
			out := &monitoringOutput{}
			out.Body.Success = true
			out.Body.Monitoring, _ = svc.Monitoring(tab)
			return out, nil
		})
}
