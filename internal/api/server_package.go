package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

func registerPackageHandlers(api huma.API, svc Service) {
	type streamPackageOutput struct {
		Body types.StreamPackage
	}

	huma.Register(api, huma.Operation{OperationID: "get-stream-package", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/package", Summary: "Single-stream DRM package", Tags: []string{"Packages"}},
		func(ctx context.Context, input *struct {
			TabID       string `path:"tab_id"`
			StreamIndex int    `query:"stream_index" default:"-1" doc:"Index into the tab's stream list (0-based)"`
			PageURL     string `query:"page_url" doc:"URL of the page the stream plays on"`
		}) (*streamPackageOutput, error) {
			tab, err := parseTab(input.TabID)
			if err != nil {
				return nil, err
			}
			var index *int
			if input.StreamIndex >= 0 {
				index = &input.StreamIndex
			}
			pkg, err := svc.StreamPackage(tab, index, input.PageURL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &streamPackageOutput{Body: pkg}, nil
		})

	type pagePackageOutput struct {
		Body types.PagePackage
	}

	type pageURLInput struct {
		TabID   string `path:"tab_id"`
		PageURL string `query:"page_url" doc:"URL of the page; cookies are read for it"`
	}

	huma.Register(api, huma.Operation{OperationID: "get-page-package", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/page-package", Summary: "Everything captured for a page, with cookies", Tags: []string{"Packages"}},
		func(ctx context.Context, input *pageURLInput) (*pagePackageOutput, error) {
			tab, err := parseTab(input.TabID)
			if err != nil {
				return nil, err
			}
			pkg, err := svc.PagePackage(ctx, tab, input.PageURL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &pagePackageOutput{Body: pkg}, nil
		})

	type cacheOutput struct {
		Body struct {
			Success bool              `json:"success"`
			Cached  types.PagePackage `json:"cached"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "cache-page-package", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/cache", Summary: "Build and cache a page package", Tags: []string{"Packages"}},
		func(ctx context.Context, input *struct {
			TabID string `path:"tab_id"`
			Body  struct {
				PageURL string `json:"page_url" required:"true" doc:"URL of the page to package"`
			}
		}) (*cacheOutput, error) {
			tab, err := parseTab(input.TabID)
			if err != nil {
				return nil, err
			}
			pkg, err := svc.CachePage(ctx, tab, input.Body.PageURL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &cacheOutput{}
			out.Body.Success = true
			out.Body.Cached = pkg
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-cached-package", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/cache", Summary: "Last cached page package", Tags: []string{"Packages"}},
		func(ctx context.Context, input *tabIDInput) (*pagePackageOutput, error) {
			tab, err := parseTab(input.TabID)
			if err != nil {
				return nil, err
			}
			pkg, err := svc.Cached(tab)
			if err != nil {
				return nil, mapErr(err)
			}
			return &pagePackageOutput{Body: pkg}, nil
		})
}
