// Package service is the capture engine's single entry point. Every front door
// (CDP, WebSocket, REST) goes through it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/streamsniff/internal/badge"
	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/classify"
	"github.com/dgnsrekt/streamsniff/internal/decode"
	"github.com/dgnsrekt/streamsniff/internal/drmpkg"
	"github.com/dgnsrekt/streamsniff/internal/headers"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/types"
)

// Deps are the engine parts a Service drives.
type Deps struct {
	Store      *capture.Store
	Classifier *classify.Classifier
	Builder    *drmpkg.Builder
	Board      *badge.Board
	Decoder    decode.Decoder
	Sanitizer  *headers.Sanitizer
	Events     classify.Publisher
}

// Service validates requests and delegates to the engine.
type Service struct {
	store      *capture.Store
	classifier *classify.Classifier
	builder    *drmpkg.Builder
	board      *badge.Board
	decoder    decode.Decoder
	sanitizer  *headers.Sanitizer
	events     classify.Publisher
}

func New(d Deps) *Service {
	s := &Service{
		store:      d.Store,
		classifier: d.Classifier,
		builder:    d.Builder,
		board:      d.Board,
		decoder:    d.Decoder,
		sanitizer:  d.Sanitizer,
		events:     d.Events,
	}
	if s.decoder == nil {
		s.decoder = decode.NullDecoder{}
	}
	if s.sanitizer == nil {
		s.sanitizer = headers.NewSanitizer()
	}
	return s
}

// TabSummary is a per-tab overview for listings.
type TabSummary struct {
	TabID    types.TabID `json:"tab_id"`
	Streams  int         `json:"streams"`
	Licenses int         `json:"licenses"`
	Keys     int         `json:"keys"`
	Badge    badge.Badge `json:"badge"`
}

// Tabs lists every tab that currently holds captured state.
func (s *Service) Tabs() []TabSummary {
	tabs := s.store.Tabs()
	out := make([]TabSummary, 0, len(tabs))
	for _, tab := range tabs {
		snap := s.store.Snapshot(tab)
		out = append(out, TabSummary{
			TabID:    tab,
			Streams:  len(snap.Streams),
			Licenses: len(snap.Licenses),
			Keys:     len(snap.Keys),
			Badge:    s.board.Get(tab),
		})
	}
	return out
}

// Streams returns copies of the tab's streams, licenses and keys. Unknown tabs
// yield empty collections.
func (s *Service) Streams(tab types.TabID) capture.Snapshot {
	return s.store.Snapshot(tab)
}

func (s *Service) StreamPackage(tab types.TabID, index *int, pageURL string) (types.StreamPackage, error) {
	if index == nil {
		return types.StreamPackage{}, newError(CodeNotFound, drmpkg.ErrStreamNotFound.Error(), drmpkg.ErrStreamNotFound)
	}
	pkg, err := s.builder.StreamPackage(tab, *index, pageURL)
	if errors.Is(err, drmpkg.ErrStreamNotFound) {
		return types.StreamPackage{}, newError(CodeNotFound, err.Error(), err)
	}
	return pkg, err
}

func (s *Service) PagePackage(ctx context.Context, tab types.TabID, pageURL string) (types.PagePackage, error) {
	pkg, err := s.builder.PagePackage(ctx, tab, pageURL)
	if err != nil {
		return types.PagePackage{}, s.packageError(tab, err)
	}
	return pkg, nil
}

func (s *Service) CachePage(ctx context.Context, tab types.TabID, pageURL string) (types.PagePackage, error) {
	pkg, err := s.builder.CachePage(ctx, tab, pageURL)
	if err != nil {
		return types.PagePackage{}, s.packageError(tab, err)
	}
	slog.Info("page package cached", "tab_id", tab, "streams", pkg.StreamsDetected)
	return pkg, nil
}

func (s *Service) packageError(tab types.TabID, err error) error {
	slog.Warn("page package build failed", "tab_id", tab, "error", err)
	if errors.Is(err, drmpkg.ErrCookiesUnavailable) {
		return newError(CodeCookieUnavailable, err.Error(), err)
	}
	return err
}

func (s *Service) Cached(tab types.TabID) (types.PagePackage, error) {
	pkg, err := s.builder.Cached(tab)
	if errors.Is(err, drmpkg.ErrNoCachedData) {
		return types.PagePackage{}, newError(CodeNotFound, err.Error(), err)
	}
	return pkg, err
}

func (s *Service) EnableMonitoring(tab types.TabID) {
	s.store.EnableMonitoring(tab)
}

func (s *Service) Monitoring(tab types.TabID) (types.MonitoringState, bool) {
	return s.store.Monitoring(tab)
}

// RecordKey stores a key reported by page instrumentation. Keys with no tab or
// no kid are dropped.
func (s *Service) RecordKey(tab types.TabID, key types.DetectedKey) bool {
	if !tab.Valid() || strings.TrimSpace(key.KID) == "" {
		slog.Debug("key report without tab or kid ignored", "tab_id", tab)
		return false
	}
	if !s.store.AddKey(tab, key) {
		return false
	}
	slog.Info("content key captured", "tab_id", tab, "kid", key.KID)
	if s.events != nil {
		s.events.PublishJSON(relay.FeedCapture, tab, struct {
			Kind string            `json:"kind"`
			Data types.DetectedKey `json:"data"`
		}{"key", key})
	}
	return true
}

// Decode runs value through the decoder. Empty input and decoder failures
// yield nil.
func (s *Service) Decode(ctx context.Context, value string) *string {
	if value == "" {
		return nil
	}
	out, err := s.decoder.Decode(ctx, value)
	if err != nil {
		slog.Warn("decode failed", "error", &CodedError{Code: CodeDecodeFailure, Message: "decoder rejected value", Cause: err})
		return nil
	}
	return &out
}

// ObserveRequest feeds one observed request to the classifier.
func (s *Service) ObserveRequest(req classify.Request) classify.Kind {
	return s.classifier.Observe(req)
}

// MergeRequestHeaders folds headers that arrived after a request was recorded
// into its stream or license entry.
func (s *Service) MergeRequestHeaders(tab types.TabID, url string, raw map[string]string) bool {
	return s.store.MergeHeaders(tab, url, s.sanitizer.Sanitize(raw))
}

// Navigate drops the tab's state when its main frame navigates.
func (s *Service) Navigate(tab types.TabID, mainFrame bool) bool {
	if !tab.Valid() {
		return false
	}
	return s.store.Navigate(tab, mainFrame)
}

// CloseTab drops everything held for the tab.
func (s *Service) CloseTab(tab types.TabID) {
	if !tab.Valid() {
		return
	}
	s.store.CloseTab(tab)
}

// Dispatch answers a message-channel request. sender is the tab the message came
// from when the transport knows it; an explicit tabId in the message wins,
// except for key reports, which always prefer the sender.
func (s *Service) Dispatch(ctx context.Context, sender types.TabID, msg relay.Message) any {
	tab := msg.TabID
	if tab == "" {
		tab = sender
	}

	switch msg.Kind() {
	case relay.ActionDecode:
		return relay.DecodeReply{Value: s.Decode(ctx, msg.Value)}

	case relay.ActionKeyFound:
		keyTab := sender
		if !keyTab.Valid() {
			keyTab = msg.TabID
		}
		if msg.Data != nil {
			s.RecordKey(keyTab, *msg.Data)
		}
		return relay.SuccessReply{Success: true}

	case relay.ActionGetStreams:
		return s.Streams(tab)

	case relay.ActionGetDRMPackage:
		pkg, err := s.StreamPackage(tab, msg.StreamIndex, msg.PageURL)
		if err != nil {
			return relay.PackageReply{Error: Message(err)}
		}
		return relay.PackageReply{Package: pkg}

	case relay.ActionGetPageDRMPackage:
		pkg, err := s.PagePackage(ctx, tab, msg.PageURL)
		if err != nil {
			return relay.PackageReply{Error: Message(err)}
		}
		return relay.PackageReply{Package: pkg}

	case relay.ActionCachePageInfo:
		pkg, err := s.CachePage(ctx, tab, msg.PageURL)
		if err != nil {
			return relay.CacheReply{Error: Message(err)}
		}
		return relay.CacheReply{Success: true, Cached: pkg}

	case relay.ActionEnableMonitoring:
		s.EnableMonitoring(tab)
		return relay.SuccessReply{Success: true}

	case relay.ActionGetCachedDRM:
		pkg, err := s.Cached(tab)
		if err != nil {
			return relay.PackageReply{Error: Message(err)}
		}
		return relay.PackageReply{Package: pkg}

	case relay.ActionObserveRequest:
		s.ObserveRequest(classify.Request{
			Tab:          tab,
			URL:          msg.URL,
			Method:       msg.Method,
			Headers:      msg.Headers,
			ResourceType: classify.NormalizeResourceType(msg.Type),
		})
		return relay.SuccessReply{Success: true}

	case relay.ActionNavigate:
		s.Navigate(tab, msg.MainFrame())
		return relay.SuccessReply{Success: true}

	case relay.ActionTabRemoved:
		s.CloseTab(tab)
		return relay.SuccessReply{Success: true}

	default:
		slog.Debug("unknown message", "kind", msg.Kind(), "tab_id", tab)
		return relay.ErrorReply{Error: "unknown action: " + msg.Kind()}
	}
}
