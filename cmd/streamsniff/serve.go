package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/api"
	"github.com/dgnsrekt/streamsniff/internal/badge"
	"github.com/dgnsrekt/streamsniff/internal/capture"
	"github.com/dgnsrekt/streamsniff/internal/cdp"
	"github.com/dgnsrekt/streamsniff/internal/classify"
	"github.com/dgnsrekt/streamsniff/internal/config"
	"github.com/dgnsrekt/streamsniff/internal/decode"
	"github.com/dgnsrekt/streamsniff/internal/drmpkg"
	"github.com/dgnsrekt/streamsniff/internal/headers"
	"github.com/dgnsrekt/streamsniff/internal/manifest"
	"github.com/dgnsrekt/streamsniff/internal/netutil"
	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/service"
	"github.com/dgnsrekt/streamsniff/internal/types"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	bindAddr  string
	noCDP     bool
	rulesFile string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture engine with its HTTP, SSE and WebSocket surfaces",
	Long: `Run the capture engine. Unless --no-cdp is given, every page target of the
browser at CHROMIUM_CDP_ADDRESS:CHROMIUM_CDP_PORT matching SNIFF_TAB_URL_FILTER
is attached and observed. Extension content scripts and other clients talk to
the engine over /api/v1/ws or /api/v1/messages.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.bindAddr, "bind", "", "listen address (default SNIFF_BIND_ADDR)")
	serveCmd.Flags().BoolVar(&serveFlags.noCDP, "no-cdp", false, "do not attach to a browser over CDP")
	serveCmd.Flags().StringVar(&serveFlags.rulesFile, "rules", "", "capture rules YAML file (default SNIFF_RULES_FILE)")
}

type tabLifecycle struct {
	TabID  types.TabID `json:"tabId"`
	Reason string      `json:"reason"`
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveFlags.bindAddr != "" {
		cfg.BindAddr = serveFlags.bindAddr
	}
	if serveFlags.rulesFile != "" {
		cfg.RulesFile = serveFlags.rulesFile
	}
	attachCDP := cfg.AttachCDP && !serveFlags.noCDP

	slog.Info("streamsniff config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"attach_cdp", attachCDP,
		"tab_url_filter", cfg.TabURLFilter,
		"manifest_timeout_ms", cfg.ManifestTimeoutMS,
		"rules_file", cfg.RulesFile,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := relay.NewBroker()
	store := capture.NewStore()
	board := badge.NewBoard(broker)
	board.Follow(store)
	store.OnReset(func(tab types.TabID, reason capture.ResetReason) {
		broker.PublishJSON(relay.FeedLifecycle, tab, tabLifecycle{TabID: tab, Reason: reason.String()})
	})

	sanitizer := headers.NewSanitizer(rules.ExtraHeaders...)
	analyzer := manifest.NewAnalyzer(&http.Client{}, cfg.ManifestTimeout())
	classifier := classify.New(ctx, store, analyzer, classify.Config{
		LicenseKeywords: rules.LicenseKeywords,
		Sanitizer:       sanitizer,
		Events:          broker,
	})

	decoder, err := decode.Open(cfg.DecoderOptions(rules))
	if err != nil {
		return fmt.Errorf("open decoder: %w", err)
	}
	defer closeDecoder(decoder)

	// browser is set before the listener starts and only read by handlers.
	var browser *cdp.Client
	cookies := drmpkg.ChainCookies{
		drmpkg.CookieFunc(func(ctx context.Context, tab types.TabID, pageURL string) (map[string]string, error) {
			if browser == nil {
				return nil, fmt.Errorf("%w: cdp not attached", drmpkg.ErrCookiesUnavailable)
			}
			return browser.Cookies(ctx, tab, pageURL)
		}),
		drmpkg.HeaderCookies{Store: store},
	}

	svc := service.New(service.Deps{
		Store:      store,
		Classifier: classifier,
		Builder:    drmpkg.NewBuilder(store, cookies, nil),
		Board:      board,
		Decoder:    decoder,
		Sanitizer:  sanitizer,
		Events:     broker,
	})

	var targets api.TargetLister
	if attachCDP {
		browser = cdp.NewClient(cfg.GetCDPURL(), cfg.TabURLFilter, svc, cdp.NewTabRegistry())
		if err := browser.Connect(ctx); err != nil {
			slog.Error("Failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
			slog.Info("Make sure Chromium is running with --remote-debugging-port, or pass --no-cdp")
			return err
		}
		defer func() {
			if err := browser.Close(); err != nil {
				slog.Warn("CDP close failed", "error", err)
			}
		}()
		slog.Info("CDP attached", "cdp_url", cfg.GetCDPURL(), "tabs", browser.GetTabCount())
		targets = browser
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return fmt.Errorf("select bind address: %w", err)
	}

	srv := &http.Server{
		Handler:           api.NewServer(svc, broker, targets),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ln.Addr().String()
		slog.Info("streamsniff listening", "addr", addr, "docs", "http://"+addr+"/docs", "ws", "ws://"+addr+"/api/v1/ws")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	// Nothing may observe requests once the classifier stops.
	if browser != nil {
		if err := browser.Close(); err != nil {
			slog.Warn("CDP close failed", "error", err)
		}
	}
	classifier.Stop()
	slog.Info("streamsniff stopped", "tabs", len(store.Tabs()))
	return nil
}

func closeDecoder(d decode.Decoder) {
	closer, ok := d.(interface{ Close(context.Context) error })
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := closer.Close(ctx); err != nil {
		slog.Warn("decoder close failed", "error", err)
	}
}
