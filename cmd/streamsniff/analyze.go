package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/manifest"
	"github.com/dgnsrekt/streamsniff/internal/types"
	"github.com/spf13/cobra"
)

var analyzeFlags struct {
	headers []string
	timeout time.Duration
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <manifest-url>",
	Short: "Fetch one HLS or DASH manifest and print its summary",
	Long: `Fetch a manifest the way the capture engine does, replaying the given
headers, and print the resulting media info as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringArrayVarP(&analyzeFlags.headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	analyzeCmd.Flags().DurationVar(&analyzeFlags.timeout, "timeout", 0, "fetch timeout (default MANIFEST_TIMEOUT_MS)")
}

func parseHeaderFlags(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	url := args[0]
	kind, ok := manifest.TypeOf(url)
	if !ok {
		return fmt.Errorf("%s does not look like an HLS or DASH manifest url", url)
	}

	hdrs, err := parseHeaderFlags(analyzeFlags.headers)
	if err != nil {
		return err
	}

	timeout := analyzeFlags.timeout
	if timeout <= 0 {
		timeout = cfg.ManifestTimeout()
	}

	info := manifest.NewAnalyzer(&http.Client{}, timeout).Analyze(context.Background(), url, hdrs)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Type      types.StreamType `json:"type"`
		URL       string           `json:"url"`
		MediaInfo types.MediaInfo  `json:"mediaInfo"`
	}{kind, url, info})
}
