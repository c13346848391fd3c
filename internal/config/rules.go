package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dgnsrekt/streamsniff/internal/decode"
	"gopkg.in/yaml.v3"
)

// DecoderRules overrides the decoder module's export names and script engine.
type DecoderRules struct {
	Engine  string         `yaml:"engine,omitempty"`
	Exports decode.Exports `yaml:"exports,omitempty"`
}

// Rules is the optional YAML capture rules file.
type Rules struct {
	LicenseKeywords []string     `yaml:"license_keywords,omitempty"`
	ExtraHeaders    []string     `yaml:"extra_headers,omitempty"`
	Decoder         DecoderRules `yaml:"decoder,omitempty"`
}

// LoadRules reads and validates a rules YAML file. An empty path yields empty
// rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules config: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rules config: %w", err)
	}
	for i, kw := range rules.LicenseKeywords {
		if strings.TrimSpace(kw) == "" {
			return nil, fmt.Errorf("rules config: license_keywords[%d] is empty", i)
		}
	}
	for i, h := range rules.ExtraHeaders {
		if strings.ContainsAny(h, " :\t") || h == "" {
			return nil, fmt.Errorf("rules config: extra_headers[%d] (%q) is not a header name", i, h)
		}
	}
	switch strings.ToLower(rules.Decoder.Engine) {
	case "", "goja", "otto":
	default:
		return nil, fmt.Errorf("rules config: unknown decoder engine %q", rules.Decoder.Engine)
	}
	return &rules, nil
}

// DecoderOptions merges the environment settings with rule overrides. A rules
// engine wins over DECODER_SCRIPT_ENGINE.
func (c *Config) DecoderOptions(r *Rules) decode.Options {
	opts := decode.Options{
		WASMPath:     c.DecoderWASMPath,
		ScriptPath:   c.DecoderScriptPath,
		ScriptEngine: c.DecoderScriptEngine,
		InitTimeout:  c.DecoderInitTimeout(),
	}
	if r != nil {
		opts.Exports = r.Decoder.Exports
		if r.Decoder.Engine != "" {
			opts.ScriptEngine = strings.ToLower(r.Decoder.Engine)
		}
	}
	return opts
}
