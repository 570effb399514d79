package main

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func requireConfigError(t *testing.T, err error) *ConfigError {
	t.Helper()
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	return cerr
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", envLookup(map[string]string{"COT_URL": "udp://239.2.3.1:6969"}))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Interval() != 3*time.Second {
		t.Errorf("Interval = %s, want 3s", cfg.Interval())
	}
	if cfg.StaleAfter() != 30*time.Second {
		t.Errorf("StaleAfter = %s, want 30s", cfg.StaleAfter())
	}
	if len(cfg.LineFilter) != 0 {
		t.Errorf("LineFilter = %v, want none", cfg.LineFilter)
	}
	if !cfg.VerifyTLS {
		t.Error("TLS verification should be on by default")
	}
	if cfg.FeedFormat != "journeys" {
		t.Errorf("FeedFormat = %q", cfg.FeedFormat)
	}
	if cfg.GTFSRTURL != defaultAPIURL+"/gtfs-rt/vehicle-positions" {
		t.Errorf("GTFSRTURL = %q", cfg.GTFSRTURL)
	}
}

func TestLoadConfig_Environment(t *testing.T) {
	cfg, err := LoadConfig("", envLookup(map[string]string{
		"COT_URL":               "ssl://tak.example.org:8089",
		"PYTAK_TLS_DONT_VERIFY": "1",
		"NYSSE_LINE_FILTER":     "60, 64 ,,7",
		"UPDATE_INTERVAL":       "10",
		"COT_STALE":             "120",
		"NYSSE_FEED_FORMAT":     "GTFSRT",
		"NYSSE_API_URL":         "http://127.0.0.1:9999/api/",
		"DEBUG":                 "1",
		"CLIENT_CERT":           "none",
		"CLIENT_KEY":            "",
	}))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.VerifyTLS {
		t.Error("PYTAK_TLS_DONT_VERIFY=1 should disable verification")
	}
	if want := []string{"60", "64", "7"}; !reflect.DeepEqual(cfg.LineFilter, want) {
		t.Errorf("LineFilter = %v, want %v", cfg.LineFilter, want)
	}
	if cfg.Interval() != 10*time.Second || cfg.StaleAfter() != 2*time.Minute {
		t.Errorf("Interval = %s, StaleAfter = %s", cfg.Interval(), cfg.StaleAfter())
	}
	if cfg.FeedFormat != "gtfsrt" || !cfg.Debug {
		t.Errorf("FeedFormat = %q, Debug = %v", cfg.FeedFormat, cfg.Debug)
	}
	if cfg.GTFSRTURL != "http://127.0.0.1:9999/api/gtfs-rt/vehicle-positions" {
		t.Errorf("GTFSRTURL = %q", cfg.GTFSRTURL)
	}
	if cfg.CertPath != "" || cfg.KeyPath != "" {
		t.Errorf("none/empty credentials should be unset, got %q %q", cfg.CertPath, cfg.KeyPath)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "client.pem")
	if err := os.WriteFile(certPath, []byte("cert"), 0o600); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{"missing sink", map[string]string{}, "CotURL"},
		{"sink none", map[string]string{"COT_URL": "none"}, "CotURL"},
		{"unsupported scheme", map[string]string{"COT_URL": "http://tak:8080"}, "COT_URL"},
		{"missing port", map[string]string{"COT_URL": "tls://tak.example.org"}, "COT_URL"},
		{"interval not a number", map[string]string{"COT_URL": "udp://239.2.3.1:6969", "UPDATE_INTERVAL": "fast"}, "UPDATE_INTERVAL"},
		{"interval zero", map[string]string{"COT_URL": "udp://239.2.3.1:6969", "UPDATE_INTERVAL": "0"}, "IntervalSeconds"},
		{"stale negative", map[string]string{"COT_URL": "udp://239.2.3.1:6969", "COT_STALE": "-5"}, "StaleSeconds"},
		{"unknown feed", map[string]string{"COT_URL": "udp://239.2.3.1:6969", "NYSSE_FEED_FORMAT": "siri"}, "FeedFormat"},
		{"cert missing on disk", map[string]string{"COT_URL": "tls://tak:8089", "CLIENT_CERT": filepath.Join(dir, "nope.pem"), "CLIENT_KEY": certPath}, "CertPath"},
		{"cert without key", map[string]string{"COT_URL": "tls://tak:8089", "CLIENT_CERT": certPath}, "CLIENT_CERT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig("", envLookup(tt.env))
			cerr := requireConfigError(t, err)
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q (%v)", cerr.Field, tt.field, err)
			}
		})
	}
}

func TestLoadConfig_FileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeder.yml")
	data := []byte(`cot_url: tcp://tak.local:8087
line_filter: ["60", "60U"]
update_interval: 5
health_addr: ":8080"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path, envLookup(map[string]string{"UPDATE_INTERVAL": "7"}))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CotURL != "tcp://tak.local:8087" || cfg.HealthAddr != ":8080" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if want := []string{"60", "60U"}; !reflect.DeepEqual(cfg.LineFilter, want) {
		t.Errorf("LineFilter = %v", cfg.LineFilter)
	}
	if cfg.IntervalSeconds != 7 {
		t.Errorf("environment should override file: interval %d", cfg.IntervalSeconds)
	}
	if !cfg.VerifyTLS || cfg.StaleSeconds != defaultStaleSeconds {
		t.Error("defaults not kept for keys absent from the file")
	}
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeder.yml")
	if err := os.WriteFile(path, []byte("invalid: yaml: content: [[["), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path, envLookup(nil))
	requireConfigError(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yml"), envLookup(nil))
	requireConfigError(t, err)
}
