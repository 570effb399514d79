package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIURL          = "https://data.itsfactory.fi/journeys/api/1"
	defaultIntervalSeconds = 3
	defaultStaleSeconds    = 30
)

// Config is the process configuration. It is loaded once at startup and
// not modified afterwards.
type Config struct {
	CotURL     string `yaml:"cot_url" validate:"required"`
	CertPath   string `yaml:"client_cert" validate:"omitempty,file"`
	KeyPath    string `yaml:"client_key" validate:"omitempty,file"`
	CAFile     string `yaml:"ca_file" validate:"omitempty,file"`
	VerifyTLS  bool   `yaml:"verify_tls"`
	HealthAddr string `yaml:"health_addr"`
	Debug      bool   `yaml:"debug"`

	LineFilter      []string `yaml:"line_filter" validate:"dive,required"`
	IntervalSeconds int      `yaml:"update_interval" validate:"gt=0"`
	StaleSeconds    int      `yaml:"cot_stale" validate:"gt=0"`

	FeedFormat string `yaml:"feed_format" validate:"oneof=journeys gtfsrt"`
	APIURL     string `yaml:"api_url" validate:"required,url"`
	GTFSRTURL  string `yaml:"gtfsrt_url" validate:"omitempty,url"`
}

// Interval is the poll period.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StaleAfter is the freshness window stamped on every CoT event.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		VerifyTLS:       true,
		IntervalSeconds: defaultIntervalSeconds,
		StaleSeconds:    defaultStaleSeconds,
		FeedFormat:      "journeys",
		APIURL:          defaultAPIURL,
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// at path and then the environment as seen through lookup. Every failure is
// a *ConfigError.
func LoadConfig(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("%s: %w", path, err)}
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if cfg.GTFSRTURL == "" {
		cfg.GTFSRTURL = strings.TrimSuffix(cfg.APIURL, "/") + "/gtfs-rt/vehicle-positions"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookupSet(lookup, "COT_URL"); ok {
		cfg.CotURL = v
	}
	if v, ok := lookupSet(lookup, "CLIENT_CERT"); ok {
		cfg.CertPath = v
	}
	if v, ok := lookupSet(lookup, "CLIENT_KEY"); ok {
		cfg.KeyPath = v
	}
	if v, ok := lookupSet(lookup, "PYTAK_TLS_CLIENT_CAFILE"); ok {
		cfg.CAFile = v
	}
	if v, ok := lookupSet(lookup, "PYTAK_TLS_DONT_VERIFY"); ok {
		cfg.VerifyTLS = v != "1"
	}
	if v, ok := lookupSet(lookup, "NYSSE_LINE_FILTER"); ok {
		cfg.LineFilter = splitList(v)
	}
	if v, ok := lookupSet(lookup, "UPDATE_INTERVAL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "UPDATE_INTERVAL", Err: err}
		}
		cfg.IntervalSeconds = n
	}
	if v, ok := lookupSet(lookup, "COT_STALE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "COT_STALE", Err: err}
		}
		cfg.StaleSeconds = n
	}
	if v, ok := lookupSet(lookup, "NYSSE_FEED_FORMAT"); ok {
		cfg.FeedFormat = strings.ToLower(v)
	}
	if v, ok := lookupSet(lookup, "NYSSE_API_URL"); ok {
		cfg.APIURL = v
	}
	if v, ok := lookupSet(lookup, "NYSSE_GTFSRT_URL"); ok {
		cfg.GTFSRTURL = v
	}
	if v, ok := lookupSet(lookup, "HEALTH_ADDR"); ok {
		cfg.HealthAddr = v
	}
	if v, ok := lookupSet(lookup, "DEBUG"); ok {
		cfg.Debug = v == "1"
	}
	return nil
}

// lookupSet treats empty values and the literal "none" as unset, the way
// container environments commonly blank out optional variables.
func lookupSet(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "none") {
		return "", false
	}
	return v, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{Field: fe.Field(), Err: fmt.Errorf("failed %q validation", fe.Tag())}
		}
		return &ConfigError{Err: err}
	}
	if (c.CertPath == "") != (c.KeyPath == "") {
		return &ConfigError{Field: "CLIENT_CERT", Err: errors.New("CLIENT_CERT and CLIENT_KEY must be set together")}
	}
	u, err := url.Parse(c.CotURL)
	if err != nil {
		return &ConfigError{Field: "COT_URL", Err: err}
	}
	if !supportedScheme(u.Scheme) {
		return &ConfigError{Field: "COT_URL", Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if u.Scheme != "log" && u.Port() == "" {
		return &ConfigError{Field: "COT_URL", Err: fmt.Errorf("%q has no host:port", c.CotURL)}
	}
	return nil
}
