package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leesper/holmes"
	"github.com/spf13/pflag"
)

var (
	configPath      = pflag.String("config", "", "optional YAML configuration file; environment variables take precedence")
	shutdownTimeout = pflag.Duration("shutdown-timeout", 10*time.Second, "health server shutdown timeout")
)

func main() {
	pflag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, cfgErr := LoadConfig(*configPath, os.LookupEnv)
	defer startLogging(cfgErr == nil && cfg.Debug).Stop()
	if cfgErr != nil {
		holmes.Errorf("%v", cfgErr)
		return 1
	}
	dialer, err := NewDialer(cfg)
	if err != nil {
		holmes.Errorf("%v", &ConfigError{Field: "COT_URL", Err: err})
		return 1
	}

	feed, stops := selectFeed(cfg)
	sender := NewSender(dialer)
	poll := newPoller(feed, sender, cfg)
	poll.stops = stops

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HealthAddr != "" {
		srv := &http.Server{
			Addr:              cfg.HealthAddr,
			Handler:           newRouter(poll),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			holmes.Infof("health server listening on %s", cfg.HealthAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				holmes.Errorf("health server error: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				holmes.Errorf("health server shutdown error: %v", err)
			}
		}()
	}

	holmes.Infof("feeding %s vehicles to %s every %s, line filter %q",
		cfg.FeedFormat, dialer, cfg.Interval(), LineFilter(cfg.LineFilter).String())
	poll.run(ctx)

	holmes.Infof("shutdown initiated...")
	if err := sender.Close(); err != nil {
		holmes.Errorf("transport close: %v", err)
	}
	return 0
}

func startLogging(debug bool) interface{ Stop() } {
	if debug {
		return holmes.Start(holmes.DebugLevel)
	}
	return holmes.Start(holmes.InfoLevel)
}

func selectFeed(cfg *Config) (VehicleFeedSource, StopLookup) {
	if cfg.FeedFormat == "gtfsrt" {
		return NewGtfsRtVehicleFeedSource(cfg.GTFSRTURL, fetchTimeout), nil
	}
	return NewJourneysVehicleFeedSource(cfg.APIURL, LineFilter(cfg.LineFilter), fetchTimeout),
		NewStopDirectory(cfg.APIURL, fetchTimeout)
}
