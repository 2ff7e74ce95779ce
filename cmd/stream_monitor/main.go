package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tkoster/acqstream/cancellation"
	"github.com/tkoster/acqstream/config"
	"github.com/tkoster/acqstream/drivers/sim"
	"github.com/tkoster/acqstream/internal/logging"
	"github.com/tkoster/acqstream/internal/reload"
	"github.com/tkoster/acqstream/stream"
	"github.com/tkoster/acqstream/telemetry"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file (.yaml or .cue)")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	watch := flag.Duration("watch", 0, "Poll the configuration file at this interval and restart streams on change (0 disables)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configCheck {
		fmt.Println("configuration ok")
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *watch > 0 {
		err = supervise(ctx, *cfgPath, *watch, cfg, logger)
	} else {
		err = run(ctx, cfg, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("stream monitor failed")
	}
}

// supervise runs the monitor and restarts it with a freshly loaded
// configuration whenever the config file changes. Invalid edits are logged
// and ignored; the running streams keep their current configuration.
func supervise(ctx context.Context, path string, interval time.Duration, cfg *config.Config, logger zerolog.Logger) error {
	watcher, err := reload.NewWatcher(path)
	if err != nil {
		return err
	}
	for {
		runCtx, stopRun := context.WithCancel(ctx)
		next := make(chan *config.Config, 1)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					changed := watcher.Check()
					if len(changed) == 0 {
						continue
					}
					watcher.Refresh()
					reloaded, err := config.Load(path)
					if err != nil {
						logger.Warn().Err(err).Msg("ignoring invalid configuration change")
						continue
					}
					logger.Info().Strs("files", changed).Msg("configuration changed, restarting streams")
					next <- reloaded
					stopRun()
					return
				}
			}
		}()

		runErr := run(runCtx, cfg, logger)
		stopRun()
		wg.Wait()

		select {
		case cfg = <-next:
			continue
		default:
			return runErr
		}
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	collector, metricsDone, err := setupTelemetry(cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer metricsDone()

	rawSettings, err := cfg.Driver.SettingsJSON()
	if err != nil {
		return err
	}
	settings, err := sim.ParseSettings(rawSettings)
	if err != nil {
		return err
	}
	client := sim.NewClient(settings, logger)
	defer client.Close()

	// One cancellation source shared by all streams; SIGINT/SIGTERM cancels
	// every blocking pop.
	source := cancellation.NewSource()
	go func() {
		<-ctx.Done()
		source.Cancel()
	}()

	var wg sync.WaitGroup
	errs := make(chan error, len(cfg.Streams))
	for _, entry := range cfg.Streams {
		opts := []stream.Option{
			stream.WithToken(source.Token()),
			stream.WithLogger(logger),
			stream.WithCollector(collector),
		}
		if entry.MaxLen != nil {
			opts = append(opts, stream.WithMaxLen(*entry.MaxLen))
		}
		if entry.Selector != "" {
			opts = append(opts, stream.WithSelector(entry.Selector))
		}
		if entry.Filter != "" {
			opts = append(opts, stream.WithFilter(entry.Filter))
		}
		streamLogger := logger.With().Str("stream", entry.Label()).Logger()

		wg.Add(1)
		if entry.Group() {
			group, err := stream.SubscribeGroup(client, entry.Names, opts...)
			if err != nil {
				wg.Done()
				return err
			}
			go func(entry config.StreamConfig) {
				defer wg.Done()
				defer group.Close()
				errs <- consumeGroup(group, entry.PopTimeout.Duration, streamLogger)
			}(entry)
		} else {
			single, err := stream.Subscribe(client, entry.Name, opts...)
			if err != nil {
				wg.Done()
				return err
			}
			go func(entry config.StreamConfig) {
				defer wg.Done()
				defer single.Close()
				errs <- consumeSingle(single, entry.PopTimeout.Duration, streamLogger)
			}(entry)
		}
	}

	wg.Wait()
	close(errs)
	var joined []error
	for err := range errs {
		if err != nil {
			joined = append(joined, err)
		}
	}
	return errors.Join(joined...)
}

func consumeSingle(s *stream.ParamStream, timeout time.Duration, logger zerolog.Logger) error {
	return stream.Monitor(s, func() error {
		for {
			item, err := s.PopOrWait(timeout)
			if stop, loopErr := handlePopError(s.Token(), err, logger); stop {
				return loopErr
			} else if err != nil {
				continue
			}
			logger.Info().
				Interface("value", item.Value).
				Time("acq_stamp", item.Header.AcquisitionStamp()).
				Str("selector", item.Header.Selector()).
				Msg("acquisition")
		}
	})
}

func consumeGroup(g *stream.ParamGroupStream, timeout time.Duration, logger zerolog.Logger) error {
	names := g.ParameterNames()
	return stream.Monitor(g, func() error {
		for {
			cycle, err := g.PopOrWait(timeout)
			if stop, loopErr := handlePopError(g.Token(), err, logger); stop {
				return loopErr
			} else if err != nil {
				continue
			}
			event := logger.Info()
			for i, item := range cycle {
				event = event.Interface(names[i], item.Value)
			}
			event.Msg("cycle")
		}
	})
}

// handlePopError decides whether the consumer loop should stop. Acquisition
// errors and timeouts are logged and retried; cancellation acknowledges the
// token and terminates the loop cleanly.
func handlePopError(token *cancellation.Token, err error, logger zerolog.Logger) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, cancellation.ErrCancelled):
		token.CompleteCancellation()
		return true, nil
	case errors.Is(err, stream.ErrTimeout):
		logger.Warn().Msg("no acquisition within timeout")
		return false, nil
	default:
		var acqErr *stream.AcquisitionError
		if errors.As(err, &acqErr) {
			logger.Warn().Err(acqErr).Msg("acquisition failed, stream stays usable")
			return false, nil
		}
		return true, err
	}
}

func setupTelemetry(cfg config.TelemetryConfig, logger zerolog.Logger) (telemetry.Collector, func(), error) {
	if !cfg.Enabled {
		return telemetry.Noop(), func() {}, nil
	}
	registry := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(registry)
	if err != nil {
		return nil, nil, fmt.Errorf("set up telemetry: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return collector, func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown failed")
		}
	}, nil
}
