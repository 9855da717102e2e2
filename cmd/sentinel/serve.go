package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MrCodeEU/sentinel/pkg/camera"
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
	"github.com/MrCodeEU/sentinel/pkg/liveness"
	"github.com/MrCodeEU/sentinel/pkg/logging"
	"github.com/MrCodeEU/sentinel/pkg/pipeline"
	"github.com/MrCodeEU/sentinel/pkg/server"
	"github.com/MrCodeEU/sentinel/pkg/storage"
	"github.com/MrCodeEU/sentinel/pkg/vision"
)

func cmdServe(args []string) error {
	target := cfg.Camera.Device
	if len(args) > 0 {
		target = args[0]
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector := landmarks.NewSidecarClient(cfg.Detector.SidecarURL, millis(cfg.Detector.TimeoutMS))
	defer detector.Close()

	opts := camera.Options{
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
		MirrorLive: cfg.Camera.MirrorLive,
		Loop:       true,
	}
	runner := pipeline.NewRunner(runnerConfig(), detector, opener(opts), newSession)
	logging.WithField("source", target).Info("starting pipeline")
	if err := runner.Start(target); err != nil {
		return err
	}

	srv := server.New(server.Options{
		UploadDir:    cfg.Server.UploadDir,
		CameraTarget: cfg.Camera.Device,
	}, runner.Reports(), runner.Frames(), runner)
	runner.OnReport = srv.Publish

	store, err := openStore(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if store != nil {
		defer store.Close()
		rec := storage.NewRecorder(store, runner.Reports().Load, millis(cfg.Storage.IntervalMS), cfg.Storage.MinScore)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(ctx)
			logging.WithFields(logging.Fields{"saved": rec.Saved(), "failed": rec.Failed()}).Info("recorder stopped")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := runner.Run(ctx, target)
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.WithError(err).Error("pipeline stopped")
			return
		}
		logging.Info("pipeline stopped")
	}()

	fmt.Printf("Sentinel listening on %s (source %s)\n", cfg.Server.Listen, target)
	err = srv.Run(ctx, cfg.Server.Listen)
	stop()
	wg.Wait()
	return err
}

func runnerConfig() pipeline.Config {
	rc := pipeline.DefaultConfig()
	rc.DetectTimeout = millis(cfg.Detector.TimeoutMS)
	if cfg.Camera.RetryBackoffMS > 0 {
		rc.RetryInitial = millis(cfg.Camera.RetryBackoffMS)
	}
	return rc
}

func opener(opts camera.Options) pipeline.Opener {
	return func(target string) (camera.Source, error) {
		c, err := camera.Open(target, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newSession(clock liveness.Clock) *liveness.Session {
	return liveness.NewSession(
		liveness.WithClock(clock),
		liveness.WithYawEstimator(vision.NewPnPYawEstimator()),
	)
}

// openStore returns the configured report store, or nil when persistence
// is disabled.
func openStore(ctx context.Context) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "file":
		fs, err := storage.NewFileStore(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %w", err)
		}
		return fs, nil
	case "redis":
		rs := storage.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisKey, cfg.Storage.RedisMaxEntries)
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rs.Ping(pctx); err != nil {
			// Saves are retried each tick; a late Redis is not fatal
			logging.WithError(err).Warn("redis not reachable yet")
		}
		return rs, nil
	default:
		return nil, nil
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
