package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/sentinel/pkg/camera"
	"github.com/MrCodeEU/sentinel/pkg/landmarks"
	"github.com/MrCodeEU/sentinel/pkg/liveness"
	"github.com/MrCodeEU/sentinel/pkg/logging"
	"github.com/MrCodeEU/sentinel/pkg/pipeline"
	"github.com/MrCodeEU/sentinel/pkg/storage"
)

func cmdAnalyze(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("video path required\nUsage: sentinel analyze <video>")
	}
	path := args[0]
	if camera.ParseTarget(path).Live {
		return fmt.Errorf("analyze needs a video file, got camera %s", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector := landmarks.NewSidecarClient(cfg.Detector.SidecarURL, millis(cfg.Detector.TimeoutMS))
	defer detector.Close()

	opts := camera.Options{Width: cfg.Camera.Width, Height: cfg.Camera.Height}
	rc := runnerConfig()
	rc.StopAtEnd = true
	runner := pipeline.NewRunner(rc, detector, opener(opts), newSession)

	frames := 0
	verifiedAt := -1
	runner.OnReport = func(r liveness.Report) {
		frames++
		if r.State == liveness.StateVerified && verifiedAt < 0 {
			verifiedAt = frames
		}
	}

	logging.Infof("Analyzing %s", path)
	start := time.Now()
	if err := runner.Run(ctx, path); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	final := runner.Reports().Load()
	out, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	fmt.Println(string(out))

	fmt.Fprintf(os.Stderr, "\n%d frames in %s", frames, time.Since(start).Round(time.Millisecond))
	if verifiedAt >= 0 {
		fmt.Fprintf(os.Stderr, ", verified at frame %d", verifiedAt)
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

func cmdReports(args []string) error {
	if cfg.Storage.Backend == "redis" {
		return redisReports(args)
	}

	fs, err := storage.NewFileStore(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}

	if len(args) == 0 {
		days, err := fs.ListDays()
		if err != nil {
			return err
		}
		if len(days) == 0 {
			fmt.Println("No reports stored.")
			return nil
		}
		fmt.Println("Days with reports:")
		for _, day := range days {
			fmt.Printf("  - %s\n", day)
		}
		return nil
	}

	reports, err := fs.LoadReports(args[0])
	if err != nil {
		if errors.Is(err, storage.ErrNoReports) {
			fmt.Printf("No reports for %s.\n", args[0])
			return nil
		}
		return err
	}
	printReports(reports)
	return nil
}

func redisReports(args []string) error {
	n := 20
	if len(args) > 0 {
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil || n <= 0 {
			return fmt.Errorf("with the redis backend the argument is a count, got %q", args[0])
		}
	}

	rs := storage.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisKey, cfg.Storage.RedisMaxEntries)
	defer rs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reports, err := rs.Recent(ctx, n)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("No reports stored.")
		return nil
	}
	printReports(reports)
	return nil
}

func printReports(reports []liveness.Report) {
	for _, r := range reports {
		fmt.Printf("%s  %-8.8s  %-16s  score %.2f  trust %3.0f%%  %v\n",
			r.Timestamp.Format("15:04:05"), r.SessionID, r.State, r.Score, r.TrustPercent, r.ViolatedRules)
	}
	fmt.Printf("\nTotal: %d report(s)\n", len(reports))
}
