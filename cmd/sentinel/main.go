package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/MrCodeEU/sentinel/pkg/config"
	"github.com/MrCodeEU/sentinel/pkg/logging"
)

const version = "0.1.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command
)

// commandOrder is the order commands appear in the usage text.
var commandOrder = []string{"serve", "analyze", "reports", "config", "version", "help"}

func init() {
	commands = map[string]*Command{
		"serve": {
			Name:        "serve",
			Description: "Run the camera pipeline and the HTTP dashboard API",
			Usage:       "sentinel serve [source]",
			Run:         cmdServe,
		},
		"analyze": {
			Name:        "analyze",
			Description: "Run the liveness challenge over a video file once",
			Usage:       "sentinel analyze <video>",
			Run:         cmdAnalyze,
		},
		"reports": {
			Name:        "reports",
			Description: "Show stored reports (days, or one day's reports)",
			Usage:       "sentinel reports [YYYY-MM-DD]",
			Run:         cmdReports,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "sentinel config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "sentinel version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "sentinel help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	// Parse global flags
	configFile := flag.String("config", "", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file with SENTINEL_* overrides")
	debug := flag.Bool("debug", false, "Enable debug logging")
	jsonLogs := flag.Bool("json", false, "Log as JSON")
	flag.Parse()

	args := flag.Args()

	// Load configuration
	var loadErr error
	if *configFile != "" {
		cfg, loadErr = config.Load(*configFile)
	} else {
		cfg, loadErr = config.LoadDefault()
	}
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}

	// Environment overrides
	envErr := config.LoadDotEnv(*envFile)
	if err := cfg.ApplyEnv(); err != nil {
		logging.Fatalf("Invalid SENTINEL_* override: %v", err)
	}

	cfg.ExpandPaths()

	// Initialize logging
	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if *jsonLogs {
		logging.UseJSON()
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	if loadErr != nil {
		logging.Warnf("Could not load config, using defaults: %v", loadErr)
	}
	if envErr != nil {
		logging.WithField("file", *envFile).Warnf("Could not load env file: %v", envErr)
	}

	logging.Debugf("Sentinel v%s starting", version)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil && cmdName != "config" && cmdName != "help" && cmdName != "version" {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.Errorf("Command '%s' failed: %v", cmdName, err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Sentinel - Challenge-Response Liveness Detection")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: sentinel [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>   Path to configuration file")
	fmt.Println("  -env <file>      Path to .env file (default .env)")
	fmt.Println("  -debug           Enable debug logging")
	fmt.Println("  -json            Log as JSON")
	fmt.Println("\nCommands:")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Printf("  %-12s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  sentinel serve                 # Webcam 0, dashboard on :8000")
	fmt.Println("  sentinel serve clip.mp4        # Loop a recorded clip")
	fmt.Println("  sentinel analyze clip.mp4      # Print the final report")
	fmt.Println("  sentinel reports 2024-03-09    # Stored reports for a day")
	fmt.Println("\nRun 'sentinel help <command>' for more information on a command.")
}

func cmdConfig(args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Device:          %s\n", cfg.Camera.Device)
	fmt.Printf("  Resolution:      %dx%d\n", cfg.Camera.Width, cfg.Camera.Height)
	fmt.Printf("  Mirror Live:     %t\n", cfg.Camera.MirrorLive)
	fmt.Printf("  Retry Backoff:   %d ms\n", cfg.Camera.RetryBackoffMS)
	fmt.Println()
	fmt.Println("[Detector]")
	fmt.Printf("  Sidecar URL:     %s\n", cfg.Detector.SidecarURL)
	fmt.Printf("  Timeout:         %d ms\n", cfg.Detector.TimeoutMS)
	fmt.Println()
	fmt.Println("[Server]")
	fmt.Printf("  Listen:          %s\n", cfg.Server.Listen)
	fmt.Printf("  Upload Dir:      %s\n", cfg.Server.UploadDir)
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Backend:         %s\n", cfg.Storage.Backend)
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Printf("  Redis:           %s (key %s, max %d)\n", cfg.Storage.RedisAddr, cfg.Storage.RedisKey, cfg.Storage.RedisMaxEntries)
	fmt.Printf("  Interval:        %d ms\n", cfg.Storage.IntervalMS)
	fmt.Printf("  Min Score:       %.2f\n", cfg.Storage.MinScore)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nWarning: %v\n", err)
	}
	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("Sentinel v%s\n", version)
	fmt.Println("Challenge-Response Liveness Detection")
	fmt.Println()
	fmt.Println("Build Information:")
	fmt.Printf("  Go version: %s\n", runtime.Version())
	fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)

	switch cmdName {
	case "serve":
		fmt.Println("\nEndpoints:")
		fmt.Println("  GET  /stats          Latest liveness report")
		fmt.Println("  GET  /video_feed     MJPEG preview")
		fmt.Println("  POST /upload_video   Switch to an uploaded clip (field 'file')")
		fmt.Println("  POST /reset_camera   Switch back to the configured camera")
		fmt.Println("  GET  /ws/stats       Websocket report stream")
		fmt.Println("\nThe landmark sidecar must be reachable at detector.sidecar_url.")
	case "analyze":
		fmt.Println("\nThe clip is played once without mirroring; the last report is")
		fmt.Println("printed as JSON.")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/sentinel/sentinel.yaml")
		fmt.Println("  User:   ~/.config/sentinel/sentinel.yaml")
		fmt.Println("\nUse -config flag to specify a custom config file.")
		fmt.Println("SENTINEL_* environment variables (or a .env file) override it.")
	}

	return nil
}
