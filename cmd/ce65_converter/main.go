package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/ce65_converter_go/internal/config"
	"github.com/user/ce65_converter_go/internal/logging"
)

const usage = `Usage: ce65_converter <command> [flags] <capture files...>

Commands:
  convert    convert CE65 raw events to standard planes (JSON lines)
  calibrate  build a pedestal/noise calibration from a pedestal run
  dump       print the frames of CE65 raw events

Run 'ce65_converter <command> -h' for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(ctx, os.Args[2:])
	case "calibrate":
		err = runCalibrate(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:], os.Stdout)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		logging.Errorf("%s: %v", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig returns nil without a path, which selects the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		logging.Infof("No configuration file, using CE65 defaults")
		return nil, nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Level != "" && os.Getenv("LOG_LEVEL") == "" {
		if !logging.SetLevel(cfg.Logging.Level) {
			logging.Warningf("Unrecognized logging.level %q, keeping the current level", cfg.Logging.Level)
		}
	}
	logging.Infof("Loaded configuration from %s", path)
	return cfg, nil
}
