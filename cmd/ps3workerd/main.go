// Command ps3workerd is the container entrypoint of the worker. It takes no
// flags: the configuration path comes from PS3_WORKER_CONFIG and everything
// else from the config file and environment overrides.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/daemonrun"
)

const configEnv = "PS3_WORKER_CONFIG"

func main() {
	cfg, path, exists, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !exists {
		log.Printf("config file %s not found; using defaults and environment", path)
	}

	if err := daemonrun.Run(context.Background(), cfg, runOptions()); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ps3workerd: %v", err)
	}
}

func configPath() string {
	return strings.TrimSpace(os.Getenv(configEnv))
}

func runOptions() daemonrun.Options {
	return daemonrun.Options{
		LogLevel:      strings.TrimSpace(os.Getenv("PS3_WORKER_LOG_LEVEL")),
		SkipPreflight: os.Getenv("PS3_WORKER_SKIP_PREFLIGHT") == "1",
	}
}
