// Package config holds host-level runtime configuration: output and
// parameter directories, worker timing bounds and logging. Values come
// from the environment with a .env overlay.
package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all host runtime configuration. The camera and pipeline
// shape are not here — those travel in the per-start PipelineConfig.
type Config struct {
	// Directories
	DataDir  string `envconfig:"DATA_DIR"  default:"data"`
	ParamDir string `envconfig:"PARAM_DIR" default:""` // defaults to <DataDir>/parameters

	// Log output file name. Nothing in this module opens it; logs go to
	// stderr whatever its value.
	LogFile string `envconfig:"LOG_FILE" default:""`

	// Capture
	WaitTime  time.Duration `envconfig:"WAIT_TIME"  default:"100ms"`
	RingSlots int           `envconfig:"RING_SLOTS" default:"8"`

	// Recorder
	RecordMinInterval time.Duration `envconfig:"RECORD_MIN_INTERVAL" default:"0"`
	RecordQueueDepth  int           `envconfig:"RECORD_QUEUE_DEPTH"  default:"64"`

	// Worker join bound applied by Stop before declaring a thread stuck.
	JoinTimeout time.Duration `envconfig:"JOIN_TIMEOUT" default:"2s"`
}

// Load reads a .env file (if present) then populates Config from
// environment variables. A missing .env is logged and otherwise ignored;
// malformed values are fatal.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment and defaults")
	}

	cfg := &Config{}
	if err := envconfig.Process("iscpipe", cfg); err != nil {
		log.Fatal("config: ", err)
	}

	if cfg.ParamDir == "" {
		cfg.ParamDir = filepath.Join(cfg.DataDir, "parameters")
	}
	return cfg
}
