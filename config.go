package upcall

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the process-level configuration for the reference echo
// binary: msg_size and the bind-address, which spec.md §6 leaves to an
// external collaborator (nr_cpus is not part of Config; the CPU count
// comes from Options.NumCPU or the runtime), plus the buffer-pool and
// concurrency-model knobs §4 describes. Argument parsing itself remains
// out of scope; this only covers an optional TOML file, grounded on the
// teacher's backend.go DefaultParams-style defaulting pattern.
type Config struct {
	Model           string `toml:"model"`             // "pcpu", "pcache", or "single"
	BindAddr        string `toml:"bind_addr"`
	MsgSize         int    `toml:"msg_size"`
	ThreadsPerQueue int    `toml:"threads_per_queue"`
	Donate          bool   `toml:"donate"`
	BufCount        int    `toml:"buf_count"`
	InboundCap      int    `toml:"inbound_cap"`
	LogLevel        string `toml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is present,
// mirroring DefaultParams's role in the teacher.
func DefaultConfig() Config {
	return Config{
		Model:           "pcpu",
		BindAddr:        DefaultBindAddr,
		MsgSize:         DefaultMsgSize,
		ThreadsPerQueue: DefaultThreadsPerQueue,
		Donate:          true,
		BufCount:        DefaultBufCount,
		InboundCap:      DefaultInboundCap,
		LogLevel:        "info",
	}
}

// LoadConfig reads a TOML file at path and layers it over DefaultConfig;
// fields absent from the file keep their default. A missing file is not
// an error — it just yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("upcall: reading config %q: %w", path, err)
	}

	// Unmarshal into a sparse overlay so zero-valued fields in the file
	// don't clobber the defaults already in cfg.
	var overlay struct {
		Model           *string `toml:"model"`
		BindAddr        *string `toml:"bind_addr"`
		MsgSize         *int    `toml:"msg_size"`
		ThreadsPerQueue *int    `toml:"threads_per_queue"`
		Donate          *bool   `toml:"donate"`
		BufCount        *int    `toml:"buf_count"`
		InboundCap      *int    `toml:"inbound_cap"`
		LogLevel        *string `toml:"log_level"`
	}
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return cfg, fmt.Errorf("upcall: parsing config %q: %w", path, err)
	}

	if overlay.Model != nil {
		cfg.Model = *overlay.Model
	}
	if overlay.BindAddr != nil {
		cfg.BindAddr = *overlay.BindAddr
	}
	if overlay.MsgSize != nil {
		cfg.MsgSize = *overlay.MsgSize
	}
	if overlay.ThreadsPerQueue != nil {
		cfg.ThreadsPerQueue = *overlay.ThreadsPerQueue
	}
	if overlay.Donate != nil {
		cfg.Donate = *overlay.Donate
	}
	if overlay.BufCount != nil {
		cfg.BufCount = *overlay.BufCount
	}
	if overlay.InboundCap != nil {
		cfg.InboundCap = *overlay.InboundCap
	}
	if overlay.LogLevel != nil {
		cfg.LogLevel = *overlay.LogLevel
	}
	return cfg, nil
}

// model parses the configured concurrency-model name, defaulting to PCPU
// for an empty or unrecognized value.
func (c Config) model() Model {
	switch c.Model {
	case "pcache":
		return PCACHE
	case "single":
		return SINGLE
	default:
		return PCPU
	}
}
