// Package config reads the peerfs command configuration: defaults, then PEERFS_*
// environment variables, then flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "PEERFS_"

// Common holds the settings shared by every command.
type Common struct {
	LogLevel  string
	LogFormat string
}

// RunConfig holds configuration for the peer process.
type RunConfig struct {
	Common
	Listen      string
	Peers       []string // Peers to link with on start (repeatable -peer)
	SeedFile    string   // Bencoded seed file read on start
	TrackerURL  string   // HTTP seed tracker announced to on start
	SavePeers   string   // Seed file written with the known peers on exit
	Capacity    int      // Maximum number of links
	DialTimeout time.Duration
	PollTimeout time.Duration
}

// FileConfig holds configuration for the partial file commands.
type FileConfig struct {
	Common
	Root   string
	Size   uint64 // create only
	Source string // fill only, complete copy serving the missing blocks
	Args   []string
}

// TrackerConfig holds configuration for the seed tracker server.
type TrackerConfig struct {
	Common
	Addr     string
	Interval time.Duration
}

// ParseRunConfig parses run configuration from flags and environment variables.
// Flags take precedence over environment variables.
func ParseRunConfig(args []string) (RunConfig, error) {
	return parseRunConfigWithFlagSet(flag.NewFlagSet("run", flag.ContinueOnError), args)
}

// parseRunConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseRunConfigWithFlagSet(fs *flag.FlagSet, args []string) (RunConfig, error) {
	cfg := RunConfig{
		Common:      defaultCommon(),
		Listen:      ":17127",
		Capacity:    1024,
		DialTimeout: 2 * time.Second,
		PollTimeout: 50 * time.Millisecond,
	}

	// Read from environment first
	env := envReader{}
	env.stringVar("LISTEN", &cfg.Listen)
	env.listVar("PEERS", &cfg.Peers)
	env.stringVar("SEED_FILE", &cfg.SeedFile)
	env.stringVar("TRACKER_URL", &cfg.TrackerURL)
	env.stringVar("SAVE_PEERS", &cfg.SavePeers)
	env.intVar("CAPACITY", &cfg.Capacity)
	env.durationVar("DIAL_TIMEOUT", &cfg.DialTimeout)
	env.durationVar("POLL_TIMEOUT", &cfg.PollTimeout)
	env.common(&cfg.Common)
	if env.err != nil {
		return cfg, env.err
	}

	// Flags override environment
	registerCommon(fs, &cfg.Common)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "listen address")
	peers := make([]string, 0)
	fs.Var((*stringSlice)(&peers), "peer", "peer address host:port (repeatable)")
	fs.StringVar(&cfg.SeedFile, "seed-file", cfg.SeedFile, "bencoded seed file to read peers from")
	fs.StringVar(&cfg.TrackerURL, "tracker", cfg.TrackerURL, "seed tracker URL")
	fs.StringVar(&cfg.SavePeers, "save-peers", cfg.SavePeers, "seed file to write known peers to on exit")
	fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "maximum number of links")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "peer dial timeout")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "endpoint poll timeout")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	// If peers were provided, they replace the environment list
	if len(peers) > 0 {
		cfg.Peers = peers
	}
	if cfg.Capacity < 1 {
		return cfg, fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	return cfg, nil
}

// ParseFileConfig parses configuration of the partial file command name.
func ParseFileConfig(name string, args []string) (FileConfig, error) {
	return parseFileConfigWithFlagSet(flag.NewFlagSet(name, flag.ContinueOnError), args)
}

func parseFileConfigWithFlagSet(fs *flag.FlagSet, args []string) (FileConfig, error) {
	cfg := FileConfig{
		Common: defaultCommon(),
		Root:   ".",
	}

	env := envReader{}
	env.stringVar("ROOT", &cfg.Root)
	env.common(&cfg.Common)
	if env.err != nil {
		return cfg, env.err
	}

	registerCommon(fs, &cfg.Common)
	fs.StringVar(&cfg.Root, "root", cfg.Root, "root directory of partial files")
	fs.Uint64Var(&cfg.Size, "size", 0, "file size in bytes (create)")
	fs.StringVar(&cfg.Source, "source", "", "complete file serving missing blocks (fill)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

// ParseTrackerConfig parses configuration of the seed tracker server.
func ParseTrackerConfig(args []string) (TrackerConfig, error) {
	return parseTrackerConfigWithFlagSet(flag.NewFlagSet("tracker", flag.ContinueOnError), args)
}

func parseTrackerConfigWithFlagSet(fs *flag.FlagSet, args []string) (TrackerConfig, error) {
	cfg := TrackerConfig{
		Common:   defaultCommon(),
		Addr:     ":8080",
		Interval: time.Minute,
	}

	env := envReader{}
	env.stringVar("TRACKER_ADDR", &cfg.Addr)
	env.durationVar("TRACKER_INTERVAL", &cfg.Interval)
	env.common(&cfg.Common)
	if env.err != nil {
		return cfg, env.err
	}

	registerCommon(fs, &cfg.Common)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "server address")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "announce interval sent to peers")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultCommon() Common {
	return Common{LogLevel: "info", LogFormat: "text"}
}

func registerCommon(fs *flag.FlagSet, c *Common) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (text, json)")
}

// envReader reads PEERFS_ variables, keeping the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func (e *envReader) stringVar(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) listVar(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*dst = append(*dst, item)
		}
	}
}

func (e *envReader) intVar(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = n
}

func (e *envReader) durationVar(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return
	}
	*dst = d
}

func (e *envReader) common(c *Common) {
	e.stringVar("LOG_LEVEL", &c.LogLevel)
	e.stringVar("LOG_FORMAT", &c.LogFormat)
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
}

// stringSlice implements flag.Value for repeatable string flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

var _ flag.Value = (*stringSlice)(nil)
