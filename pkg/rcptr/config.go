package rcptr

import (
	"flag"
	"os"
	"runtime"
	"strconv"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

const (
	// DefaultSnapshotSlots is the number of announcement slots per handle
	// available to snapshot pointers.
	DefaultSnapshotSlots = 7

	// DefaultDelay is the reclamation lag multiplier. A handle holds at most
	// on the order of Delay * MaxHandles deferred decrements before scanning.
	DefaultDelay = 1

	// minScanThreshold is the floor on the amortised work accumulated before
	// a scan is attempted.
	minScanThreshold = 30
)

// Backend selects when retired objects have their deferred decrements
// applied. The pointer contracts are identical across backends; only the
// moment of reclamation differs.
type Backend string

const (
	// HazardBackend reconciles retired objects against the announcement
	// slots of every handle. It is the default.
	HazardBackend Backend = "hazard"

	// EpochBackend frees retired objects once every pinned handle has moved
	// two epochs past their retirement.
	EpochBackend Backend = "epoch"
)

// Config tunes a Domain.
type Config struct {
	// MaxHandles caps the number of concurrently registered handles. Zero
	// means MaxHandlesFromEnv().
	MaxHandles int `yaml:"max_handles"`

	// SnapshotSlots is the per-handle snapshot slot count. More allows more
	// live snapshots per handle but makes reclamation scans slower.
	SnapshotSlots int `yaml:"snapshot_slots"`

	// Delay scales how many deferred decrements accumulate before a scan.
	Delay int `yaml:"delay"`

	Backend Backend `yaml:"backend"`

	Logger log.Logger `yaml:"-"`
}

// RegisterFlagsAndApplyDefaults registers config flags with the given prefix
// and applies defaults.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.MaxHandles, prefix+"max-handles", MaxHandlesFromEnv(), "upper bound on concurrently registered handles")
	f.IntVar(&cfg.SnapshotSlots, prefix+"snapshot-slots", DefaultSnapshotSlots, "announcement slots per handle available to snapshots")
	f.IntVar(&cfg.Delay, prefix+"delay", DefaultDelay, "reclamation lag multiplier")
	f.StringVar((*string)(&cfg.Backend), prefix+"backend", string(HazardBackend), "reclamation backend (hazard, epoch)")
}

func (cfg *Config) applyDefaults() {
	if cfg.MaxHandles == 0 {
		cfg.MaxHandles = MaxHandlesFromEnv()
	}
	if cfg.SnapshotSlots == 0 {
		cfg.SnapshotSlots = DefaultSnapshotSlots
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Backend == "" {
		cfg.Backend = HazardBackend
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
}

// Validate returns an error describing the first invalid field, if any.
func (cfg *Config) Validate() error {
	if cfg.MaxHandles < 0 {
		return errors.New("max_handles must not be negative")
	}
	if cfg.SnapshotSlots < 0 {
		return errors.New("snapshot_slots must not be negative")
	}
	if cfg.Delay < 0 {
		return errors.New("delay must not be negative")
	}
	switch cfg.Backend {
	case "", HazardBackend, EpochBackend:
	default:
		return errors.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}

// MaxHandlesFromEnv returns the registry capacity configured through the
// NUM_THREADS environment variable, defaulting to hardware concurrency plus
// one.
func MaxHandlesFromEnv() int {
	if s := os.Getenv("NUM_THREADS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n + 1
		}
	}
	return runtime.NumCPU() + 1
}
