package main

import (
	"encoding/binary"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/rcptr/pkg/rcptr"
)

var (
	prometheusListenAddress string
	prometheusPath          string

	configFile      string
	vultureWorkers  int
	vultureDuration time.Duration
	vultureKeySpace int
	vultureBackend  string

	logger *zap.Logger
)

func init() {
	flag.StringVar(&prometheusPath, "prometheus-path", "/metrics", "The path to publish Prometheus metrics to.")
	flag.StringVar(&prometheusListenAddress, "prometheus-listen-address", ":8080", "The address to listen on for Prometheus scrapes.")

	flag.StringVar(&configFile, "config", "", "Optional yaml config file; environment variables are expanded.")
	flag.IntVar(&vultureWorkers, "workers", 8, "Number of goroutines hammering the shared structures.")
	flag.DurationVar(&vultureDuration, "duration", 10*time.Second, "How long to churn before checking invariants.")
	flag.IntVar(&vultureKeySpace, "key-space", 1<<16, "Size of the key space used for generated values.")
	flag.StringVar(&vultureBackend, "backend", string(rcptr.HazardBackend), "Reclamation backend (hazard, epoch).")
}

// node is the payload both workloads link through.
type node struct {
	key  uint64
	next rcptr.Atomic[node]
}

type churnStats struct {
	created   uatomic.Int64
	destroyed uatomic.Int64
	pushSum   uatomic.Uint64
	popSum    uatomic.Uint64
	pushes    uatomic.Int64
	pops      uatomic.Int64
}

func main() {
	flag.Parse()

	config := zap.NewDevelopmentEncoderConfig()
	logger = zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(config),
		os.Stdout,
		zapcore.InfoLevel,
	))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("rcptr-vulture starting",
		zap.Int("workers", cfg.Workers),
		zap.Duration("duration", cfg.Duration),
		zap.String("backend", string(cfg.Domain.Backend)),
	)

	go func() {
		http.Handle(prometheusPath, promhttp.Handler())
		logger.Error("prometheus listener exited", zap.Error(http.ListenAndServe(prometheusListenAddress, nil)))
	}()

	stats := &churnStats{}
	dom, err := rcptr.NewDomain[node](cfg.Domain, rcptr.WithFinalizer(func(h *rcptr.Handle[node], n *node) {
		stats.destroyed.Inc()
		n.next.Store(h, nil)
	}))
	if err != nil {
		logger.Error("failed to build domain", zap.Error(err))
		os.Exit(1)
	}

	var head rcptr.Atomic[node]
	deadline := time.Now().Add(cfg.Duration)

	var g errgroup.Group
	for w := 0; w < cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			churn(dom, &head, stats, cfg, uint64(w), deadline)
			return nil
		})
	}
	_ = g.Wait()

	// drain the stack, then the deferred lists
	h := dom.Handle()
	for pop(h, &head, stats) {
	}
	head.Store(h, nil)
	h.Release()
	dom.Close()

	ok := true
	if stats.pushSum.Load() != stats.popSum.Load() {
		metricErrorTotal.Inc()
		logger.Error("push/pop checksum mismatch",
			zap.Uint64("pushed", stats.pushSum.Load()),
			zap.Uint64("popped", stats.popSum.Load()),
		)
		ok = false
	}
	if stats.created.Load() != stats.destroyed.Load() || dom.CurrentlyAllocated() != 0 {
		metricErrorTotal.Inc()
		logger.Error("object conservation violated",
			zap.Int64("created", stats.created.Load()),
			zap.Int64("destroyed", stats.destroyed.Load()),
			zap.Int64("still_allocated", dom.CurrentlyAllocated()),
		)
		ok = false
	}

	logger.Info("rcptr-vulture finished",
		zap.String("pushes", humanize.Comma(stats.pushes.Load())),
		zap.String("pops", humanize.Comma(stats.pops.Load())),
		zap.String("objects", humanize.Comma(stats.created.Load())),
		zap.Bool("ok", ok),
	)
	if !ok {
		os.Exit(1)
	}
}

// churn alternates pushes, pops and snapshot reads on the shared stack until
// the deadline.
func churn(dom *rcptr.Domain[node], head *rcptr.Atomic[node], stats *churnStats, cfg vultureConfiguration, seed uint64, deadline time.Time) {
	h := dom.Handle()
	defer h.Release()

	var buf [8]byte
	i := seed
	for time.Now().Before(deadline) {
		i++
		binary.LittleEndian.PutUint64(buf[:], i)
		key := xxhash.Sum64(buf[:]) % uint64(cfg.KeySpace)

		switch i % 4 {
		case 0, 1:
			push(h, head, stats, key)
		case 2:
			pop(h, head, stats)
		case 3:
			// a read-only pass: snapshot the head, look at it, let it go
			if s := head.Snapshot(h); !s.IsNil() {
				_ = *s.Value()
				s.Release(h)
			}
			metricOpsTotal.WithLabelValues("snapshot").Inc()
		}
	}
}

func push(h *rcptr.Handle[node], head *rcptr.Atomic[node], stats *churnStats, key uint64) {
	n := rcptr.NewRC(h, node{key: key})
	stats.created.Inc()
	for {
		cur := head.Load(h)
		n.Value().next.Store(h, cur.Clone())
		if head.CompareAndSwapTransfer(h, cur, n) {
			cur.Release(h)
			break
		}
		cur.Release(h)
	}
	stats.pushSum.Add(key)
	stats.pushes.Inc()
	metricOpsTotal.WithLabelValues("push").Inc()
}

func pop(h *rcptr.Handle[node], head *rcptr.Atomic[node], stats *churnStats) bool {
	for {
		ss := head.Snapshot(h)
		if ss.IsNil() {
			return false
		}
		next := ss.Value().next.Load(h)
		if head.CompareAndSwapTransfer(h, ss, next) {
			stats.popSum.Add(ss.Value().key)
			stats.pops.Inc()
			metricOpsTotal.WithLabelValues("pop").Inc()
			ss.Release(h)
			return true
		}
		next.Release(h)
		ss.Release(h)
	}
}
