// graveldb_bench exercises the B+Tree index through the buffer pool
// with a concurrent write/read/scan/delete workload and reports
// throughput. With telemetry enabled the buffer pool counters are
// served on the Prometheus endpoint for the duration of the run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gravel-db/graveldb/core/buffer"
	"github.com/gravel-db/graveldb/core/indexing/btree"
	diskmanager "github.com/gravel-db/graveldb/core/storage/disk_manager"
	pagemanager "github.com/gravel-db/graveldb/core/storage/page_manager"
	"github.com/gravel-db/graveldb/pkg/logger"
	"github.com/gravel-db/graveldb/pkg/telemetry"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "", "data directory (default: temp dir)")
		numKeys     = flag.Int("keys", 100000, "number of keys to insert")
		workers     = flag.Int("workers", 16, "concurrent workers per phase")
		poolSize    = flag.Int("pool-size", 1024, "buffer pool size in frames")
		replacerK   = flag.Int("replacer-k", 2, "LRU-K history depth")
		leafMax     = flag.Int("leaf-max", 128, "leaf node capacity")
		internalMax = flag.Int("internal-max", 128, "internal node capacity")
		logLevel    = flag.String("log-level", "info", "log level")
		metricsPort = flag.Int("metrics-port", 0, "Prometheus metrics port, 0 disables telemetry")
		seed        = flag.Uint64("seed", 42, "workload seed")
	)
	flag.Parse()

	zlogger, err := logger.New(logger.Config{Level: *logLevel, Format: "console"})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlogger.Sync()

	runID := uuid.New().String()
	zlogger = zlogger.With(zap.String("run_id", runID))

	tel, shutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsPort > 0,
		ServiceName:    "graveldb_bench",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		zlogger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlogger.Error("telemetry shutdown failed", zap.Error(err))
		}
	}()

	dir := *dataDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "graveldb-bench-*")
		if err != nil {
			zlogger.Fatal("failed to create temp dir", zap.Error(err))
		}
		defer os.RemoveAll(dir)
	}

	dm, err := diskmanager.NewDiskManager(filepath.Join(dir, "bench.db"),
		diskmanager.DefaultPageSize, zlogger.Named("disk"))
	if err != nil {
		zlogger.Fatal("failed to open database file", zap.Error(err))
	}
	defer dm.Close()

	bpm := buffer.NewBufferPoolManager(*poolSize, *replacerK, dm,
		zlogger.Named("bufferpool"), tel.Meter)

	headerID, err := bpm.NewPageID()
	if err != nil {
		zlogger.Fatal("failed to allocate header page", zap.Error(err))
	}
	tree, err := btree.New[uint64]("bench_index", headerID, bpm,
		btree.CompareUint64, btree.Uint64Codec{}, *leafMax, *internalMax,
		zlogger.Named("btree"))
	if err != nil {
		zlogger.Fatal("failed to create index", zap.Error(err))
	}

	faker := gofakeit.New(*seed)
	keys := make([]uint64, *numKeys)
	seen := make(map[uint64]struct{}, *numKeys)
	for i := range keys {
		for {
			k := faker.Uint64()
			if _, dup := seen[k]; !dup && k != 0 {
				seen[k] = struct{}{}
				keys[i] = k
				break
			}
		}
	}

	zlogger.Info("starting benchmark",
		zap.Int("keys", *numKeys), zap.Int("workers", *workers),
		zap.Int("pool_size", *poolSize), zap.Int("leaf_max", *leafMax))

	runPhase(zlogger, "insert", keys, *workers, func(k uint64) error {
		return tree.Insert(k, pagemanager.RID{PageID: pagemanager.PageID(k), SlotNum: uint32(k)})
	})
	runPhase(zlogger, "read", keys, *workers, func(k uint64) error {
		rid, err := tree.GetValue(k)
		if err != nil {
			return err
		}
		if rid.PageID != pagemanager.PageID(k) {
			return fmt.Errorf("value mismatch for key %d", k)
		}
		return nil
	})
	runScan(zlogger, tree, *numKeys)
	runPhase(zlogger, "delete", keys[:len(keys)/2], *workers, func(k uint64) error {
		return tree.Remove(k)
	})

	if err := bpm.FlushAllPages(); err != nil {
		zlogger.Error("final flush failed", zap.Error(err))
	}
	zlogger.Info("benchmark complete")
}

// runPhase fans keys out over a bounded worker pool and reports the
// phase's throughput.
func runPhase(zlogger *zap.Logger, name string, keys []uint64, workers int, op func(uint64) error) {
	var wg sync.WaitGroup
	var failures atomic.Int64
	sem := make(chan struct{}, workers)

	start := time.Now()
	for _, k := range keys {
		sem <- struct{}{}
		wg.Add(1)
		go func(k uint64) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := op(k); err != nil {
				failures.Add(1)
				zlogger.Error("operation failed",
					zap.String("phase", name), zap.Uint64("key", k), zap.Error(err))
			}
		}(k)
	}
	wg.Wait()
	elapsed := time.Since(start)

	zlogger.Info("phase complete",
		zap.String("phase", name),
		zap.Int("ops", len(keys)),
		zap.Int64("failures", failures.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("ops_per_sec", float64(len(keys))/elapsed.Seconds()))
}

// runScan walks the whole index in key order and checks the count and
// the ordering.
func runScan(zlogger *zap.Logger, tree *btree.BPlusTree[uint64], want int) {
	start := time.Now()
	it, err := tree.Begin()
	if err != nil {
		zlogger.Error("scan failed to start", zap.Error(err))
		return
	}
	defer it.Close()

	var count int
	var prev uint64
	for !it.IsEnd() {
		k := it.Key()
		if count > 0 && k <= prev {
			zlogger.Error("scan out of order",
				zap.Uint64("prev", prev), zap.Uint64("key", k))
			return
		}
		prev = k
		count++
		if err := it.Next(); err != nil {
			zlogger.Error("scan failed", zap.Error(err))
			return
		}
	}
	elapsed := time.Since(start)

	if count != want {
		zlogger.Error("scan count mismatch",
			zap.Int("want", want), zap.Int("got", count))
		return
	}
	zlogger.Info("phase complete",
		zap.String("phase", "scan"),
		zap.Int("ops", count),
		zap.Duration("elapsed", elapsed),
		zap.Float64("ops_per_sec", float64(count)/elapsed.Seconds()))
}
