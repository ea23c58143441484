package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/codewandler/notify-go/core/notify"
	"github.com/codewandler/notify-go/core/process"
	"github.com/codewandler/notify-go/core/typed"
	"github.com/codewandler/notify-go/internal/config"
)

// === Config ===

// NOTE: run nats: docker run --net=host nats:latest -js

type loadConfig struct {
	N           int `envconfig:"N" default:"20000"`
	Writers     int `envconfig:"WRITERS" default:"4"`
	Subscribers int `envconfig:"SUBSCRIBERS" default:"8"`
	BatchSize   int `envconfig:"B" default:"1000"`
}

func main() {
	cfg, err := config.Load()
	checkErr(err)
	var lc loadConfig
	checkErr(envconfig.Process("LOADTEST", &lc))

	log := cfg.Logger(os.Stdout)

	fmt.Printf("Backend:     %s\n", cfg.Backend)
	fmt.Printf("Writes:      %d by %d writers\n", lc.N, lc.Writers)
	fmt.Printf("Subscribers: %d\n", lc.Subscribers)

	ch, err := cfg.OpenChannel(log)
	checkErr(err)
	defer ch.Close()

	proc, err := process.New(process.Config{Channel: ch, Log: log})
	checkErr(err)
	defer proc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	counter, err := typed.CreateTemporary(ctx, proc, typed.Binary[uint64]())
	checkErr(err)
	_, err = counter.Set(ctx, 0)
	checkErr(err)

	// === subscribers ===

	var deliveries atomic.Uint64
	subs := make([]*notify.Subscription, 0, lc.Subscribers)
	for i := range lc.Subscribers {
		sub, err := counter.Subscribe(ctx, func(_ *notify.Delivery, _ typed.Stamped[uint64]) error {
			deliveries.Add(1)
			return nil
		}, notify.WithName(fmt.Sprintf("loadtest-%d", i)))
		checkErr(err)
		subs = append(subs, sub)
	}

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	startAt := time.Now()

	var (
		written  atomic.Int64
		lastTime = time.Now()
		mu       sync.Mutex
		wg       sync.WaitGroup
	)
	perWriter := lc.N / lc.Writers
	for range lc.Writers {
		wg.Go(func() {
			for range perWriter {
				_, err := counter.Apply(ctx, func(v uint64) uint64 { return v + 1 })
				checkErr(err)

				i := written.Add(1)
				if i%int64(lc.BatchSize) != 0 {
					continue
				}
				mu.Lock()
				n := time.Now()
				took := n.Sub(lastTime)
				mem := getMemUsage()
				fmt.Printf("| %5d writes | %6d ms | %6d writes/s | %8d deliveries | (%d / %d) MiB mem (sys) |\n",
					lc.BatchSize, took.Milliseconds(), int(float64(lc.BatchSize)/took.Seconds()),
					deliveries.Load(), mem.Alloc/1024/1024, mem.Sys/1024/1024)
				lastTime = n
				mu.Unlock()
			}
		})
	}

	target := uint64(perWriter * lc.Writers)
	final, err := counter.WaitUntilContext(ctx, func(v uint64) bool { return v >= target })
	checkErr(err)
	wg.Wait()
	writesDone := time.Since(startAt)

	for _, sub := range subs {
		checkErr(sub.Unsubscribe(ctx))
	}

	// === stats ===
	println("")
	println("==========================================")

	runtime.GC()
	stats := proc.Registry().Stats()

	fmt.Printf("total runtime: %.3f seconds\n", writesDone.Seconds())
	fmt.Printf("  final value: %d\n", final)
	fmt.Printf("   deliveries: %d (dropped %d, failed %d)\n", stats.Delivered, stats.Dropped, stats.Failed)
	fmt.Printf("avg. writes/s: %d\n", int(float64(target)/writesDone.Seconds()))
	log.Debug("done", slog.Int("active", stats.Active))
}

// === stats helpers ===

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys}
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
