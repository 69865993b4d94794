package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	rediscache "github.com/SkastVnT/AI-Assistant-sub002/internal/cache"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/cache"

	"go.uber.org/zap"
)

// runCache handles `chatcore cache flush` and `chatcore cache stats`.
func runCache(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: chatcore cache <flush|stats> [--config <path>]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("cache "+args[0], flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args[1:])

	cfg := mustLoadConfig(*configPath)
	rc := rediscache.DefaultConfig()
	rc.Addr = cfg.Redis.Addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.TLS = cfg.Redis.TLS
	rc.HealthCheckInterval = 0

	mgr, err := rediscache.NewManager(rc, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch args[0] {
	case "flush":
		n, err := mgr.DeletePrefix(ctx, cache.RedisKeyPrefix)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flush failed after %d keys: %v\n", n, err)
			os.Exit(1)
		}
		fmt.Printf("deleted %d cached responses\n", n)
	case "stats":
		stats, err := mgr.GetStats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("keys=%d hits=%d misses=%d used_memory=%d clients=%d\n",
			stats.Keys, stats.Hits, stats.Misses, stats.UsedMemory, stats.Connections)
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache subcommand: %s\n", args[0])
		os.Exit(1)
	}
}
