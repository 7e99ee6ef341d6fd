// Command umapbench runs a verified mixed workload against umap.Table and
// prints the resulting table statistics.
package main

import (
	"fmt"
	"io"
	"os"

	gojson "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/llxisdsh/umap/internal/workload"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	def := workload.DefaultConfig()
	flagSet := flag.NewFlagSet("umapbench", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.StringP("config", "c", "", "JSONC config file, flags override its values")
	keys := flagSet.IntP("keys", "n", def.Keys, "number of distinct keys")
	ops := flagSet.Int("ops", def.Ops, "number of operations")
	mix := flagSet.String("mix", def.Mix, "weighted operation mix, op:weight,...")
	mlf := flagSet.Float64("max-load-factor", def.MaxLoadFactor, "maximum load factor")
	alloc := flagSet.String("allocator", def.Allocator, "allocator: heap, limit or mmap")
	limitBytes := flagSet.Int("limit-bytes", def.LimitBytes, "byte quota of the limit allocator, 0 is unlimited")
	hasher := flagSet.String("hasher", def.Hasher, "hash policy: default, xxh3 or xxhash")
	seed := flagSet.Uint64("seed", def.Seed, "seed of the operation stream and the table")
	presize := flagSet.Bool("presize", def.Presize, "reserve room for all keys up front")
	asJSON := flagSet.Bool("json", def.JSON, "print the report as JSON")
	logLevel := flagSet.String("log-level", def.LogLevel, "log level: debug, info, warn, error")

	flagSet.Usage = func() {
		fmt.Fprintf(errOut, "Usage: umapbench [flags]\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := workload.LoadConfig(*configPath, func(c *workload.Config) {
		if flagSet.Changed("keys") {
			c.Keys = *keys
		}
		if flagSet.Changed("ops") {
			c.Ops = *ops
		}
		if flagSet.Changed("mix") {
			c.Mix = *mix
		}
		if flagSet.Changed("max-load-factor") {
			c.MaxLoadFactor = *mlf
		}
		if flagSet.Changed("allocator") {
			c.Allocator = *alloc
		}
		if flagSet.Changed("limit-bytes") {
			c.LimitBytes = *limitBytes
		}
		if flagSet.Changed("hasher") {
			c.Hasher = *hasher
		}
		if flagSet.Changed("seed") {
			c.Seed = *seed
		}
		if flagSet.Changed("presize") {
			c.Presize = *presize
		}
		if flagSet.Changed("json") {
			c.JSON = *asJSON
		}
		if flagSet.Changed("log-level") {
			c.LogLevel = *logLevel
		}
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	level, _ := workload.ParseLogLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: errOut}).With().Timestamp().Logger()

	rep, err := workload.Run(cfg)
	if err != nil {
		log.Error().Err(err).Msg("workload failed")
		return 1
	}

	if cfg.JSON {
		data, err := gojson.MarshalIndent(rep, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("encode report")
			return 1
		}
		fmt.Fprintln(out, string(data))
		return 0
	}

	fmt.Fprintf(out, "ops: %d in %v (%.0f ops/s)\n", cfg.Ops, rep.Elapsed, rep.OpsPerSec)
	fmt.Fprintf(out, "hits: %d misses: %d alloc failures: %d\n", rep.Hits, rep.Misses, rep.AllocFailures)
	if rep.PeakBytes > 0 {
		fmt.Fprintf(out, "peak allocator bytes: %d\n", rep.PeakBytes)
	}
	fmt.Fprint(out, rep.Stats.ToString())
	return 0
}
