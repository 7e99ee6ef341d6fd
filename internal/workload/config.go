// Package workload drives a umap.Table through a reproducible mix of
// operations and checks every result against a plain Go map.
package workload

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tailscale/hujson"
)

// Config describes one workload run.
type Config struct {
	Keys          int     `json:"keys"`
	Ops           int     `json:"ops"`
	Mix           string  `json:"mix"`
	MaxLoadFactor float64 `json:"max_load_factor"` //nolint:tagliatelle // snake_case for config file
	Allocator     string  `json:"allocator"`
	LimitBytes    int     `json:"limit_bytes"` //nolint:tagliatelle // snake_case for config file
	Hasher        string  `json:"hasher"`
	Seed          uint64  `json:"seed"`
	Presize       bool    `json:"presize"`
	JSON          bool    `json:"json"`
	LogLevel      string  `json:"log_level"` //nolint:tagliatelle // snake_case for config file
}

// Allocator names accepted by Config.Allocator.
const (
	AllocatorHeap  = "heap"
	AllocatorLimit = "limit"
	AllocatorMmap  = "mmap"
)

// Hasher names accepted by Config.Hasher.
const (
	HasherDefault = "default"
	HasherXXH3    = "xxh3"
	HasherXXHash  = "xxhash"
)

// DefaultMix is the operation mix used when none is configured.
const DefaultMix = "insert:30,find:30,erase:10,extract:5,reinsert:5,index:10,assign:10"

var (
	errConfigInvalid   = errors.New("invalid config")
	errConfigRead      = errors.New("cannot read config file")
	errUnknownOp       = errors.New("unknown operation")
	errBadWeight       = errors.New("operation weight must be a non-negative integer")
	errEmptyMix        = errors.New("operation mix has no positive weight")
	errUnknownAlloc    = errors.New("unknown allocator")
	errUnknownHasher   = errors.New("unknown hasher")
	errBadLoadFactor   = errors.New("max_load_factor must be a positive finite number")
	errBadKeys         = errors.New("keys must be positive")
	errBadOps          = errors.New("ops must not be negative")
	errBadLimitBytes   = errors.New("limit_bytes must not be negative")
	errUnknownLogLevel = errors.New("unknown log level")
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Keys:          100_000,
		Ops:           1_000_000,
		Mix:           DefaultMix,
		MaxLoadFactor: 1.0,
		Allocator:     AllocatorHeap,
		Hasher:        HasherDefault,
		Seed:          1,
		LogLevel:      "info",
	}
}

// LoadConfig builds a Config with the following precedence (highest wins):
// 1. Defaults
// 2. The JSONC file at path (if non-empty)
// 3. override, typically applying the command line flags that were set.
func LoadConfig(path string, override func(*Config)) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
		if err != nil {
			return Config{}, errors.Wrapf(errConfigRead, "%s: %v", path, err)
		}
		if err := parseConfig(data, &cfg); err != nil {
			return Config{}, errors.WithMessagef(err, "%s", path)
		}
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseConfig decodes JSONC on top of the values already in cfg, so keys
// missing from the file keep their current value.
func parseConfig(data []byte, cfg *Config) error {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return errors.Wrap(errConfigInvalid, "invalid JSONC: "+err.Error())
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return errors.Wrap(errConfigInvalid, err.Error())
	}
	return nil
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	switch {
	case c.Keys <= 0:
		return errors.WithStack(errBadKeys)
	case c.Ops < 0:
		return errors.WithStack(errBadOps)
	case !(c.MaxLoadFactor > 0) || math.IsInf(c.MaxLoadFactor, 0):
		return errors.WithStack(errBadLoadFactor)
	case c.LimitBytes < 0:
		return errors.WithStack(errBadLimitBytes)
	}
	switch c.Allocator {
	case AllocatorHeap, AllocatorLimit, AllocatorMmap:
	default:
		return errors.Wrapf(errUnknownAlloc, "%q", c.Allocator)
	}
	switch c.Hasher {
	case HasherDefault, HasherXXH3, HasherXXHash:
	default:
		return errors.Wrapf(errUnknownHasher, "%q", c.Hasher)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	_, err := ParseMix(c.Mix)
	return err
}

// Op is one kind of table operation the workload issues.
type Op string

// Operations understood by ParseMix.
const (
	OpInsert   Op = "insert"
	OpFind     Op = "find"
	OpErase    Op = "erase"
	OpExtract  Op = "extract"
	OpReinsert Op = "reinsert"
	OpIndex    Op = "index"
	OpAssign   Op = "assign"
	OpReserve  Op = "reserve"
)

var knownOps = map[Op]bool{
	OpInsert: true, OpFind: true, OpErase: true, OpExtract: true,
	OpReinsert: true, OpIndex: true, OpAssign: true, OpReserve: true,
}

// Mix is a weighted set of operations.
type Mix struct {
	ops     []Op
	weights []int
	total   int
}

// ParseMix parses "op:weight,op:weight". An op without a weight counts 1.
func ParseMix(s string) (Mix, error) {
	weights := make(map[Op]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, w, hasWeight := strings.Cut(part, ":")
		op := Op(strings.ToLower(strings.TrimSpace(name)))
		if !knownOps[op] {
			return Mix{}, errors.Wrapf(errUnknownOp, "%q", name)
		}
		n := 1
		if hasWeight {
			v, err := strconv.Atoi(strings.TrimSpace(w))
			if err != nil || v < 0 {
				return Mix{}, errors.Wrapf(errBadWeight, "%q", part)
			}
			n = v
		}
		weights[op] += n
	}
	var m Mix
	for op, w := range weights {
		if w > 0 {
			m.ops = append(m.ops, op)
		}
	}
	if len(m.ops) == 0 {
		return Mix{}, errors.WithStack(errEmptyMix)
	}
	sort.Slice(m.ops, func(i, j int) bool { return m.ops[i] < m.ops[j] })
	m.weights = make([]int, len(m.ops))
	for i, op := range m.ops {
		m.weights[i] = weights[op]
		m.total += weights[op]
	}
	return m, nil
}

// Pick maps r in [0, total) to an operation.
func (m Mix) Pick(r int) Op {
	for i, w := range m.weights {
		if r < w {
			return m.ops[i]
		}
		r -= w
	}
	return m.ops[len(m.ops)-1]
}

// Total returns the sum of all weights.
func (m Mix) Total() int { return m.total }

// Weight returns the weight of op, zero if absent.
func (m Mix) Weight(op Op) int {
	for i, o := range m.ops {
		if o == op {
			return m.weights[i]
		}
	}
	return 0
}
