package workload

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/llxisdsh/umap"
)

// maxHeld bounds the number of extracted entries waiting to be reinserted.
const maxHeld = 64

var errMismatch = errors.New("table disagrees with model")

// Report summarizes a finished run.
type Report struct {
	Config        Config           `json:"config"`
	Counts        map[Op]int       `json:"counts"`
	Hits          int              `json:"hits"`
	Misses        int              `json:"misses"`
	AllocFailures int              `json:"alloc_failures"`
	Elapsed       time.Duration    `json:"elapsed_ns"`
	OpsPerSec     float64          `json:"ops_per_sec"`
	// PeakBytes is the high-water mark of the limit allocator, or the bytes
	// held from the mmap allocator when the run ends.
	PeakBytes     int              `json:"peak_bytes,omitempty"`
	Stats         *umap.TableStats `json:"stats"`
}

// ParseLogLevel maps a level name to a zerolog level. An empty name is
// info.
func ParseLogLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(errUnknownLogLevel, "%q", s)
	}
	return l, nil
}

// Run executes cfg.Ops operations drawn from cfg.Mix over cfg.Keys distinct
// string keys and verifies the table against a Go map after every
// operation and once more at the end.
//
// Allocation failures raised by the table are counted, not fatal: the
// table must be unchanged after each of them, which the model check
// confirms.
func Run(cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Hasher {
	case HasherXXH3:
		return runWith(cfg, umap.StringHasher{}, findAs[umap.StringHasher])
	case HasherXXHash:
		return runWith(cfg, umap.XXHashStringHasher{}, findAs[umap.XXHashStringHasher])
	default:
		return runWith[umap.DefaultHasher[string]](cfg, umap.NewDefaultHasher[string](), nil)
	}
}

func findAs[H umap.TransparentHasher[string, []byte]](m *umap.Table[string, int, H], q []byte) (int, bool) {
	it := umap.FindAs(m, q)
	if it.IsEnd() {
		return 0, false
	}
	return it.Value(), true
}

func newAllocator(cfg Config) (umap.Allocator, umap.AllocatorPolicy, func() int) {
	switch cfg.Allocator {
	case AllocatorLimit:
		a := umap.NewLimitAllocator(cfg.LimitBytes)
		return a, umap.AllocatorPolicy{}, a.Peak
	case AllocatorMmap:
		a := umap.NewMmapAllocator()
		return a, umap.AllocatorPolicy{}, func() int { return a.Mapped() + a.NodeBytes() }
	default:
		return umap.HeapAllocator{}, umap.DefaultAllocatorPolicy, nil
	}
}

type runner[H umap.Hasher[string]] struct {
	cfg       Config
	mix       Mix
	rng       *rand.Rand
	m         *umap.Table[string, int, H]
	findBytes func(m *umap.Table[string, int, H], q []byte) (int, bool)
	model     map[string]int
	keys      []string
	held      []*umap.NodeHandle[string, int]
	rep       *Report
	peak      func() int
}

func runWith[H umap.Hasher[string]](
	cfg Config,
	hasher H,
	findBytes func(m *umap.Table[string, int, H], q []byte) (int, bool),
) (*Report, error) {
	mix, err := ParseMix(cfg.Mix)
	if err != nil {
		return nil, err
	}
	alloc, policy, peak := newAllocator(cfg)
	options := []func(*umap.Config){
		umap.WithMaxLoadFactor(cfg.MaxLoadFactor),
		umap.WithAllocator(alloc, policy),
		umap.WithSeed(cfg.Seed),
	}
	if cfg.Presize {
		options = append(options, umap.WithPresize(cfg.Keys))
	}
	m, err := newTable(hasher, options)
	if err != nil {
		return nil, err
	}
	defer m.Release()

	r := &runner[H]{
		cfg:       cfg,
		mix:       mix,
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9E3779B97F4A7C15)),
		m:         m,
		findBytes: findBytes,
		model:     make(map[string]int, cfg.Keys),
		keys:      make([]string, cfg.Keys),
		rep:       &Report{Config: cfg, Counts: make(map[Op]int)},
		peak:      peak,
	}
	for i := range r.keys {
		r.keys[i] = "key-" + strconv.Itoa(i)
	}

	log.Debug().
		Str("hasher", cfg.Hasher).
		Str("allocator", cfg.Allocator).
		Int("keys", cfg.Keys).
		Int("ops", cfg.Ops).
		Int("buckets", m.BucketCount()).
		Msg("workload starting")

	start := time.Now()
	step := max(cfg.Ops/10, 1)
	for i := 0; i < cfg.Ops; i++ {
		op := mix.Pick(r.rng.IntN(mix.Total()))
		if err := r.do(op); err != nil {
			return nil, errors.WithMessagef(err, "op %d (%s)", i, op)
		}
		r.rep.Counts[op]++
		if (i+1)%step == 0 {
			log.Debug().
				Int("done", i+1).
				Int("size", m.Size()).
				Int("buckets", m.BucketCount()).
				Float64("load_factor", m.LoadFactor()).
				Msg("progress")
		}
	}
	for len(r.held) > 0 {
		failed, err := r.guard(r.reinsert)
		if err != nil {
			return nil, err
		}
		if failed {
			log.Warn().Int("dropped", len(r.held)).Msg("no room to reinsert extracted entries")
			for _, nh := range r.held {
				nh.Reset()
			}
			r.held = nil
		}
	}
	r.rep.Elapsed = time.Since(start)
	if s := r.rep.Elapsed.Seconds(); s > 0 {
		r.rep.OpsPerSec = float64(cfg.Ops) / s
	}

	if diff := cmp.Diff(r.model, umap.ToMap(m)); diff != "" {
		return nil, errors.Wrapf(errMismatch, "final contents (-model +table):\n%s", diff)
	}
	r.rep.Stats = m.Stats()
	if r.peak != nil {
		r.rep.PeakBytes = r.peak()
	}

	log.Info().
		Int("size", m.Size()).
		Int("alloc_failures", r.rep.AllocFailures).
		Dur("elapsed", r.rep.Elapsed).
		Float64("ops_per_sec", r.rep.OpsPerSec).
		Msg("workload finished")
	return r.rep, nil
}

// newTable turns the *AllocError panic of a failed construction into an
// error.
func newTable[H umap.Hasher[string]](hasher H, options []func(*umap.Config)) (m *umap.Table[string, int, H], err error) {
	defer func() {
		if v := recover(); v != nil {
			ae, ok := v.(*umap.AllocError)
			if !ok {
				panic(v)
			}
			err = errors.WithMessage(ae, "create table")
		}
	}()
	return umap.NewWithHasher[string, int](hasher, options...), nil
}

// guard runs f and counts an *AllocError panic as a failed operation.
func (r *runner[H]) guard(f func() error) (failed bool, err error) {
	defer func() {
		if v := recover(); v != nil {
			ae, ok := v.(*umap.AllocError)
			if !ok {
				panic(v)
			}
			r.rep.AllocFailures++
			log.Debug().Err(ae).Int("size", r.m.Size()).Msg("allocation refused")
			failed = true
		}
	}()
	return false, f()
}

func (r *runner[H]) key() string {
	return r.keys[r.rng.IntN(len(r.keys))]
}

func (r *runner[H]) do(op Op) error {
	k := r.key()
	failed, err := r.guard(func() error {
		switch op {
		case OpInsert:
			return r.insert(k)
		case OpFind:
			return r.find(k)
		case OpErase:
			return r.erase(k)
		case OpExtract:
			return r.extract(k)
		case OpReinsert:
			return r.reinsert()
		case OpIndex:
			*r.m.Index(k)++
			r.model[k]++
			return nil
		case OpAssign:
			v := r.rng.Int()
			r.m.InsertOrAssign(k, v)
			r.model[k] = v
			return nil
		case OpReserve:
			if err := r.m.Reserve(r.m.Size() + len(r.keys)/8); err != nil {
				if !errors.Is(err, umap.ErrAllocation) {
					return err
				}
				r.rep.AllocFailures++
			}
			return nil
		}
		return errors.Wrapf(errUnknownOp, "%q", op)
	})
	if err != nil {
		return err
	}
	if failed && op == OpReinsert {
		log.Debug().Int("held", len(r.held)).Msg("reinsert postponed")
	}
	return r.check(k)
}

func (r *runner[H]) insert(k string) error {
	v := r.rng.Int()
	it, inserted := r.m.Insert(k, v)
	want, present := r.model[k]
	switch {
	case inserted == present:
		return errors.Wrapf(errMismatch, "insert %q: inserted %v, model has it %v", k, inserted, present)
	case !inserted && it.Value() != want:
		return errors.Wrapf(errMismatch, "insert %q kept %d, want %d", k, it.Value(), want)
	}
	if inserted {
		r.model[k] = v
	}
	return nil
}

func (r *runner[H]) find(k string) error {
	var (
		v  int
		ok bool
	)
	if r.findBytes != nil && r.rng.IntN(2) == 0 {
		v, ok = r.findBytes(r.m, []byte(k))
	} else {
		v, ok = r.m.Load(k)
	}
	want, present := r.model[k]
	if ok != present || v != want {
		return errors.Wrapf(errMismatch, "find %q got %d %v, want %d %v", k, v, ok, want, present)
	}
	if ok {
		r.rep.Hits++
	} else {
		r.rep.Misses++
	}
	return nil
}

func (r *runner[H]) erase(k string) error {
	n := r.m.Erase(k)
	_, present := r.model[k]
	if (n == 1) != present {
		return errors.Wrapf(errMismatch, "erase %q removed %d, model has it %v", k, n, present)
	}
	delete(r.model, k)
	return nil
}

func (r *runner[H]) extract(k string) error {
	nh := r.m.Extract(k)
	want, present := r.model[k]
	if nh.Empty() == present {
		return errors.Wrapf(errMismatch, "extract %q empty %v, model has it %v", k, nh.Empty(), present)
	}
	if nh.Empty() {
		return nil
	}
	if nh.Mapped() != want {
		return errors.Wrapf(errMismatch, "extract %q got %d, want %d", k, nh.Mapped(), want)
	}
	delete(r.model, k)
	r.held = append(r.held, &nh)
	if len(r.held) > maxHeld {
		return r.reinsert()
	}
	return nil
}

// reinsert hands the oldest extracted entry back to the table. An entry
// whose key was inserted again in the meantime is dropped.
func (r *runner[H]) reinsert() error {
	if len(r.held) == 0 {
		return nil
	}
	nh := r.held[0]
	k, v := nh.Key(), nh.Mapped()
	_, present := r.model[k]
	_, inserted := r.m.InsertNode(nh)
	if inserted == present || nh.Empty() != inserted {
		return errors.Wrapf(errMismatch, "reinsert %q: inserted %v, model has it %v", k, inserted, present)
	}
	r.held[0] = nil
	r.held = r.held[1:]
	if inserted {
		r.model[k] = v
	} else {
		nh.Reset()
	}
	return nil
}

// check compares the entry for k and the size with the model.
func (r *runner[H]) check(k string) error {
	if r.m.Size() != len(r.model) {
		return errors.Wrapf(errMismatch, "size %d, model %d", r.m.Size(), len(r.model))
	}
	v, ok := r.m.Load(k)
	want, present := r.model[k]
	if ok != present || v != want {
		return errors.Wrapf(errMismatch, "entry %q is %d %v, want %d %v", k, v, ok, want, present)
	}
	return nil
}
