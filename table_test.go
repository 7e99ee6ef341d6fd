package umap

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	testDataSmall [8]string
	testData      [128]string
	testDataLarge [128 << 10]string
)

func init() {
	for i := range testDataSmall {
		testDataSmall[i] = fmt.Sprintf("%b", i)
	}
	for i := range testData {
		testData[i] = fmt.Sprintf("%b", i)
	}
	for i := range testDataLarge {
		testDataLarge[i] = fmt.Sprintf("%b", i)
	}
}

// catchPanic runs f and returns the value it panicked with, if any.
func catchPanic(f func()) (r any) {
	defer func() {
		r = recover()
	}()
	f()
	return nil
}

func expectPanic(t *testing.T, substr string, f func()) {
	t.Helper()
	r := catchPanic(f)
	if r == nil {
		t.Fatalf("expected panic containing %q", substr)
	}
	if !strings.Contains(fmt.Sprint(r), substr) {
		t.Fatalf("unexpected panic: %v", r)
	}
}

func TestTable_BasicOperations(t *testing.T) {
	m := New[int, int]()
	if _, ok := m.Load(1); ok {
		t.Fatalf("expected empty")
	}
	m.Store(1, 42)
	if v, ok := m.Load(1); !ok || v != 42 {
		t.Fatalf("load got %v %v", v, ok)
	}
	m.Store(1, 43)
	if v, ok := m.Load(1); !ok || v != 43 {
		t.Fatalf("load2 got %v %v", v, ok)
	}
	m.Delete(1)
	if _, ok := m.Load(1); ok {
		t.Fatalf("expected deleted")
	}
	if !m.IsZero() || !m.Empty() || m.Size() != 0 {
		t.Fatalf("expected empty table, size %d", m.Size())
	}
}

func TestTable_ConcreteScenario(t *testing.T) {
	m := New[int, int]()
	m.InsertOrAssign(5, 60)
	m.InsertOrAssign(7, 70)
	m.InsertOrAssign(3, 40)
	m.TryEmplace(3, func() int { return 30 })

	if m.Size() != 3 {
		t.Fatalf("size got %d", m.Size())
	}
	if v, err := m.At(3); err != nil || v != 40 {
		t.Fatalf("at(3) got %v %v", v, err)
	}
	if m.Contains(2) {
		t.Fatalf("contains(2) should be false")
	}
	if c := m.Count(7); c != 1 {
		t.Fatalf("count(7) got %d", c)
	}
}

func TestTable_ExtractReinsertRoundTrip(t *testing.T) {
	a := New[int, int]()
	b := New[int, int]()
	keys := []int{1, 3, 4}
	values := []int{10, 30, 40}
	for i, k := range keys {
		a.Insert(k, values[i])
	}

	for i, k := range keys {
		sizeA, sizeB := a.Size(), b.Size()
		nh := a.Extract(k)
		if nh.Empty() || nh.Key() != k || nh.Mapped() != values[i] {
			t.Fatalf("extract(%d) got empty=%v", k, nh.Empty())
		}
		it, inserted := b.InsertNode(&nh)
		if !inserted || !nh.Empty() {
			t.Fatalf("insert node %d: inserted=%v empty=%v", k, inserted, nh.Empty())
		}
		if it.Key() != k || it.Value() != values[i] {
			t.Fatalf("iterator got %v:%v", it.Key(), it.Value())
		}
		if a.Contains(k) || a.Size() != sizeA-1 || b.Size() != sizeB+1 {
			t.Fatalf("sizes after move of %d: %d %d", k, a.Size(), b.Size())
		}
	}
	want := map[int]int{1: 10, 3: 30, 4: 40}
	if diff := cmp.Diff(want, ToMap(b)); diff != "" {
		t.Fatalf("b mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_InsertNodeConflictKeepsHandle(t *testing.T) {
	a := New[int, string]()
	b := New[int, string]()
	a.Insert(1, "from a")
	b.Insert(1, "from b")

	nh := a.Extract(1)
	it, inserted := b.InsertNode(&nh)
	if inserted {
		t.Fatalf("conflicting node must not be inserted")
	}
	if nh.Empty() || nh.Mapped() != "from a" {
		t.Fatalf("handle lost its entry")
	}
	if it.Value() != "from b" || b.Size() != 1 {
		t.Fatalf("b changed: %v size %d", it.Value(), b.Size())
	}

	nh.SetKey(2)
	if _, inserted = b.InsertNode(&nh); !inserted {
		t.Fatalf("renamed node should insert")
	}
	if v, _ := b.At(2); v != "from a" {
		t.Fatalf("at(2) got %q", v)
	}

	var empty NodeHandle[int, string]
	if it, inserted := b.InsertNode(&empty); inserted || !it.IsEnd() {
		t.Fatalf("empty handle must yield end,false")
	}
	if nh := a.Extract(42); !nh.Empty() {
		t.Fatalf("extract of missing key must be empty")
	}
}

func TestTable_ExtractAt(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 10; i++ {
		m.Insert(i, i*i)
	}
	other := m.Find(3)
	it := m.Find(4)
	nh := m.ExtractAt(it)
	if nh.Key() != 4 || nh.Mapped() != 16 || m.Size() != 9 {
		t.Fatalf("extract at got %v:%v size %d", nh.Key(), nh.Mapped(), m.Size())
	}
	if other.Key() != 3 {
		t.Fatalf("other iterator moved")
	}
	expectPanic(t, "erased entry", func() { it.Key() })
}

func TestTable_Uniqueness(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	m := New[int, int](WithBucketCount(1))
	model := make(map[int]int)
	for i := 0; i < 20000; i++ {
		k := r.IntN(512)
		switch r.IntN(6) {
		case 0:
			if _, inserted := m.Insert(k, i); inserted == hasKey(model, k) {
				t.Fatalf("insert %d inserted=%v", k, inserted)
			}
			if !hasKey(model, k) {
				model[k] = i
			}
		case 1:
			m.InsertOrAssign(k, i)
			model[k] = i
		case 2:
			m.TryEmplace(k, func() int { return i })
			if !hasKey(model, k) {
				model[k] = i
			}
		case 3:
			*m.Index(k) += 1
			model[k] += 1
		case 4:
			want := 0
			if hasKey(model, k) {
				want = 1
			}
			if n := m.Erase(k); n != want {
				t.Fatalf("erase %d got %d", k, n)
			}
			delete(model, k)
		case 5:
			nh := m.Extract(k)
			if nh.Empty() == hasKey(model, k) {
				t.Fatalf("extract %d empty=%v", k, nh.Empty())
			}
			if !nh.Empty() {
				m.InsertNode(&nh)
			}
		}
	}
	if diff := cmp.Diff(model, ToMap(m)); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
	seen := make(map[int]bool)
	for it := m.Begin(); !it.IsEnd(); it = it.Next() {
		if seen[it.Key()] {
			t.Fatalf("key %d visited twice", it.Key())
		}
		seen[it.Key()] = true
	}
	if len(seen) != m.Size() {
		t.Fatalf("iteration visited %d of %d", len(seen), m.Size())
	}
}

func hasKey(m map[int]int, k int) bool {
	_, ok := m[k]
	return ok
}

func TestTable_FirstWriteWins(t *testing.T) {
	m := New[string, int]()
	if _, inserted := m.Insert("k", 1); !inserted {
		t.Fatalf("first insert should insert")
	}
	it, inserted := m.Insert("k", 2)
	if inserted || it.Value() != 1 {
		t.Fatalf("second insert got %v %v", it.Value(), inserted)
	}
	if _, inserted := m.Emplace("k", 3); inserted {
		t.Fatalf("emplace over existing key inserted")
	}
	if v, _ := m.At("k"); v != 1 {
		t.Fatalf("value got %d", v)
	}
	if v, loaded := m.LoadOrStore("k", 9); !loaded || v != 1 {
		t.Fatalf("load or store got %v %v", v, loaded)
	}
}

func TestTable_AssignOverwrites(t *testing.T) {
	m := New[string, int]()
	if _, inserted := m.InsertOrAssign("k", 1); !inserted {
		t.Fatalf("first assign should insert")
	}
	it, inserted := m.InsertOrAssign("k", 2)
	if inserted || it.Value() != 2 {
		t.Fatalf("second assign got %v %v", it.Value(), inserted)
	}
	if v, _ := m.At("k"); v != 2 {
		t.Fatalf("value got %d", v)
	}
}

type countingValue struct {
	n int
}

func TestTable_TryEmplaceIsLazy(t *testing.T) {
	m := New[int, countingValue]()
	calls := 0
	build := func() countingValue {
		calls++
		return countingValue{n: calls}
	}
	m.TryEmplace(1, build)
	it, inserted := m.TryEmplace(1, build)
	if inserted || calls != 1 || it.Value().n != 1 {
		t.Fatalf("try emplace got inserted=%v calls=%d", inserted, calls)
	}

	// A panicking constructor for a present key is never reached.
	m.TryEmplace(1, func() countingValue { panic("must not run") })

	// A panicking constructor for an absent key leaves the table untouched.
	r := catchPanic(func() {
		m.TryEmplace(2, func() countingValue { panic("boom") })
	})
	if r != "boom" || m.Contains(2) || m.Size() != 1 {
		t.Fatalf("panic %v, size %d", r, m.Size())
	}
	if _, inserted := m.TryEmplace(3, nil); !inserted || m.Find(3).Value().n != 0 {
		t.Fatalf("nil constructor should insert the zero value")
	}
}

func TestTable_IndexDefaultConstructs(t *testing.T) {
	m := New[string, []string]()
	p := m.Index("a")
	if p == nil || *p != nil || m.Size() != 1 {
		t.Fatalf("index got %v size %d", p, m.Size())
	}
	*p = append(*p, "x")
	*m.Index("a") = append(*m.Index("a"), "y")
	if diff := cmp.Diff([]string{"x", "y"}, *p); diff != "" {
		t.Fatalf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestTable_AtMissing(t *testing.T) {
	m := New[int, int]()
	m.Insert(1, 1)
	if _, err := m.At(2); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("at(2) error got %v", err)
	}
	if p, err := m.AtPtr(2); p != nil || !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("atptr(2) got %v %v", p, err)
	}
	if m.Size() != 1 {
		t.Fatalf("at must not mutate")
	}
	p, err := m.AtPtr(1)
	if err != nil {
		t.Fatalf("atptr(1) error %v", err)
	}
	*p = 5
	if v, _ := m.At(1); v != 5 {
		t.Fatalf("write through atptr got %d", v)
	}
}

func TestTable_LoadFactorInvariant(t *testing.T) {
	for _, mlf := range []float64{0.25, 0.5, 1, 2.5} {
		m := New[int, int](WithMaxLoadFactor(mlf), WithBucketCount(1))
		for i := 0; i < 5000; i++ {
			m.Insert(i, i)
			if lf := m.LoadFactor(); lf > m.MaxLoadFactor() {
				t.Fatalf("mlf %v: load factor %v after %d inserts, buckets %d",
					mlf, lf, i+1, m.BucketCount())
			}
		}
	}
}

func TestTable_TightenMaxLoadFactorNotRetroactive(t *testing.T) {
	m := New[int, int](WithBucketCount(16))
	for i := 0; i < 16; i++ {
		m.Insert(i, i)
	}
	m.SetMaxLoadFactor(0.25)
	if m.BucketCount() != 16 {
		t.Fatalf("setter must not rehash, buckets %d", m.BucketCount())
	}
	m.Insert(100, 100)
	if lf := m.LoadFactor(); lf > 0.25 {
		t.Fatalf("next insert must restore the bound, load factor %v", lf)
	}
	expectPanic(t, "max load factor", func() { m.SetMaxLoadFactor(0) })
	expectPanic(t, "max load factor", func() { m.SetMaxLoadFactor(-1) })
}

func TestTable_IteratorStability(t *testing.T) {
	m := New[int, int](WithPresize(100))
	m.Insert(1, 10)
	it := m.Find(1)
	bc := m.BucketCount()
	for i := 2; i <= 50; i++ {
		m.Insert(i, i)
	}
	if m.BucketCount() != bc {
		t.Fatalf("presized table rehashed: %d -> %d", bc, m.BucketCount())
	}
	if it.Key() != 1 || it.Value() != 10 {
		t.Fatalf("iterator got %v:%v", it.Key(), it.Value())
	}
}

func TestTable_IteratorInvalidation(t *testing.T) {
	t.Run("Rehash", func(t *testing.T) {
		m := New[int, int]()
		m.Insert(0, 0)
		it := m.Find(0)
		bc := m.BucketCount()
		for i := 1; m.BucketCount() == bc; i++ {
			m.Insert(i, i)
		}
		if it.Valid() {
			t.Fatalf("iterator survived a rehash")
		}
		expectPanic(t, "invalidated", func() { it.Key() })
	})
	t.Run("Erase", func(t *testing.T) {
		m := New[int, int]()
		for i := 0; i < 10; i++ {
			m.Insert(i, i)
		}
		it1, it2 := m.Find(1), m.Find(2)
		m.Erase(1)
		if it2.Key() != 2 {
			t.Fatalf("unrelated iterator broken")
		}
		expectPanic(t, "erased entry", func() { it1.Value() })

		// The released slot is reused; the stale iterator must still fail.
		m.Insert(100, 100)
		expectPanic(t, "erased entry", func() { it1.Value() })
	})
	t.Run("Clear", func(t *testing.T) {
		m := New[int, int]()
		m.Insert(1, 1)
		it := m.Find(1)
		bc := m.BucketCount()
		m.Clear()
		if m.Size() != 0 || m.BucketCount() != bc {
			t.Fatalf("clear: size %d buckets %d", m.Size(), m.BucketCount())
		}
		expectPanic(t, "invalidated", func() { it.Key() })
	})
	t.Run("RehashAndReserve", func(t *testing.T) {
		m := New[int, int]()
		m.Insert(1, 1)
		it := m.Find(1)
		if err := m.Rehash(m.BucketCount()); err != nil {
			t.Fatal(err)
		}
		expectPanic(t, "invalidated", func() { it.Key() })
		it = m.Find(1)
		if err := m.Reserve(1); err != nil {
			t.Fatal(err)
		}
		expectPanic(t, "invalidated", func() { it.Key() })
	})
	t.Run("End", func(t *testing.T) {
		m := New[int, int]()
		expectPanic(t, "end iterator", func() { m.End().Key() })
		expectPanic(t, "end iterator", func() { m.Find(1).Next() })
	})
	t.Run("ForeignIterator", func(t *testing.T) {
		a, b := New[int, int](), New[int, int]()
		a.Insert(1, 1)
		expectPanic(t, "another table", func() { b.EraseAt(a.Find(1)) })
		expectPanic(t, "another table", func() { b.ExtractAt(a.Find(1)) })
	})
}

func TestTable_ValuePointerSurvivesRehash(t *testing.T) {
	m := New[int, int](WithBucketCount(1))
	p := m.Index(1)
	*p = 5
	for i := 2; i < 10000; i++ {
		m.Insert(i, i)
	}
	if m.Stats().Rehashes == 0 {
		t.Fatalf("expected rehashes")
	}
	if *p != 5 {
		t.Fatalf("pointer got %d", *p)
	}
	*p = 7
	if v, _ := m.At(1); v != 7 {
		t.Fatalf("at(1) got %d", v)
	}
}

func TestTable_EraseAtWalk(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 1000; i++ {
		m.Insert(i, i)
	}
	for it := m.Begin(); !it.IsEnd(); {
		if it.Key()%2 == 0 {
			it = m.EraseAt(it)
		} else {
			it = it.Next()
		}
	}
	if m.Size() != 500 {
		t.Fatalf("size got %d", m.Size())
	}
	for i := 0; i < 1000; i++ {
		if m.Contains(i) != (i%2 == 1) {
			t.Fatalf("contains(%d) got %v", i, m.Contains(i))
		}
	}
}

func TestTable_EqualRange(t *testing.T) {
	m := New[int, int]()
	m.Insert(1, 1)
	first, last := m.EqualRange(1)
	if first.Key() != 1 || !first.Next().Equal(last) {
		t.Fatalf("equal range of present key")
	}
	first, last = m.EqualRange(2)
	if !first.IsEnd() || !first.Equal(last) || !first.Equal(m.End()) {
		t.Fatalf("equal range of absent key must be empty")
	}
}

func TestTable_RehashAndReserve(t *testing.T) {
	m := New[int, int]()
	if err := m.Rehash(0); err != nil || m.BucketCount() != 1 {
		t.Fatalf("rehash(0) on empty table got %d %v", m.BucketCount(), err)
	}
	if err := m.Rehash(100); err != nil || m.BucketCount() != 128 {
		t.Fatalf("rehash(100) got %d %v", m.BucketCount(), err)
	}
	for i := 0; i < 10; i++ {
		m.Insert(i, i)
	}
	if err := m.Rehash(1); err != nil || m.BucketCount() != 16 {
		t.Fatalf("rehash(1) with 10 entries got %d %v", m.BucketCount(), err)
	}

	m = New[int, int]()
	if err := m.Reserve(1000); err != nil {
		t.Fatal(err)
	}
	rehashes := m.Stats().Rehashes
	bc := m.BucketCount()
	for i := 0; i < 1000; i++ {
		m.Insert(i, i)
	}
	if m.Stats().Rehashes != rehashes || m.BucketCount() != bc {
		t.Fatalf("reserved table rehashed")
	}
	if err := m.Reserve(10); err != nil || m.BucketCount() != bc {
		t.Fatalf("reserve must not shrink")
	}
}

func TestTable_BucketInterface(t *testing.T) {
	m := New[int, int](WithBucketCount(8))
	for i := 0; i < 8; i++ {
		m.Insert(i, i)
	}
	total := 0
	for i := 0; i < m.BucketCount(); i++ {
		total += m.BucketSize(i)
	}
	if total != m.Size() {
		t.Fatalf("bucket sizes sum to %d, size %d", total, m.Size())
	}
	for i := 0; i < 8; i++ {
		b := m.Bucket(i)
		if b != int(m.HashFunction()(i)%uintptr(m.BucketCount())) {
			t.Fatalf("bucket(%d) got %d", i, b)
		}
	}
	if !m.KeyEq()(3, 3) || m.KeyEq()(3, 4) {
		t.Fatalf("key eq")
	}
	if m.MaxBucketCount() < m.BucketCount() {
		t.Fatalf("max bucket count")
	}
}

func TestTable_BadHash(t *testing.T) {
	const numEntries = 1000
	m := NewWithFuncs[int, int](func(int, uintptr) uintptr {
		// We intentionally use an awful hash function here to make sure
		// that the table copes with key collisions.
		return 42
	}, func(a, b int) bool { return a == b }, WithPresize(numEntries))
	for i := 0; i < numEntries; i++ {
		m.Store(i, i)
	}
	for i := 0; i < numEntries; i++ {
		v, ok := m.Load(i)
		if !ok || v != i {
			t.Fatalf("value for %d got %v %v", i, v, ok)
		}
	}
	if s := m.Stats(); s.MaxChain != numEntries {
		t.Fatalf("max chain got %d", s.MaxChain)
	}
	for i := 0; i < numEntries; i += 2 {
		m.Erase(i)
	}
	if m.Size() != numEntries/2 {
		t.Fatalf("size got %d", m.Size())
	}
}

func TestTable_PanickingHasher(t *testing.T) {
	m := NewWithFuncs[int, int](func(k int, seed uintptr) uintptr {
		if k == 13 {
			panic("unlucky")
		}
		return mixInt(uintptr(k), seed)
	}, func(a, b int) bool { return a == b }, WithBucketCount(1))
	for i := 0; i < 8; i++ {
		m.Insert(i, i)
	}
	before := ToMap(m)
	bc := m.BucketCount()
	for _, f := range []func(){
		func() { m.Insert(13, 13) },
		func() { m.InsertOrAssign(13, 13) },
		func() { m.TryEmplace(13, nil) },
		func() { m.Index(13) },
		func() { m.Erase(13) },
		func() { m.Extract(13) },
	} {
		if r := catchPanic(f); r != "unlucky" {
			t.Fatalf("panic got %v", r)
		}
	}
	if diff := cmp.Diff(before, ToMap(m)); diff != "" || m.BucketCount() != bc {
		t.Fatalf("table changed (-want +got):\n%s", diff)
	}
}

func TestTable_PanickingKeyEq(t *testing.T) {
	type unlucky struct{ key int }
	m := NewWithFuncs[int, int](func(int, uintptr) uintptr {
		return 7
	}, func(a, b int) bool {
		if a == 13 || b == 13 {
			panic(unlucky{13})
		}
		return a == b
	})
	for i := 0; i < 8; i++ {
		m.Insert(i, i*10)
	}
	before := ToMap(m)
	bc := m.BucketCount()
	for _, f := range []func(){
		func() { m.Insert(13, 13) },
		func() { m.InsertOrAssign(13, 13) },
		func() { m.TryEmplace(13, func() int { t.Fatalf("value built before the lookup"); return 0 }) },
		func() { m.Index(13) },
		func() { m.Erase(13) },
		func() { m.Extract(13) },
	} {
		if r := catchPanic(f); r != (unlucky{13}) {
			t.Fatalf("panic got %v", r)
		}
	}
	if diff := cmp.Diff(before, ToMap(m)); diff != "" {
		t.Fatalf("table changed (-want +got):\n%s", diff)
	}
	if m.Size() != 8 || m.BucketCount() != bc {
		t.Fatalf("size %d buckets %d, want 8 %d", m.Size(), m.BucketCount(), bc)
	}
	m.Insert(8, 80)
	if v, ok := m.Load(8); !ok || v != 80 {
		t.Fatalf("load after panics got %v %v", v, ok)
	}
}

func TestTable_IteratorLiveness(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 10; i++ {
		m.Insert(i, i)
	}
	it := m.Find(4)
	if !it.Valid() || !it.s.at(it.ref).live {
		t.Fatalf("iterator to a present key must be valid")
	}
	ref := it.ref
	m.Erase(4)
	if it.Valid() || m.s.at(ref).live {
		t.Fatalf("released slot must not be live")
	}
	expectPanic(t, "erased entry", func() { it.Key() })

	// The next insertion reuses the freed slot.
	it2, _ := m.Insert(100, 100)
	if it2.ref != ref || !m.s.at(ref).live {
		t.Fatalf("slot %d not reused, got %d", ref, it2.ref)
	}
	if it.Valid() || !it2.Valid() {
		t.Fatalf("stale iterator must stay invalid after slot reuse")
	}

	m.Clear()
	if m.s.at(ref).live || it2.Valid() {
		t.Fatalf("clear must release every slot")
	}
}

func TestTable_StructKeys(t *testing.T) {
	type point struct {
		x, y int32
		name string
	}
	m := New[point, int]()
	for i := 0; i < 100; i++ {
		m.Insert(point{int32(i), int32(-i), fmt.Sprint(i)}, i)
	}
	for i := 0; i < 100; i++ {
		if v, ok := m.Load(point{int32(i), int32(-i), fmt.Sprint(i)}); !ok || v != i {
			t.Fatalf("load %d got %v %v", i, v, ok)
		}
	}
	if m.Contains(point{1, 1, "1"}) {
		t.Fatalf("unexpected key")
	}
}

func TestTable_StringKeys(t *testing.T) {
	m := New[string, int]()
	for i, s := range testDataLarge[:4096] {
		m.Insert(s, i)
	}
	for i, s := range testDataLarge[:4096] {
		if v, ok := m.Load(s); !ok || v != i {
			t.Fatalf("load %q got %v %v", s, v, ok)
		}
	}
	if m.Contains("") {
		t.Fatalf("empty string should be absent")
	}
	m.Insert("", -1)
	if v, _ := m.At(""); v != -1 {
		t.Fatalf("empty string key got %d", v)
	}
}

func TestTable_Seed(t *testing.T) {
	a := New[string, int](WithSeed(7))
	b := New[string, int](WithSeed(7))
	for i, s := range testData {
		a.Insert(s, i)
		b.Insert(s, i)
	}
	var ka, kb []string
	a.RangeKeys(func(k string) bool { ka = append(ka, k); return true })
	b.RangeKeys(func(k string) bool { kb = append(kb, k); return true })
	if diff := cmp.Diff(ka, kb); diff != "" {
		t.Fatalf("same seed, different layout (-a +b):\n%s", diff)
	}
}

func TestTable_ConstIterator(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 10; i++ {
		m.Insert(i, i*2)
	}
	n := 0
	for it := m.Begin().Const(); !it.IsEnd(); it = it.Next() {
		if e := it.Entry(); e.Value != e.Key*2 || it.Key() != e.Key || it.Value() != e.Value {
			t.Fatalf("entry got %v", e)
		}
		n++
	}
	if n != 10 {
		t.Fatalf("visited %d", n)
	}
	it := m.Find(3)
	it.SetValue(33)
	*it.ValuePtr() += 1
	if v, _ := m.At(3); v != 34 {
		t.Fatalf("write through iterator got %d", v)
	}
	if !m.Find(3).Const().Equal(it.Const()) {
		t.Fatalf("const iterators should compare equal")
	}
}

func TestTable_EmptyBegin(t *testing.T) {
	m := New[int, int]()
	if !m.Begin().IsEnd() || !m.Begin().Equal(m.End()) {
		t.Fatalf("begin of empty table must be end")
	}
	var zero Iterator[int, int]
	if zero.Valid() || !zero.IsEnd() {
		t.Fatalf("zero iterator")
	}
}

func TestTable_DefaultBucketCount(t *testing.T) {
	m := New[int, int]()
	if m.BucketCount() != minBucketCount {
		t.Fatalf("default bucket count got %d, want %d", m.BucketCount(), minBucketCount)
	}
	if got := New[int, int](WithBucketCount(100)).BucketCount(); got != 128 {
		t.Fatalf("bucket count hint got %d", got)
	}
	if got := New[int, int](WithPresize(1000), WithMaxLoadFactor(0.5)).BucketCount(); got != 2048 {
		t.Fatalf("presize got %d", got)
	}
}

func TestCalcBucketCount(t *testing.T) {
	for _, tc := range []struct {
		n    int
		mlf  float64
		want int
	}{
		{0, 1, 1},
		{1, 1, 1},
		{2, 1, 2},
		{3, 1, 4},
		{1000, 1, 1024},
		{1025, 1, 2048},
		{100, 0.5, 256},
		{100, 4, 32},
		{3, 0.75, 4},
	} {
		got, ok := calcBucketCount(tc.n, tc.mlf)
		if !ok || got != tc.want {
			t.Fatalf("calcBucketCount(%d, %v) got %d %v, want %d", tc.n, tc.mlf, got, ok, tc.want)
		}
	}
	if _, ok := calcBucketCount(maxBucketCount+1, 1); ok {
		t.Fatalf("overflow should be reported")
	}
}

func TestNextPowOf2(t *testing.T) {
	for n, want := range map[int]int{-1: 1, 0: 1, 1: 1, 2: 2, 3: 4, 64: 64, 65: 128} {
		if got := nextPowOf2(n); got != want {
			t.Fatalf("nextPowOf2(%d) got %d", n, got)
		}
	}
}
