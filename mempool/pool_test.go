// File: mempool/pool_test.go
// Author: momentics <momentics@gmail.com>

package mempool

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/momentics/hioload-ipc/api"
	"github.com/momentics/hioload-ipc/shm"
)

var testSegSeq uint32 = 9000

func newTestSegment(t *testing.T, size uint64) *shm.Segment {
	t.Helper()
	id := atomic.AddUint32(&testSegSeq, 1)
	name := t.Name() + "_" + randomSuffix()
	seg, err := shm.CreateSegment(name, id, size)
	if err != nil {
		t.Fatalf("create segment: %v", err)
	}
	t.Cleanup(func() {
		seg.Unlink()
		seg.Close()
	})
	return seg
}

func randomSuffix() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 8)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func TestInitPoolRejectsBadChunkSize(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	for _, size := range []uint64{0, 3, 48, api.MinChunkSize / 2} {
		if _, err := InitPool(seg, size, 4); err == nil {
			t.Errorf("chunk size %d accepted, want error", size)
		}
	}
}

func TestPoolExhaustionAndReuse(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	const count = 8
	p, err := InitPool(seg, 128, count)
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}

	offs := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		off, err := p.GetChunk()
		if err != nil {
			t.Fatalf("get chunk %d: %v", i, err)
		}
		offs = append(offs, off)
	}
	if got := p.UsedCount(); got != count {
		t.Fatalf("used count = %d, want %d", got, count)
	}
	if _, err := p.GetChunk(); err != api.ErrAllocationFailed {
		t.Fatalf("exhausted pool error = %v, want ErrAllocationFailed", err)
	}

	seen := make(map[uint64]bool)
	for _, off := range offs {
		if seen[off] {
			t.Fatalf("offset %d handed out twice", off)
		}
		seen[off] = true
		if !p.Contains(off) {
			t.Fatalf("offset %d outside pool slab", off)
		}
	}

	p.ReleaseChunk(offs[3])
	off, err := p.GetChunk()
	if err != nil {
		t.Fatalf("get after release: %v", err)
	}
	if off != offs[3] {
		t.Fatalf("reused offset = %d, want %d", off, offs[3])
	}
}

func TestPoolUsedCountBalances(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := InitPool(seg, 64, 16)
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	var held []uint64
	for i := 0; i < 2000; i++ {
		if len(held) > 0 && (rng.Intn(2) == 0 || len(held) == 16) {
			k := rng.Intn(len(held))
			p.ReleaseChunk(held[k])
			held = append(held[:k], held[k+1:]...)
		} else {
			off, err := p.GetChunk()
			if err != nil {
				continue
			}
			held = append(held, off)
		}
		if got := p.UsedCount(); got != uint64(len(held)) {
			t.Fatalf("step %d: used count = %d, held = %d", i, got, len(held))
		}
	}
}

func TestPoolConcurrentGetRelease(t *testing.T) {
	seg := newTestSegment(t, 4<<20)
	const count = 64
	p, err := InitPool(seg, 128, count)
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var held []uint64
			for i := 0; i < 5000; i++ {
				if len(held) > 0 && rng.Intn(2) == 0 {
					k := rng.Intn(len(held))
					p.ReleaseChunk(held[k])
					held = append(held[:k], held[k+1:]...)
				} else if off, err := p.GetChunk(); err == nil {
					held = append(held, off)
				}
			}
			for _, off := range held {
				p.ReleaseChunk(off)
			}
		}(int64(w))
	}
	wg.Wait()

	if got := p.UsedCount(); got != 0 {
		t.Fatalf("used count after drain = %d, want 0", got)
	}
	for i := 0; i < count; i++ {
		if _, err := p.GetChunk(); err != nil {
			t.Fatalf("chunk %d lost after concurrent churn: %v", i, err)
		}
	}
	if _, err := p.GetChunk(); err != api.ErrAllocationFailed {
		t.Fatalf("pool should be exactly exhausted, got %v", err)
	}
}

func TestOpenPoolSharesState(t *testing.T) {
	seg := newTestSegment(t, 1<<20)
	p, err := InitPool(seg, 64, 4)
	if err != nil {
		t.Fatalf("init pool: %v", err)
	}

	q := OpenPool(seg, p.Offset())
	off, err := p.GetChunk()
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	if got := q.UsedCount(); got != 1 {
		t.Fatalf("used count through second handle = %d, want 1", got)
	}
	q.ReleaseChunk(off)
	if got := p.UsedCount(); got != 0 {
		t.Fatalf("used count after release through second handle = %d, want 0", got)
	}
}
