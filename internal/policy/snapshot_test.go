package policy

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	boltstore "github.com/goodtune/scrollguard/internal/storage/bolt"
	redisstore "github.com/goodtune/scrollguard/internal/storage/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestSnapshotDefaults(t *testing.T) {
	var nilSnap *Snapshot
	if nilSnap.Blocked("instagram") {
		t.Error("nil snapshot must not block")
	}

	snap := NewSnapshot(map[string]bool{"instagram": true, "youtube": false, "snapchat": true}, time.Time{})
	if !snap.Blocked("instagram") || snap.Blocked("youtube") || snap.Blocked("unknown") {
		t.Errorf("unexpected decisions from %v", snap.BlockedGroups())
	}
	if got := snap.BlockedGroups(); len(got) != 2 || got[0] != "instagram" || got[1] != "snapchat" {
		t.Errorf("unexpected blocked groups: %v", got)
	}
}

func TestSnapshotIsolatedFromInput(t *testing.T) {
	flags := map[string]bool{"instagram": true}
	snap := NewSnapshot(flags, time.Time{})
	flags["instagram"] = false

	if !snap.Blocked("instagram") {
		t.Error("snapshot changed after its input map was modified")
	}
}

func TestHolderStartsEmpty(t *testing.T) {
	holder := NewHolder(NewStaticSource(map[string]bool{"instagram": true}), []string{"instagram"}, nil, 0, zerolog.Nop())
	if holder.Blocked("instagram") {
		t.Error("holder must not block before the first refresh")
	}

	if err := holder.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !holder.Blocked("instagram") {
		t.Error("expected instagram blocked after refresh")
	}
}

func TestHolderKeepsSnapshotOnFailure(t *testing.T) {
	var fail atomic.Bool
	source := SourceFunc(func(ctx context.Context, groups []string) (map[string]bool, error) {
		if fail.Load() {
			return nil, errors.New("backend down")
		}
		return map[string]bool{"youtube": true}, nil
	})

	clock := NewTestClock(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC))
	holder := NewHolder(source, []string{"youtube"}, clock, time.Second, zerolog.Nop())
	if err := holder.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	loadedAt := holder.Snapshot().LoadedAt()

	fail.Store(true)
	clock.Advance(time.Minute)
	if err := holder.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if !holder.Blocked("youtube") || !holder.Snapshot().LoadedAt().Equal(loadedAt) {
		t.Error("failed refresh replaced the previous snapshot")
	}
}

func TestHolderRefreshAsyncCoalesces(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	source := SourceFunc(func(ctx context.Context, groups []string) (map[string]bool, error) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return map[string]bool{"linkedin": true}, nil
	})

	holder := NewHolder(source, []string{"linkedin"}, nil, time.Second, zerolog.Nop())
	holder.RefreshAsync()
	<-started

	// all of these arrive while the first refresh is blocked
	for i := 0; i < 5; i++ {
		holder.RefreshAsync()
	}
	close(release)
	holder.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 loads (one running, one coalesced), got %d", got)
	}
	if !holder.Blocked("linkedin") {
		t.Error("expected linkedin blocked after async refresh")
	}
}

func TestHolderConcurrentReaders(t *testing.T) {
	holder := NewHolder(NewStaticSource(map[string]bool{"instagram": true}), []string{"instagram"}, nil, 0, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = holder.Blocked("instagram")
			}
		}()
	}
	for i := 0; i < 10; i++ {
		holder.RefreshAsync()
	}
	wg.Wait()
	holder.Wait()

	if !holder.Blocked("instagram") {
		t.Error("expected instagram blocked")
	}
}

func TestStaticSourceNormalizesGroups(t *testing.T) {
	source := NewStaticSource(map[string]bool{"Instagram": true})
	flags, err := source.Load(context.Background(), []string{"instagram", "youtube"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !flags["instagram"] || flags["youtube"] || len(flags) != 2 {
		t.Errorf("unexpected flags: %v", flags)
	}
}

func TestStoreSourceRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.New(client)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Policy().SetFlag(ctx, "youtube", true); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	mr.HSet("scrollguard:policy", "snapchat", "on")

	source := NewStoreSource(store.Policy())
	flags, err := source.Load(ctx, []string{"youtube", "snapchat", "instagram"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !flags["youtube"] || !flags["snapchat"] || flags["instagram"] {
		t.Errorf("unexpected flags: %v", flags)
	}

	mr.Close()
	if _, err := source.Load(ctx, []string{"youtube"}); err == nil {
		t.Error("expected error with redis unavailable")
	}
}

func TestStoreSourceBolt(t *testing.T) {
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "scrollguard.bolt"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Policy().SetFlag(ctx, "linkedin", true); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	holder := NewHolder(NewStoreSource(store.Policy()), []string{"linkedin", "youtube"}, nil, 0, zerolog.Nop())
	if err := holder.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !holder.Blocked("linkedin") || holder.Blocked("youtube") {
		t.Errorf("unexpected snapshot: %v", holder.Snapshot().BlockedGroups())
	}
}
