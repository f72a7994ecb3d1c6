package convo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/docledger/internal/domain"
)

func user(s string) Message      { return Message{Role: domain.RoleUser, Content: s} }
func assistant(s string) Message { return Message{Role: domain.RoleAssistant, Content: s} }

func TestCharEstimator(t *testing.T) {
	est := CharEstimator{}
	assert.Equal(t, 0, est.Estimate(nil))
	assert.Equal(t, 2, est.Estimate([]Message{user("abcd"), assistant("efgh")}))
	assert.Equal(t, 1, est.Estimate([]Message{user("abcdefg")}))
	// Characters, not bytes.
	assert.Equal(t, 1, est.Estimate([]Message{user("éééé")}))
}

func TestPrune_WithinBudget(t *testing.T) {
	history := []Message{user("aaaa"), assistant("bbbb")}
	got := Prune(history, user("cccc"), 100, CharEstimator{})
	assert.Equal(t, []Message{user("aaaa"), assistant("bbbb"), user("cccc")}, got)
}

func TestPrune_DropsOldestFirst(t *testing.T) {
	history := []Message{
		user(strings.Repeat("a", 40)),
		assistant(strings.Repeat("b", 40)),
		user(strings.Repeat("c", 40)),
	}
	next := user(strings.Repeat("d", 40))

	// 40 chars = 10 tokens per message.
	got := Prune(history, next, 25, CharEstimator{})
	require.Len(t, got, 2)
	assert.Equal(t, history[2], got[0])
	assert.Equal(t, next, got[1])
}

func TestPrune_NeverDropsNewest(t *testing.T) {
	history := []Message{user("old question"), assistant("old answer")}
	next := user(strings.Repeat("x", 400))

	got := Prune(history, next, 10, CharEstimator{})
	require.Len(t, got, 1)
	assert.Equal(t, next, got[0])
	assert.Len(t, got[0].Content, 400)
}

func TestPrune_Property(t *testing.T) {
	est := CharEstimator{}
	for budget := 0; budget <= 60; budget += 5 {
		var history []Message
		for i := 1; i <= 8; i++ {
			history = append(history, user(strings.Repeat("m", i*7)))
		}
		next := user(strings.Repeat("n", 30))

		got := Prune(history, next, budget, est)
		assert.True(t, est.Estimate(got) <= budget || len(got) == 1, "budget %d", budget)
		assert.Equal(t, next, got[len(got)-1])
		assert.Len(t, history, 8, "input must not be modified")
	}
}

func TestPrune_DoesNotAliasHistory(t *testing.T) {
	history := make([]Message, 2, 10)
	history[0], history[1] = user("a"), assistant("b")

	got := Prune(history, user("c"), 100, nil)
	got[0].Content = "changed"
	assert.Equal(t, "a", history[0].Content)
}

func TestWindow_SequentialTurns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	w := NewWindow(store, 1000)

	msgs, err := w.Prepare(ctx, "session-1", "user1")
	require.NoError(t, err)
	assert.Equal(t, []Message{user("user1")}, msgs)
	require.NoError(t, w.Record(ctx, "session-1", "user1", "assistant1"))

	msgs, err = w.Prepare(ctx, "session-1", "user2")
	require.NoError(t, err)
	assert.Equal(t, []Message{user("user1"), assistant("assistant1"), user("user2")}, msgs)

	stored, err := store.Load(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, []Message{user("user1"), assistant("assistant1")}, stored)
}

func TestWindow_RecordTrimsStoredHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	w := NewWindow(store, 10)

	old := []Message{user(strings.Repeat("a", 20)), assistant(strings.Repeat("b", 20))}
	require.NoError(t, store.Append(ctx, "k", old...))

	msgs, err := w.Prepare(ctx, "k", strings.Repeat("c", 20))
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	stored, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, old, stored, "Prepare must not change the store")

	require.NoError(t, w.Record(ctx, "k", strings.Repeat("c", 20), "ok"))

	stored, err = store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []Message{assistant(strings.Repeat("b", 20)), user(strings.Repeat("c", 20)), assistant("ok")}, stored)
}

func TestPrune_CustomEstimator(t *testing.T) {
	perMessage := EstimatorFunc(func(msgs []Message) int { return len(msgs) })
	history := []Message{user("1"), assistant("2"), user("3"), assistant("4")}

	msgs := Prune(history, user("5"), 2, perMessage)
	assert.Equal(t, []Message{assistant("4"), user("5")}, msgs)
}

func TestWindow_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	w := NewWindow(NewMemoryStore(0), 1000)

	require.NoError(t, w.Record(ctx, "a", "hi a", "hello a"))
	msgs, err := w.Prepare(ctx, "b", "hi b")
	require.NoError(t, err)
	assert.Equal(t, []Message{user("hi b")}, msgs)
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Append(ctx, "k", user("one")))

	msgs, err := store.Load(ctx, "k")
	require.NoError(t, err)
	msgs[0].Content = "mutated"

	again, err := store.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "one", again[0].Content)
}

func TestMemoryStore_TrimFrontAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Append(ctx, "k", user("1"), assistant("2"), user("3")))

	require.NoError(t, store.TrimFront(ctx, "k", 2))
	msgs, _ := store.Load(ctx, "k")
	assert.Equal(t, []Message{user("3")}, msgs)

	require.NoError(t, store.TrimFront(ctx, "k", 5))
	msgs, _ = store.Load(ctx, "k")
	assert.Empty(t, msgs)

	require.NoError(t, store.Delete(ctx, "k"))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base }
	require.NoError(t, store.Append(ctx, "stale", user("x")))
	store.now = func() time.Time { return base.Add(50 * time.Second) }
	require.NoError(t, store.Append(ctx, "fresh", user("y")))

	removed := store.Sweep(base.Add(90 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	msgs, _ := store.Load(ctx, "fresh")
	assert.Len(t, msgs, 1)
}

func TestMemoryStore_SweepDisabled(t *testing.T) {
	store := NewMemoryStore(0)
	require.NoError(t, store.Append(context.Background(), "k", user("x")))
	assert.Equal(t, 0, store.Sweep(time.Now().Add(24*time.Hour)))
}

func TestMemoryStore_LockSerializesKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	w := NewWindow(store, 100000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := store.Lock("shared")
			defer unlock()
			_, _ = w.Prepare(ctx, "shared", "q")
			_ = w.Record(ctx, "shared", "q", "a")
		}()
	}
	wg.Wait()

	msgs, err := store.Load(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, msgs, 40)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, domain.RoleUser, msgs[i].Role)
		assert.Equal(t, domain.RoleAssistant, msgs[i+1].Role)
	}
}

func TestMemoryStore_SweepDuringLockKeepsExclusion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Millisecond)
	store.now = func() time.Time { return time.Unix(0, 0) }

	stop := make(chan struct{})
	swept := make(chan struct{})
	go func() {
		defer close(swept)
		for {
			select {
			case <-stop:
				return
			default:
				store.Sweep(time.Now())
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inflight int
		overlaps int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				unlock := store.Lock("k")

				mu.Lock()
				inflight++
				if inflight > 1 {
					overlaps++
				}
				mu.Unlock()

				_ = store.Append(ctx, "k", user("q"))

				mu.Lock()
				inflight--
				mu.Unlock()

				unlock()
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-swept

	assert.Zero(t, overlaps)
	assert.Zero(t, store.lockedKeys())
}

func TestMemoryStore_LockEntriesAreReleased(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	for i := 0; i < 1000; i++ {
		unlock := store.Lock(fmt.Sprintf("k%d", i))
		unlock()
		unlock()
	}
	assert.Zero(t, store.lockedKeys())

	unlock := store.Lock("held")
	assert.Equal(t, 1, store.lockedKeys())
	unlock()
	assert.Zero(t, store.lockedKeys())
}

func TestMemoryStore_SweepSkipsLockedKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.Append(ctx, "busy", user("x")))

	unlock := store.Lock("busy")
	assert.Equal(t, 0, store.Sweep(base.Add(time.Hour)))
	unlock()
	assert.Equal(t, 1, store.Sweep(base.Add(time.Hour)))
}
