package detect

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/OpenGG/session-switch/internal/ssw/storage"
)

func TestGate_Window(t *testing.T) {
	g := NewGate(60 * time.Second)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if !g.ShouldFire(t0) {
		t.Fatal("first signal should fire")
	}
	if g.ShouldFire(t0.Add(30 * time.Second)) {
		t.Fatal("signal inside the window should be suppressed")
	}
	if !g.ShouldFire(t0.Add(61 * time.Second)) {
		t.Fatal("signal after the window should fire")
	}
}

func TestGate_SuppressedSignalDoesNotExtendWindow(t *testing.T) {
	g := NewGate(60 * time.Second)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	g.ShouldFire(t0)
	g.ShouldFire(t0.Add(59 * time.Second))
	if !g.ShouldFire(t0.Add(60 * time.Second)) {
		t.Fatal("window is measured from the last signal that fired")
	}
}

func TestGate_DefaultWindow(t *testing.T) {
	if got := NewGate(0).Window(); got != DefaultCooldown {
		t.Errorf("Window() = %v, want %v", got, DefaultCooldown)
	}
}

func TestGate_ConcurrentCallersFireOnce(t *testing.T) {
	g := NewGate(time.Minute)
	now := time.Now()

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.ShouldFire(now) {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	if fired.Load() != 1 {
		t.Fatalf("expected exactly one signal, got %d", fired.Load())
	}
}

func TestSharedGate_WindowSpansGates(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileGateStore(storage.New(fs), "/data/app/cooldown_state.txt")
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := NewSharedGate(time.Minute, store, nil)
	require.True(t, first.ShouldFire(t0))

	// a second process builds its own gate over the same file
	second := NewSharedGate(time.Minute, store, nil)
	require.False(t, second.ShouldFire(t0.Add(30*time.Second)))
	require.True(t, second.ShouldFire(t0.Add(61*time.Second)))

	// and the first one sees the later signal too
	require.False(t, first.ShouldFire(t0.Add(90*time.Second)))
}

func TestSharedGate_UnreadableStateIsIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/data/app/cooldown_state.txt"
	require.NoError(t, afero.WriteFile(fs, path, []byte("not a time"), 0o600))
	g := NewSharedGate(time.Minute, NewFileGateStore(storage.New(fs), path), nil)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.True(t, g.ShouldFire(t0))
	require.False(t, g.ShouldFire(t0.Add(10*time.Second)))

	stored, err := NewFileGateStore(storage.New(fs), path).Load()
	require.NoError(t, err)
	require.True(t, stored.Equal(t0), "the signal overwrites the bad state")
}

func TestSharedGate_FutureStampIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileGateStore(storage.New(fs), "/state")
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(t0.Add(24*time.Hour)))

	require.True(t, NewSharedGate(time.Minute, store, nil).ShouldFire(t0))
}

func TestFileGateStore_Missing(t *testing.T) {
	store := NewFileGateStore(storage.New(afero.NewMemMapFs()), "/nothing")
	stored, err := store.Load()
	require.NoError(t, err)
	require.True(t, stored.IsZero())
}

func TestGate_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	window := 60 * time.Second

	properties.Property("fired signals are at least one window apart", prop.ForAll(
		func(offsets []int) bool {
			g := NewGate(window)
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			var last time.Time
			elapsed := time.Duration(0)
			for _, off := range offsets {
				elapsed += time.Duration(off) * time.Second
				now := base.Add(elapsed)
				if g.ShouldFire(now) {
					if !last.IsZero() && now.Sub(last) < window {
						return false
					}
					last = now
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 90)),
	))

	properties.TestingRun(t)
}
