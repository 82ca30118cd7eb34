package switcher

// Tests for the switch sequence.
//
// Focus: ordering of pointer / terminate / move-aside / copy / launch, failure
// paths that must leave the live directory alone, and both pointer policies.

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/OpenGG/session-switch/internal/ssw/backup"
	"github.com/OpenGG/session-switch/internal/ssw/domain"
	"github.com/OpenGG/session-switch/internal/ssw/paths"
	"github.com/OpenGG/session-switch/internal/ssw/pointer"
	"github.com/OpenGG/session-switch/internal/ssw/profile"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
)

const root = "/data/Antigravity"

type fakeHost struct {
	mu        sync.Mutex
	locateErr error
	launchErr error
	calls     []string
	onStop    func()
}

func (h *fakeHost) Locate() (string, error) {
	h.record("locate")
	if h.locateErr != nil {
		return "", h.locateErr
	}
	return "/usr/bin/antigravity", nil
}

func (h *fakeHost) Terminate(context.Context) error {
	h.record("terminate")
	if h.onStop != nil {
		h.onStop()
	}
	return nil
}

func (h *fakeHost) Launch(path string) error {
	h.record("launch " + path)
	return h.launchErr
}

func (h *fakeHost) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

type fixture struct {
	fs       afero.Fs
	pb       *paths.PathBuilder
	store    *profile.Store
	pointer  *pointer.Pointer
	backups  *backup.Service
	host     *fakeHost
	switcher *Switcher
	slept    []time.Duration
}

func newFixture(t *testing.T, policy PointerPolicy) *fixture {
	t.Helper()
	f := &fixture{fs: afero.NewMemMapFs(), pb: paths.New(root), host: &fakeHost{}}
	stor := storage.New(f.fs)
	f.pointer = pointer.New(stor, f.pb.ActiveStatePath())
	f.store = profile.New(stor, f.pointer, f.pb, 5, nil)
	f.backups = backup.New(stor, f.pb.LiveDir(), f.pb.BackupDir(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.backups.Close(ctx)
	})
	f.switcher = New(f.store, f.pointer, f.backups, stor, f.host, f.pb.LiveDir(),
		Options{StopGrace: 3 * time.Second, Policy: policy}, nil)
	f.switcher.SetSleeper(func(_ context.Context, d time.Duration) {
		f.slept = append(f.slept, d)
	})
	return f
}

func (f *fixture) writeLive(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, f.fs.RemoveAll(f.pb.LiveDir()))
	require.NoError(t, afero.WriteFile(f.fs, f.pb.LiveDir()+"/auth.json", []byte(content), 0o644))
}

func (f *fixture) readLive(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, f.pb.LiveDir()+"/auth.json")
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) saveAliceAndBob(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.writeLive(t, "alice-token")
	_, err := f.store.Save(ctx, "alice")
	require.NoError(t, err)
	f.writeLive(t, "bob-token")
	_, err = f.store.Save(ctx, "bob")
	require.NoError(t, err)
}

func waitForNoBackup(t *testing.T, f *fixture) {
	t.Helper()
	require.Eventually(t, func() bool {
		leftover, err := f.backups.Leftover()
		return err == nil && !leftover
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSwitch_LoadsProfileAndRestarts(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)
	require.Equal(t, "bob", f.pointer.Get())

	res, err := f.switcher.Switch(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Profile)
	require.True(t, res.Restarted)
	require.True(t, res.Moved)
	require.Equal(t, f.pb.BackupDir(), res.Backup)

	require.Equal(t, "alice-token", f.readLive(t))
	require.Equal(t, "alice", f.pointer.Get())
	require.Equal(t, []string{"locate", "terminate", "launch /usr/bin/antigravity"}, f.host.Calls())
	require.Equal(t, []time.Duration{3 * time.Second}, f.slept)

	waitForNoBackup(t, f)

	// the snapshot itself is untouched by loading it
	data, err := afero.ReadFile(f.fs, f.pb.ProfileDir("alice")+"/auth.json")
	require.NoError(t, err)
	require.Equal(t, "alice-token", string(data))
}

func TestSwitch_ResolvesNameCaseInsensitively(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)

	res, err := f.switcher.Switch(context.Background(), "  ALICE ")
	require.NoError(t, err)
	require.Equal(t, "alice", res.Profile)
	require.Equal(t, "alice", f.pointer.Get())
}

func TestSwitch_UnknownProfileLeavesLiveUntouched(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)

	_, err := f.switcher.Switch(context.Background(), "carol")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Equal(t, "bob-token", f.readLive(t))
	require.Equal(t, "bob", f.pointer.Get())
	require.Empty(t, f.host.Calls())
}

func TestSwitch_HostUnavailableLeavesLiveUntouched(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)
	f.host.locateErr = domain.ErrProcessHostUnavailable

	_, err := f.switcher.Switch(context.Background(), "alice")
	require.ErrorIs(t, err, domain.ErrProcessHostUnavailable)

	require.Equal(t, "bob-token", f.readLive(t))
	require.Equal(t, "bob", f.pointer.Get())
	require.Equal(t, []string{"locate"}, f.host.Calls())
}

func TestSwitch_OptimisticPointerWrittenBeforeStop(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)

	var atStop string
	f.host.onStop = func() { atStop = f.pointer.Get() }

	_, err := f.switcher.Switch(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", atStop)
}

func TestSwitch_ConfirmedPointerWrittenAfterCopy(t *testing.T) {
	f := newFixture(t, PointerConfirmed)
	f.saveAliceAndBob(t)

	var atStop string
	f.host.onStop = func() { atStop = f.pointer.Get() }

	_, err := f.switcher.Switch(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "bob", atStop)
	require.Equal(t, "alice", f.pointer.Get())
}

func TestSwitch_NoLiveDirectory(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)
	require.NoError(t, f.fs.RemoveAll(f.pb.LiveDir()))

	res, err := f.switcher.Switch(context.Background(), "bob")
	require.NoError(t, err)
	require.False(t, res.Moved)
	require.Equal(t, "bob-token", f.readLive(t))
}

func TestSwitch_CopyFailureKeepsBackup(t *testing.T) {
	f := newFixture(t, PointerConfirmed)
	f.saveAliceAndBob(t)

	// the snapshot vanishes once the application has been stopped
	f.host.onStop = func() {
		_ = f.fs.RemoveAll(f.pb.ProfileDir("alice"))
	}

	_, err := f.switcher.Switch(context.Background(), "alice")
	require.ErrorIs(t, err, domain.ErrIOFailure)
	require.Contains(t, err.Error(), f.pb.BackupDir())

	data, err := afero.ReadFile(f.fs, f.pb.BackupDir()+"/auth.json")
	require.NoError(t, err)
	require.Equal(t, "bob-token", string(data))
	require.Equal(t, "bob", f.pointer.Get(), "confirmed policy must not record a failed switch")
	require.NotContains(t, f.host.Calls(), "launch /usr/bin/antigravity")
}

func TestSwitch_LaunchFailureReported(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)
	boom := errors.New("exec format error")
	f.host.launchErr = boom

	res, err := f.switcher.Switch(context.Background(), "alice")
	require.ErrorIs(t, err, boom)
	require.False(t, res.Restarted)
	require.Equal(t, "alice-token", f.readLive(t))
}

func TestSwitch_BackToBack(t *testing.T) {
	f := newFixture(t, PointerOptimistic)
	f.saveAliceAndBob(t)
	ctx := context.Background()

	_, err := f.switcher.Switch(ctx, "alice")
	require.NoError(t, err)
	_, err = f.switcher.Switch(ctx, "bob")
	require.NoError(t, err)

	require.Equal(t, "bob-token", f.readLive(t))
	require.Equal(t, "bob", f.pointer.Get())
	waitForNoBackup(t, f)
}

func TestParsePointerPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    PointerPolicy
		wantErr bool
	}{
		{"", PointerOptimistic, false},
		{"optimistic", PointerOptimistic, false},
		{" Confirmed ", PointerConfirmed, false},
		{"eventually", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePointerPolicy(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}
}
