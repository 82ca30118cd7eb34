package host

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/OpenGG/session-switch/internal/ssw/domain"
)

type fakeInfo struct{ os.FileInfo }

func newTestHost(goos string, present map[string]bool) *OSHost {
	h := NewOSHost(Options{Command: "antigravity", ProcessName: "Antigravity"}, nil)
	h.goos = goos
	h.home = "/home/u"
	h.stat = func(path string) (os.FileInfo, error) {
		if present[path] {
			return fakeInfo{}, nil
		}
		return nil, os.ErrNotExist
	}
	h.lookup = func(string) (string, error) { return "", exec.ErrNotFound }
	return h
}

func TestLocate_ExplicitExecutable(t *testing.T) {
	h := newTestHost("linux", map[string]bool{"/custom/ag": true})
	h.opts.Executable = "/custom/ag"

	got, err := h.Locate()
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != "/custom/ag" {
		t.Errorf("Locate() = %q, want /custom/ag", got)
	}
}

func TestLocate_ExplicitExecutableMissing(t *testing.T) {
	h := newTestHost("linux", nil)
	h.opts.Executable = "/custom/ag"

	_, err := h.Locate()
	if !errors.Is(err, domain.ErrProcessHostUnavailable) {
		t.Fatalf("expected ErrProcessHostUnavailable, got %v", err)
	}
}

func TestLocate_PrefersPath(t *testing.T) {
	h := newTestHost("linux", map[string]bool{"/usr/bin/antigravity": true})
	h.lookup = func(file string) (string, error) { return "/opt/bin/" + file, nil }

	got, err := h.Locate()
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != "/opt/bin/antigravity" {
		t.Errorf("Locate() = %q, want PATH result", got)
	}
}

func TestLocate_FallsBackToInstallLocations(t *testing.T) {
	tests := []struct {
		goos string
		path string
	}{
		{"linux", "/usr/share/antigravity/antigravity"},
		{"darwin", "/home/u/Applications/Antigravity.app"},
		{"windows", "/home/u/AppData/Local/Programs/Antigravity/Antigravity.exe"},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			h := newTestHost(tt.goos, map[string]bool{tt.path: true})
			got, err := h.Locate()
			if err != nil {
				t.Fatalf("Locate: %v", err)
			}
			if got != tt.path {
				t.Errorf("Locate() = %q, want %q", got, tt.path)
			}
		})
	}
}

func TestLocate_NothingFound(t *testing.T) {
	h := newTestHost("linux", nil)
	_, err := h.Locate()
	if !errors.Is(err, domain.ErrProcessHostUnavailable) {
		t.Fatalf("expected ErrProcessHostUnavailable, got %v", err)
	}
}

func TestTerminate_CommandPerPlatform(t *testing.T) {
	tests := []struct {
		goos string
		want []string
	}{
		{"linux", []string{"pkill", "-x", "Antigravity"}},
		{"darwin", []string{"pkill", "-x", "Antigravity"}},
		{"windows", []string{"taskkill", "/IM", "Antigravity.exe", "/F"}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			h := newTestHost(tt.goos, nil)
			var got []string
			h.run = func(_ context.Context, name string, args ...string) error {
				got = append([]string{name}, args...)
				return nil
			}
			if err := h.Terminate(context.Background()); err != nil {
				t.Fatalf("Terminate: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ran %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ran %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestTerminate_NoMatchingProcess(t *testing.T) {
	h := newTestHost("linux", nil)
	// "false" exits 1, the same status pkill uses when nothing matched
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false(1) not available")
	}
	h.run = func(ctx context.Context, _ string, _ ...string) error {
		return exec.CommandContext(ctx, "false").Run()
	}
	if err := h.Terminate(context.Background()); err != nil {
		t.Fatalf("expected no error when nothing is running, got %v", err)
	}
}

func TestTerminate_OtherFailure(t *testing.T) {
	h := newTestHost("linux", nil)
	boom := errors.New("permission denied")
	h.run = func(context.Context, string, ...string) error { return boom }

	if err := h.Terminate(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestLaunch_StartsDetached(t *testing.T) {
	h := newTestHost("linux", nil)
	var started string
	h.start = func(path string) error {
		started = path
		return nil
	}
	if err := h.Launch("/usr/bin/antigravity"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if started != "/usr/bin/antigravity" {
		t.Errorf("started %q", started)
	}
}

func TestLaunch_ReportsFailure(t *testing.T) {
	h := newTestHost("linux", nil)
	h.start = func(string) error { return os.ErrPermission }
	if err := h.Launch("/x"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestStartDetached_RealProcess(t *testing.T) {
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true(1) not available")
	}
	if err := startDetached(path); err != nil {
		t.Fatalf("startDetached: %v", err)
	}
	// the child is released; give it a moment so the test binary does not race its exit
	time.Sleep(10 * time.Millisecond)
}
