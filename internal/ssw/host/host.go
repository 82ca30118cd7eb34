// Package host locates, stops and relaunches the application whose session
// directory ssw manages.
package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"

	"github.com/OpenGG/session-switch/internal/ssw/domain"
	"github.com/OpenGG/session-switch/internal/ssw/logging"
)

// Host is the process collaborator used by a switch.
type Host interface {
	// Locate returns the application executable, or an error matching domain.ErrProcessHostUnavailable.
	Locate() (string, error)
	// Terminate asks every running instance to exit. It does not wait for them.
	Terminate(ctx context.Context) error
	// Launch starts the application detached from the calling process.
	Launch(path string) error
}

// Options describes how to find and recognise the application.
type Options struct {
	// Executable is an explicit path. When set, no search is performed.
	Executable string
	// Command is looked up on PATH when Executable is empty.
	Command string
	// ProcessName is the image name passed to pkill / taskkill.
	ProcessName string
}

// DefaultOptions targets the Antigravity editor.
func DefaultOptions() Options {
	return Options{Command: "antigravity", ProcessName: "Antigravity"}
}

// OSHost implements Host with the operating system's process tools.
type OSHost struct {
	opts   Options
	goos   string
	home   string
	run    func(ctx context.Context, name string, args ...string) error
	start  func(path string) error
	stat   func(path string) (os.FileInfo, error)
	lookup func(file string) (string, error)
	logger logrus.FieldLogger
}

// NewOSHost creates an OSHost for the running platform.
func NewOSHost(opts Options, logger logrus.FieldLogger) *OSHost {
	home, _ := os.UserHomeDir()
	return &OSHost{
		opts:   opts,
		goos:   runtime.GOOS,
		home:   home,
		run:    runCommand,
		start:  startDetached,
		stat:   os.Stat,
		lookup: exec.LookPath,
		logger: logging.OrDiscard(logger),
	}
}

// Locate resolves the executable from the explicit path, PATH, then well-known install locations.
func (h *OSHost) Locate() (string, error) {
	if h.opts.Executable != "" {
		if _, err := h.stat(h.opts.Executable); err != nil {
			return "", fmt.Errorf("%w: %s: %w", domain.ErrProcessHostUnavailable, h.opts.Executable, err)
		}
		return h.opts.Executable, nil
	}
	if h.opts.Command != "" {
		if path, err := h.lookup(h.opts.Command); err == nil {
			return path, nil
		}
	}
	for _, candidate := range h.candidates() {
		if _, err := h.stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: set host.executable to the application path", domain.ErrProcessHostUnavailable)
}

func (h *OSHost) candidates() []string {
	name := h.opts.ProcessName
	if name == "" {
		return nil
	}
	lower := strings.ToLower(name)
	switch h.goos {
	case "darwin":
		return []string{
			filepath.Join("/Applications", name+".app"),
			filepath.Join(h.home, "Applications", name+".app"),
		}
	case "windows":
		return []string{
			filepath.Join(h.home, "AppData", "Local", "Programs", name, name+".exe"),
			filepath.Join(os.Getenv("ProgramFiles"), name, name+".exe"),
		}
	default:
		return []string{
			filepath.Join("/usr/bin", lower),
			filepath.Join("/usr/share", lower, lower),
			filepath.Join("/opt", name, lower),
			filepath.Join(h.home, ".local", "bin", lower),
		}
	}
}

// Terminate asks the OS to stop every process with the configured name.
// Finding no such process is not an error.
func (h *OSHost) Terminate(ctx context.Context) error {
	name := h.opts.ProcessName
	if name == "" {
		return nil
	}

	var err error
	if h.goos == "windows" {
		err = h.run(ctx, "taskkill", "/IM", name+".exe", "/F")
	} else {
		err = h.run(ctx, "pkill", "-x", name)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// pkill exits 1 and taskkill 128 when nothing matched
		code := exitErr.ExitCode()
		if code == 1 || code == 128 {
			h.logger.WithField("process", name).Debug("no running instance to stop")
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}
	h.logger.WithField("process", name).Info("asked running instances to exit")
	return nil
}

// Launch starts the application so it outlives ssw.
// macOS application bundles are opened through LaunchServices.
func (h *OSHost) Launch(path string) error {
	if h.goos == "darwin" && strings.HasSuffix(path, ".app") {
		if err := open.Start(path); err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		return nil
	}
	if err := h.start(path); err != nil {
		return fmt.Errorf("failed to launch %s: %w", path, err)
	}
	h.logger.WithField("path", path).Info("application relaunched")
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func startDetached(path string) error {
	cmd := exec.Command(path)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
