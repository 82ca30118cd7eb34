package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/OpenGG/session-switch/internal/ssw/logging"
	"github.com/OpenGG/session-switch/internal/ssw/paths"
)

// DefaultPollInterval is the log-tail polling period.
const DefaultPollInterval = 30 * time.Second

// Trigger names where a signal came from.
const (
	TriggerDiagnostics = "diagnostics"
	TriggerLog         = "log"
)

// WatchMode selects how Run notices log growth.
type WatchMode string

const (
	// WatchPoll reads the log on a fixed interval only.
	WatchPoll WatchMode = "poll"
	// WatchFsnotify also reads the log whenever the OS reports a write to it.
	WatchFsnotify WatchMode = "fsnotify"
)

// ParseWatchMode accepts the config spelling of a mode. Empty means poll.
func ParseWatchMode(s string) (WatchMode, error) {
	switch WatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", WatchPoll:
		return WatchPoll, nil
	case WatchFsnotify:
		return WatchFsnotify, nil
	default:
		return "", fmt.Errorf("unknown watch mode %q (want %s or %s)", s, WatchPoll, WatchFsnotify)
	}
}

// Signal is one rate-limit observation that passed the cooldown gate.
type Signal struct {
	Trigger string
	// Source is the document for diagnostics, or the log file path.
	Source  string
	Keyword string
	At      time.Time
}

// Handler receives signals. It runs on the goroutine that observed the match.
type Handler func(Signal)

// Options tunes a Detector.
type Options struct {
	PollInterval time.Duration
	WatchMode    WatchMode
}

// Detector feeds diagnostics and log output through the matcher and gate.
//
// It never reports its own failures: an unreadable log or missing directory is
// logged at debug level and treated as no signal.
type Detector struct {
	matcher *Matcher
	gate    *Gate
	tail    *LogTail
	handler Handler
	opts    Options
	now     func() time.Time
	logger  logrus.FieldLogger
}

// New creates a Detector. tail may be nil when only diagnostics are observed.
func New(matcher *Matcher, gate *Gate, tail *LogTail, handler Handler, opts Options, logger logrus.FieldLogger) *Detector {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.WatchMode == "" {
		opts.WatchMode = WatchPoll
	}
	if handler == nil {
		handler = func(Signal) {}
	}
	return &Detector{
		matcher: matcher,
		gate:    gate,
		tail:    tail,
		handler: handler,
		opts:    opts,
		now:     time.Now,
		logger:  logging.OrDiscard(logger),
	}
}

// SetNow allows overriding the clock for testing.
func (d *Detector) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	d.now = now
}

// ObserveDiagnostics scans the current diagnostic messages of one document.
// It reports whether a signal was delivered.
func (d *Detector) ObserveDiagnostics(source string, messages []string) bool {
	kw, ok := d.FirstMatch(messages)
	if !ok {
		return false
	}
	return d.fire(Signal{Trigger: TriggerDiagnostics, Source: source, Keyword: kw})
}

// FirstMatch returns the keyword of the first message that matches, without
// consulting the cooldown.
func (d *Detector) FirstMatch(messages []string) (string, bool) {
	for _, msg := range messages {
		if kw, ok := d.matcher.Match(msg); ok {
			return kw, true
		}
	}
	return "", false
}

// Window returns the cooldown between two delivered signals.
func (d *Detector) Window() time.Duration {
	return d.gate.Window()
}

// Poll runs one log-tail cycle and reports whether a signal was delivered.
func (d *Detector) Poll() bool {
	if d.tail == nil {
		return false
	}
	text, err := d.tail.Read()
	if err != nil {
		d.logger.WithError(err).Debug("log tail skipped")
		return false
	}
	kw, ok := d.matcher.Match(text)
	if !ok {
		return false
	}
	path, _ := d.tail.Cursor()
	return d.fire(Signal{Trigger: TriggerLog, Source: path, Keyword: kw})
}

// Run polls the log until ctx is done. The first cycle only primes the cursor.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	var (
		events  <-chan fsnotify.Event
		errs    <-chan error
		watcher *fsnotify.Watcher
	)
	if d.opts.WatchMode == WatchFsnotify && d.tail != nil {
		w, err := d.watch()
		if err != nil {
			d.logger.WithError(err).Debug("fsnotify unavailable, polling only")
		} else {
			watcher = w
			defer watcher.Close()
			events, errs = watcher.Events, watcher.Errors
		}
	}

	d.Poll()
	d.logger.WithFields(logrus.Fields{
		"interval": d.opts.PollInterval,
		"mode":     d.opts.WatchMode,
	}).Debug("detector started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			d.Poll()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.handleEvent(watcher, ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.WithError(err).Debug("fsnotify error")
		}
	}
}

// watch subscribes to the logs directory and each session directory below it.
func (d *Detector) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(d.tail.logsDir); err != nil {
		w.Close()
		return nil, err
	}
	entries, err := d.tail.storage.ReadDir(d.tail.logsDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = w.Add(filepath.Join(d.tail.logsDir, e.Name()))
			}
		}
	}
	return w, nil
}

func (d *Detector) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	// a new session directory: follow it so its main.log writes are seen
	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(d.tail.logsDir) {
		if ok, _ := d.tail.storage.DirExists(ev.Name); ok {
			if err := w.Add(ev.Name); err != nil {
				d.logger.WithError(err).WithField("path", ev.Name).Debug("cannot watch log directory")
			}
		}
		return
	}
	if filepath.Base(ev.Name) != paths.MainLogFileName {
		return
	}
	if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
		d.Poll()
	}
}

func (d *Detector) fire(sig Signal) bool {
	sig.At = d.now()
	log := d.logger.WithFields(logrus.Fields{
		"trigger": sig.Trigger,
		"source":  sig.Source,
		"keyword": sig.Keyword,
	})
	if !d.gate.ShouldFire(sig.At) {
		log.Debug("rate limit signal suppressed by cooldown")
		return false
	}
	log.Info("rate limit signal")
	d.handler(sig)
	return true
}
