// Package ssw wires the profile store, switcher and detector together for the
// command-line front end.
package ssw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/OpenGG/session-switch/internal/ssw/backup"
	"github.com/OpenGG/session-switch/internal/ssw/config"
	"github.com/OpenGG/session-switch/internal/ssw/detect"
	"github.com/OpenGG/session-switch/internal/ssw/domain"
	"github.com/OpenGG/session-switch/internal/ssw/host"
	"github.com/OpenGG/session-switch/internal/ssw/logging"
	"github.com/OpenGG/session-switch/internal/ssw/paths"
	"github.com/OpenGG/session-switch/internal/ssw/pointer"
	"github.com/OpenGG/session-switch/internal/ssw/profile"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
	"github.com/OpenGG/session-switch/internal/ssw/switcher"
	"github.com/OpenGG/session-switch/internal/ssw/validator"
)

// Manager is the single entry point the commands use.
type Manager struct {
	fs     afero.Fs
	cfg    *config.Config
	logger logrus.FieldLogger

	paths     *paths.PathBuilder
	storage   *storage.Storage
	validator *validator.Validator
	pointer   *pointer.Pointer
	store     *profile.Store
	backups   *backup.Service
	host      host.Host
	switcher  *switcher.Switcher
	policy    switcher.PointerPolicy
	watchMode detect.WatchMode
}

// NewManager builds a Manager rooted at cfg.Home on fs.
func NewManager(fs afero.Fs, cfg *config.Config, logger logrus.FieldLogger) (*Manager, error) {
	if fs == nil {
		return nil, errors.New("filesystem cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := switcher.ParsePointerPolicy(cfg.PointerPolicy)
	if err != nil {
		return nil, err
	}
	mode, err := detect.ParseWatchMode(cfg.Detector.WatchMode)
	if err != nil {
		return nil, err
	}

	logger = logging.OrDiscard(logger)
	pb := paths.New(cfg.Home)
	stor := storage.New(fs)
	stor.SetTimeout(cfg.IOTimeout)
	ptr := pointer.New(stor, pb.ActiveStatePath())

	m := &Manager{
		fs:        fs,
		cfg:       cfg,
		logger:    logger,
		paths:     pb,
		storage:   stor,
		validator: validator.New(),
		pointer:   ptr,
		store:     profile.New(stor, ptr, pb, cfg.MaxProfiles, logger),
		backups:   backup.New(stor, pb.LiveDir(), pb.BackupDir(), logger),
		policy:    policy,
		watchMode: mode,
	}
	m.SetHost(host.NewOSHost(host.Options{
		Executable:  cfg.Host.Executable,
		Command:     cfg.Host.Command,
		ProcessName: cfg.Host.ProcessName,
	}, logger))
	return m, nil
}

// SetHost replaces the process host, for tests and alternative editors.
func (m *Manager) SetHost(h host.Host) {
	m.host = h
	m.switcher = switcher.New(m.store, m.pointer, m.backups, m.storage, h, m.paths.LiveDir(),
		switcher.Options{StopGrace: m.cfg.ProcessStopGrace, Policy: m.policy}, m.logger)
}

// Switcher exposes the switcher, mainly so tests can replace its sleeper.
func (m *Manager) Switcher() *switcher.Switcher {
	return m.switcher
}

// FileSystem returns the filesystem the manager operates on.
func (m *Manager) FileSystem() afero.Fs {
	return m.fs
}

// Paths returns the on-disk layout.
func (m *Manager) Paths() *paths.PathBuilder {
	return m.paths
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// MaxProfiles returns the store capacity.
func (m *Manager) MaxProfiles() int {
	return m.store.MaxProfiles()
}

// ValidateName reports why name cannot be used for a profile.
func (m *Manager) ValidateName(name string) error {
	return m.validator.ValidateName(name)
}

// ProfileNames lists stored profile names in display order.
func (m *Manager) ProfileNames() ([]string, error) {
	return m.store.Names()
}

// ResolveName returns the stored spelling of name.
func (m *Manager) ResolveName(name string) (string, bool, error) {
	return m.store.Resolve(name)
}

// ActiveName returns the advisory active profile, or "".
func (m *Manager) ActiveName() string {
	return m.pointer.Get()
}

// SetActive records name as the active profile without touching any session data.
func (m *Manager) SetActive(name string) error {
	name = strings.TrimSpace(name)
	if err := m.pointer.Set(name); err != nil {
		return err
	}
	m.logger.WithField("profile", name).Info("active profile recorded")
	return nil
}

// LiveExists reports whether the live session directory is present.
func (m *Manager) LiveExists() (bool, error) {
	return m.storage.DirExists(m.paths.LiveDir())
}

// Save snapshots the live session as name.
func (m *Manager) Save(ctx context.Context, name string) (profile.Profile, error) {
	return m.store.Save(ctx, name)
}

// Delete removes the named profile.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.store.Delete(ctx, name)
}

// Switch loads the named profile into the live session and restarts the application.
func (m *Manager) Switch(ctx context.Context, name string) (switcher.Result, error) {
	return m.switcher.Switch(ctx, name)
}

// ListEntry is one line of the list command.
type ListEntry struct {
	Slot       int
	Prefix     string
	Name       string
	Qualifiers []string
	// Plain entries are messages rather than profile names.
	Plain bool
}

// List describes every stored profile plus the state of the active pointer.
func (m *Manager) List() ([]ListEntry, error) {
	profiles, err := m.store.List()
	if err != nil {
		return nil, err
	}
	active := m.pointer.Get()

	entries := make([]ListEntry, 0, len(profiles)+1)
	activeFound := false
	for i, p := range profiles {
		entry := ListEntry{Slot: i + 1, Prefix: " ", Name: p.Name}
		if active != "" && strings.EqualFold(p.Name, active) {
			activeFound = true
			entry.Prefix = "*"
			entry.Qualifiers = append(entry.Qualifiers, "active")
		}
		entry.Qualifiers = append(entry.Qualifiers,
			humanize.Bytes(uint64(p.SizeBytes)),
			"saved "+humanize.Time(p.CreatedAt),
		)
		entries = append(entries, entry)
	}

	switch {
	case active != "" && !activeFound:
		entries = append(entries, ListEntry{Prefix: "!", Name: active, Qualifiers: []string{"active", "missing!"}})
	case active == "":
		if live, err := m.LiveExists(); err == nil && live {
			entries = append(entries, ListEntry{Prefix: "*", Name: "(Current session is unsaved)", Plain: true})
		}
	}
	return entries, nil
}

// Status summarises the on-disk state.
type Status struct {
	Home        string
	Active      string
	ActiveSaved bool
	LiveExists  bool
	// Leftover is set when a switching backup survived, i.e. an earlier switch did not finish.
	Leftover    bool
	BackupDir   string
	Profiles    int
	MaxProfiles int
	ConfigFile  string
}

// Status inspects the live directory, pointer and backup.
func (m *Manager) Status() (Status, error) {
	st := Status{
		Home:        m.paths.Root(),
		Active:      m.pointer.Get(),
		BackupDir:   m.paths.BackupDir(),
		MaxProfiles: m.store.MaxProfiles(),
		ConfigFile:  m.cfg.File,
	}
	var err error
	if st.LiveExists, err = m.LiveExists(); err != nil {
		return st, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	if st.Leftover, err = m.backups.Leftover(); err != nil {
		return st, fmt.Errorf("%w: %w", domain.ErrIOFailure, err)
	}
	names, err := m.store.Names()
	if err != nil {
		return st, err
	}
	st.Profiles = len(names)
	if st.Active != "" {
		_, st.ActiveSaved, err = m.store.Resolve(st.Active)
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

// DiscardBackup deletes a switching backup left behind by an interrupted switch.
func (m *Manager) DiscardBackup(ctx context.Context) (bool, error) {
	return m.backups.Discard(ctx)
}

// NewDetector builds a rate-limit detector that reports to handler. Every
// detector under the same home shares one cooldown.
func (m *Manager) NewDetector(handler detect.Handler) *detect.Detector {
	matcher := detect.NewMatcher(m.cfg.Detector.ExtraPatterns...)
	// watch and check run as separate processes; the state file gives them one window
	gate := detect.NewSharedGate(m.cfg.CooldownWindow,
		detect.NewFileGateStore(m.storage, m.paths.CooldownStatePath()), m.logger)
	tail := detect.NewLogTail(m.storage, m.paths.LogsDir(), m.cfg.Detector.ResyncOnShrink)
	return detect.New(matcher, gate, tail, handler, detect.Options{
		PollInterval: m.cfg.LogPollInterval,
		WatchMode:    m.watchMode,
	}, m.logger)
}

// Close waits for background backup cleanup to finish or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	return m.backups.Close(ctx)
}
