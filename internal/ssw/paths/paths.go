package paths

import "path/filepath"

// Directory and file names under the application-data root.
const (
	ProfilesDirName     = "Profiles"
	ActiveFileName      = "active_profile.txt"
	LiveDirName         = "User"
	BackupSuffix        = "_switching_backup"
	LogsDirName         = "logs"
	MainLogFileName     = "main.log"
	IndexFileName       = "profiles_index.yaml"
	CooldownFileName    = "cooldown_state.txt"
	ConfigFileName      = "config.yaml"
	StagingDirPrefix    = ".staging-"
	ReplacedDirPrefix   = ".replaced-"
	DefaultAppDirectory = "Antigravity"
)

// PathBuilder provides methods to construct paths relative to an application-data root.
type PathBuilder struct {
	root string
}

// New creates a new PathBuilder for the given application-data root.
func New(root string) *PathBuilder {
	return &PathBuilder{root: root}
}

// Root returns the application-data root.
func (p *PathBuilder) Root() string {
	return p.root
}

// LiveDir returns the live session directory the application reads at runtime.
func (p *PathBuilder) LiveDir() string {
	return filepath.Join(p.root, LiveDirName)
}

// BackupDir returns the transient sibling the live directory is moved to during a switch.
func (p *PathBuilder) BackupDir() string {
	return filepath.Join(p.root, LiveDirName+BackupSuffix)
}

// ActiveStatePath returns the path to the active profile pointer file.
func (p *PathBuilder) ActiveStatePath() string {
	return filepath.Join(p.root, ActiveFileName)
}

// ProfilesDir returns the directory where profile snapshots are stored.
func (p *PathBuilder) ProfilesDir() string {
	return filepath.Join(p.root, ProfilesDirName)
}

// ProfileDir returns the snapshot directory for a named profile.
func (p *PathBuilder) ProfileDir(name string) string {
	return filepath.Join(p.ProfilesDir(), name)
}

// IndexPath returns the path of the profile index file. It sits beside the
// pointer file so that every entry of ProfilesDir is a snapshot.
func (p *PathBuilder) IndexPath() string {
	return filepath.Join(p.root, IndexFileName)
}

// CooldownStatePath returns the file recording when a rate-limit alert last fired.
func (p *PathBuilder) CooldownStatePath() string {
	return filepath.Join(p.root, CooldownFileName)
}

// LogsDir returns the directory holding the application's timestamped log directories.
func (p *PathBuilder) LogsDir() string {
	return filepath.Join(p.root, LogsDirName)
}

// ConfigPath returns the default config file location.
func (p *PathBuilder) ConfigPath() string {
	return filepath.Join(p.root, ConfigFileName)
}
