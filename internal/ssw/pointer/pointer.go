// Package pointer persists the advisory name of the profile presumed loaded
// into the live session directory.
package pointer

import (
	"fmt"
	"strings"

	"github.com/OpenGG/session-switch/internal/ssw/domain"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
)

// Pointer reads and writes active_profile.txt.
//
// The recorded name is not guaranteed to match what is on disk: it is written
// by save and switch and never cleared when the named profile is deleted.
type Pointer struct {
	storage *storage.Storage
	path    string
}

// New creates a Pointer backed by the file at path.
func New(storage *storage.Storage, path string) *Pointer {
	return &Pointer{storage: storage, path: path}
}

// Get returns the recorded profile name, or "" when none is recorded or the file is unreadable.
func (p *Pointer) Get() string {
	content, err := p.storage.ReadFile(p.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

// Set records name as the active profile.
func (p *Pointer) Set(name string) error {
	if err := p.storage.WriteFile(p.path, []byte(name)); err != nil {
		return fmt.Errorf("%w: failed to write active profile file: %w", domain.ErrIOFailure, err)
	}
	return nil
}
