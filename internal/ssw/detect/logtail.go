package detect

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/OpenGG/session-switch/internal/ssw/paths"
	"github.com/OpenGG/session-switch/internal/ssw/storage"
)

// ErrNoLogs is returned when the logs directory has no session subdirectory.
var ErrNoLogs = errors.New("no log directory found")

// DefaultReadLimit bounds the text returned by one Read. When more was appended
// only the newest DefaultReadLimit bytes are returned.
const DefaultReadLimit = 256 << 10

// LogTail returns text appended to the application's main log since the previous read.
//
// The cursor only moves forward. When the file shrinks or stays the same size
// the read is skipped and the cursor kept, unless resync is enabled, in which
// case the cursor follows the new, smaller size and restarts at zero whenever a
// newer log directory appears.
type LogTail struct {
	mu sync.Mutex

	storage *storage.Storage
	logsDir string
	resync  bool

	path   string
	cursor int64
	primed bool
	limit  int64
}

// NewLogTail creates a LogTail over logsDir.
func NewLogTail(stor *storage.Storage, logsDir string, resync bool) *LogTail {
	return &LogTail{storage: stor, logsDir: logsDir, resync: resync, limit: DefaultReadLimit}
}

// Cursor returns the tracked file and offset.
func (t *LogTail) Cursor() (string, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path, t.cursor
}

// Read returns newly appended text, or "" when there is none.
// The first call only records the current size.
func (t *LogTail) Read() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path, err := t.latest()
	if err != nil {
		return "", err
	}
	info, err := t.storage.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()

	if !t.primed {
		t.path, t.cursor, t.primed = path, size, true
		return "", nil
	}

	if path != t.path {
		t.path = path
		if t.resync {
			t.cursor = 0
		}
	}

	if size <= t.cursor {
		if t.resync && size < t.cursor {
			t.cursor = size
		}
		return "", nil
	}

	from := t.cursor
	if size-from > t.limit {
		from = size - t.limit
	}
	text, err := t.readRange(path, from, size)
	if err != nil {
		return "", err
	}
	t.cursor = from + int64(len(text))
	return text, nil
}

// latest picks the main log of the directory that sorts last by name.
func (t *LogTail) latest() (string, error) {
	entries, err := t.storage.ReadDir(t.logsDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", t.logsDir, err)
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoLogs, t.logsDir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	return filepath.Join(t.logsDir, dirs[0], paths.MainLogFileName), nil
}

func (t *LogTail) readRange(path string, from, to int64) (string, error) {
	f, err := t.storage.FileSystem().Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(buf[:n]), nil
}
