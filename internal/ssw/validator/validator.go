package validator

import (
	"regexp"
	"strings"

	"github.com/OpenGG/session-switch/internal/ssw/domain"
)

var (
	reservedNamePattern = regexp.MustCompile(`^(?i)(con|prn|aux|nul|com[1-9]|lpt[1-9])$`)
	invalidCharsPattern = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// Validator validates profile names for security and compatibility.
type Validator struct{}

// New creates a new Validator instance.
func New() *Validator {
	return &Validator{}
}

// ValidateName validates a profile name before it becomes a directory under the store.
//
// The function checks for:
//   - Empty names or whitespace-only names
//   - Dot navigation (. or ..) and leading dots, which the store reserves for
//     its own staging directories and index
//   - Null bytes
//   - Control characters
//   - Invalid filesystem characters (<>:"/\|?*)
//   - Reserved Windows filenames (CON, PRN, AUX, NUL, COM1-9, LPT1-9)
//
// Unicode letters are allowed; profile names are often e-mail style account labels.
// Every returned error matches domain.ErrInvalidName.
func (v *Validator) ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) == 0 {
		return invalid(domain.ErrProfileNameEmpty)
	}
	if trimmed == "." || trimmed == ".." {
		return invalid(domain.ErrProfileNameDot)
	}
	if strings.HasPrefix(trimmed, ".") {
		return invalid(domain.ErrProfileNameHidden)
	}
	if strings.ContainsRune(trimmed, 0) {
		return invalid(domain.ErrProfileNameNullByte)
	}
	for _, r := range trimmed {
		if r < 0x20 || r == 0x7f {
			return invalid(domain.ErrProfileNameNonPrintable)
		}
	}
	if invalidCharsPattern.MatchString(trimmed) {
		return invalid(domain.ErrProfileNameInvalidChars)
	}
	if reservedNamePattern.MatchString(trimmed) {
		return invalid(domain.ErrProfileNameReserved)
	}
	return nil
}

// NormalizeName trims whitespace and validates the name.
func (v *Validator) NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := v.ValidateName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

func invalid(reason error) error {
	return &domain.NameError{Reason: reason}
}
