package domain

import "errors"

// Exported error variables allow callers to use errors.Is() for error checking.
var (
	ErrInvalidName            = errors.New("invalid profile name")
	ErrCapacityExceeded       = errors.New("profile capacity exceeded")
	ErrSourceMissing          = errors.New("live session directory not found")
	ErrNotFound               = errors.New("profile not found")
	ErrProcessHostUnavailable = errors.New("application executable not found")
	ErrIOFailure              = errors.New("filesystem operation failed")
	ErrParseFailure           = errors.New("malformed profile index")
)

// Specific name validation failures. Each one is reported together with ErrInvalidName.
var (
	ErrProfileNameEmpty        = errors.New("profile name cannot be empty")
	ErrProfileNameDot          = errors.New("profile name cannot be '.' or '..'")
	ErrProfileNameNonPrintable = errors.New("profile name contains non-printable characters")
	ErrProfileNameInvalidChars = errors.New("profile name contains invalid characters (<>:\"/\\|?*)")
	ErrProfileNameReserved     = errors.New("profile name is a reserved system filename")
	ErrProfileNameNullByte     = errors.New("profile name contains null byte")
	ErrProfileNameHidden       = errors.New("profile name cannot start with '.'")
)

// NameError joins ErrInvalidName with the specific reason so both match errors.Is.
type NameError struct {
	Reason error
}

func (e *NameError) Error() string {
	return e.Reason.Error()
}

func (e *NameError) Unwrap() []error {
	return []error{ErrInvalidName, e.Reason}
}
