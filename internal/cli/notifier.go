package cli

import "github.com/gen2brain/beeep"

// Notifier shows an alert outside the terminal.
type Notifier interface {
	Notify(title, message string) error
}

// DesktopNotifier posts native desktop notifications.
type DesktopNotifier struct{}

func (DesktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}
