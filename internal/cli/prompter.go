package cli

// Prompter asks the user to pick, type or confirm. Commands never prompt in
// non-interactive mode.
type Prompter interface {
	Select(label string, items []string, defaultValue string) (int, string, error)
	Prompt(label string) (string, error)
	Confirm(label string, defaultYes bool) (bool, error)
}
