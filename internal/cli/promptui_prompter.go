package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

// menuSize is the number of choices shown at once.
const menuSize = 10

var (
	choiceTemplates = &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ . | cyan }}",
		Inactive: "  {{ . }}",
		Selected: "✔ {{ . | green }}",
	}
	confirmChoices = []string{"No", "Yes"}
)

// PromptUI asks questions on a terminal.
type PromptUI struct {
	in  io.ReadCloser
	out io.WriteCloser
}

// NewPromptUI creates a PromptUI reading in and drawing on out. Nil means the
// process's stdin or stdout.
func NewPromptUI(in io.Reader, out io.Writer) *PromptUI {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	rc, ok := in.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(in)
	}
	wc, ok := out.(io.WriteCloser)
	if !ok {
		wc = keepOpen{out}
	}
	return &PromptUI{in: rc, out: wc}
}

// Select shows items with defaultValue under the cursor. Typing "/" filters by substring.
func (p *PromptUI) Select(label string, items []string, defaultValue string) (int, string, error) {
	menu := promptui.Select{
		Label:     label,
		Items:     items,
		Size:      menuSize,
		HideHelp:  true,
		CursorPos: indexOf(items, defaultValue),
		Templates: choiceTemplates,
		Searcher: func(input string, i int) bool {
			return strings.Contains(strings.ToLower(items[i]), strings.ToLower(strings.TrimSpace(input)))
		},
		Stdin:  p.in,
		Stdout: p.out,
	}
	i, value, err := menu.Run()
	if err != nil {
		return i, value, cancelled(err)
	}
	return i, value, nil
}

// Prompt asks for a line of text. Blank input is refused on the spot.
func (p *PromptUI) Prompt(label string) (string, error) {
	input := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("a value is required")
			}
			return nil
		},
		Stdin:  p.in,
		Stdout: p.out,
	}
	value, err := input.Run()
	if err != nil {
		return "", cancelled(err)
	}
	return value, nil
}

// Confirm asks a yes/no question as a two-entry menu.
func (p *PromptUI) Confirm(label string, defaultYes bool) (bool, error) {
	label = strings.TrimSuffix(strings.TrimSuffix(label, " (y/N)"), " (Y/n)")
	def := confirmChoices[0]
	if defaultYes {
		def = confirmChoices[1]
	}
	_, answer, err := p.Select(label, confirmChoices, def)
	if err != nil {
		return false, err
	}
	return answer == confirmChoices[1], nil
}

// cancelled reports Ctrl+C, Ctrl+D and other prompt failures as ErrPromptCancelled.
func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrPromptCancelled, err)
}

func indexOf(items []string, value string) int {
	for i, item := range items {
		if value != "" && item == value {
			return i
		}
	}
	return 0
}

// keepOpen lets promptui close its output without closing ours.
type keepOpen struct {
	io.Writer
}

func (keepOpen) Close() error { return nil }
