package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/OpenGG/session-switch/internal/cli"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := cli.Options{
		Prompter:    cli.NewPromptUI(stdin, stdout),
		Interactive: interactive(stdin),
		Stdin:       stdin,
		Stdout:      stdout,
		Stderr:      stderr,
	}
	if err := cli.Execute(ctx, opts, args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// interactive reports whether prompts may be shown: stdin must be a terminal
// and SSW_NON_INTERACTIVE must not be set.
func interactive(stdin io.Reader) bool {
	if v := strings.TrimSpace(os.Getenv("SSW_NON_INTERACTIVE")); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		return false
	}
	f, ok := stdin.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
