package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/OpenGG/session-switch/internal/ssw"
	"github.com/OpenGG/session-switch/internal/ssw/config"
	"github.com/OpenGG/session-switch/internal/ssw/detect"
	"github.com/OpenGG/session-switch/internal/ssw/domain"
	"github.com/OpenGG/session-switch/internal/ssw/logging"
)

// Options configures the root command.
type Options struct {
	Prompter Prompter
	Notifier Notifier
	// Interactive allows prompts. When false, missing arguments are errors.
	Interactive bool
	Fs          afero.Fs
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

// env is what every subcommand needs once flags are parsed.
type env struct {
	mgr         *ssw.Manager
	prompter    Prompter
	notifier    Notifier
	interactive bool
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
}

// Execute builds the ssw command tree, runs it with args and releases the
// manager afterwards, also when the command failed.
func Execute(ctx context.Context, opts Options, args []string) error {
	root, finish := NewRootCommand(opts)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, finish())
}

// NewRootCommand constructs the root Cobra command for ssw. The returned
// function waits for background cleanup and closes the log file; call it once
// the command has run.
func NewRootCommand(opts Options) (*cobra.Command, func() error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Notifier == nil {
		opts.Notifier = DesktopNotifier{}
	}
	e := &env{
		prompter:    opts.Prompter,
		notifier:    opts.Notifier,
		interactive: opts.Interactive && opts.Prompter != nil,
		stdin:       opts.Stdin,
		stdout:      opts.Stdout,
		stderr:      opts.Stderr,
	}

	var (
		load    config.LoadOptions
		closeFn func() error
	)
	finish := func() error {
		if closeFn == nil {
			return nil
		}
		fn := closeFn
		closeFn = nil
		return fn()
	}

	cmd := &cobra.Command{
		Use:           "ssw",
		Short:         "Session switcher",
		Long:          "ssw saves named snapshots of an editor's signed-in session and switches between them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			load.Fs = opts.Fs
			cfg, err := config.Load(load)
			if err != nil {
				return err
			}
			logger, closer, err := logging.New(logging.Options{
				File:       cfg.LogFile,
				MaxSizeMB:  cfg.LogMaxSizeMB,
				MaxBackups: cfg.LogMaxBackups,
				Verbose:    cfg.Verbose,
				Console:    opts.Stderr,
				Fs:         opts.Fs,
			})
			if err != nil {
				return err
			}
			mgr, err := ssw.NewManager(opts.Fs, cfg, logger)
			if err != nil {
				closer.Close()
				return err
			}
			e.mgr = mgr
			closeFn = func() error {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.IOTimeout)
				defer cancel()
				err := mgr.Close(ctx)
				return errors.Join(err, closer.Close())
			}
			return nil
		},
	}

	cmd.SetIn(opts.Stdin)
	cmd.SetOut(opts.Stdout)
	cmd.SetErr(opts.Stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&load.ConfigFile, "config", "", "config file (default is <home>/config.yaml)")
	flags.StringVar(&load.Home, "home", "", "application data directory (env SSW_HOME)")
	flags.StringVar(&load.LogFile, "log-file", "", "write logs to this file, rotated")
	flags.BoolVarP(&load.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newListCommand(e))
	cmd.AddCommand(newSaveCommand(e))
	cmd.AddCommand(newDeleteCommand(e))
	cmd.AddCommand(newUseCommand(e))
	cmd.AddCommand(newSetActiveCommand(e))
	cmd.AddCommand(newStatusCommand(e))
	cmd.AddCommand(newDiscardBackupCommand(e))
	cmd.AddCommand(newWatchCommand(e))
	cmd.AddCommand(newCheckCommand(e))

	return cmd, finish
}

func newListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := e.mgr.List()
			if err != nil {
				return err
			}
			profiles := 0
			for _, entry := range entries {
				qualifier := ""
				if len(entry.Qualifiers) > 0 {
					qualifier = " (" + strings.Join(entry.Qualifiers, ", ") + ")"
				}
				slot := "  "
				if entry.Slot > 0 {
					profiles++
					slot = fmt.Sprintf("%d.", entry.Slot)
				}
				if entry.Plain {
					fmt.Fprintf(e.stdout, "%s %s %s%s\n", slot, entry.Prefix, entry.Name, qualifier)
				} else {
					fmt.Fprintf(e.stdout, "%s %s [%s]%s\n", slot, entry.Prefix, entry.Name, qualifier)
				}
			}
			if profiles == 0 {
				fmt.Fprintln(e.stdout, "No profiles found. Use 'ssw save' to create one.")
			}
			return nil
		},
	}
}

const newProfileLabel = "[New Profile]"

func newSaveCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "save [name]",
		Short: "Save the current session as a profile and mark it active",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) > 0 {
				target = args[0]
			} else {
				if !e.interactive {
					return errors.New("profile name required in non-interactive mode")
				}
				// no point asking for a name when there is nothing to save
				live, err := e.mgr.LiveExists()
				if err != nil {
					return fmt.Errorf("%w: %s: %w", domain.ErrIOFailure, e.mgr.Paths().LiveDir(), err)
				}
				if !live {
					return fmt.Errorf("%w: %s. Nothing to save", domain.ErrSourceMissing, e.mgr.Paths().LiveDir())
				}
				var ok bool
				target, ok, err = e.pickSaveTarget(cmd)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(e.stdout, "Aborted saving profile.")
					return nil
				}
			}

			p, err := e.mgr.Save(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Successfully saved and activated profile: %s\n", p.Name)
			return nil
		},
	}
}

// pickSaveTarget asks for an existing profile to overwrite or a new name.
func (e *env) pickSaveTarget(cmd *cobra.Command) (string, bool, error) {
	names, err := e.mgr.ProfileNames()
	if err != nil {
		return "", false, err
	}
	defaultValue := e.activeStored(names)
	if defaultValue == "" {
		defaultValue = newProfileLabel
	}
	names = reorderWithDefault(names, defaultValue)
	items := append([]string{newProfileLabel}, names...)
	_, selection, err := e.prompter.Select("Select destination to save the current session", items, defaultValue)
	if err != nil {
		return "", false, err
	}

	if selection != newProfileLabel {
		confirm, err := e.prompter.Confirm(fmt.Sprintf("Overwrite %s? (y/N)", selection), false)
		if err != nil {
			return "", false, err
		}
		return selection, confirm, nil
	}

	if len(names) >= e.mgr.MaxProfiles() {
		return "", false, fmt.Errorf("all %d profile slots are in use, delete one or overwrite an existing profile", e.mgr.MaxProfiles())
	}
	for {
		name, err := e.prompter.Prompt("Enter a name for the new profile")
		if err != nil {
			return "", false, err
		}
		name = strings.TrimSpace(name)
		if vErr := e.mgr.ValidateName(name); vErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", vErr.Error())
			continue
		}
		if _, exists, err := e.mgr.ResolveName(name); err != nil {
			return "", false, err
		} else if exists {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: Profile '%s' already exists.\n", name)
			continue
		}
		return name, true, nil
	}
}

func newDeleteCommand(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a saved profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := e.nameArg(args, "Select profile to delete")
			if err != nil {
				return err
			}
			if !force {
				if !e.interactive {
					return errors.New("refusing to delete without --force in non-interactive mode")
				}
				confirm, err := e.prompter.Confirm(fmt.Sprintf("Delete %s? (y/N)", name), false)
				if err != nil {
					return err
				}
				if !confirm {
					fmt.Fprintln(e.stdout, "Delete cancelled.")
					return nil
				}
			}
			if err := e.mgr.Delete(cmd.Context(), name); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Deleted profile: %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Do not prompt for confirmation")
	return cmd
}

func newUseCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "use [name]",
		Aliases: []string{"switch"},
		Short:   "Load a saved profile into the live session and restart the application",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := e.nameArg(args, "Select profile to activate")
			if err != nil {
				return err
			}
			return e.switchTo(cmd.Context(), name)
		},
	}
}

func (e *env) switchTo(ctx context.Context, name string) error {
	res, err := e.mgr.Switch(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Successfully switched to profile: %s\n", res.Profile)
	return nil
}

func newSetActiveCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "set-active <name>",
		Short: "Record which profile the live session belongs to, without copying anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if err := e.mgr.ValidateName(name); err != nil {
				return fmt.Errorf("invalid profile name: %w", err)
			}
			if err := e.mgr.SetActive(name); err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Active profile set to: %s\n", name)
			return nil
		},
	}
}

func newStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active profile and the state of the live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.mgr.Status()
			if err != nil {
				return err
			}
			fmt.Fprintf(e.stdout, "Home:     %s\n", st.Home)
			if st.ConfigFile != "" {
				fmt.Fprintf(e.stdout, "Config:   %s\n", st.ConfigFile)
			}
			switch {
			case st.Active == "":
				fmt.Fprintln(e.stdout, "Active:   (none)")
			case st.ActiveSaved:
				fmt.Fprintf(e.stdout, "Active:   %s\n", st.Active)
			default:
				fmt.Fprintf(e.stdout, "Active:   %s (missing!)\n", st.Active)
			}
			live := "present"
			if !st.LiveExists {
				live = "missing"
			}
			fmt.Fprintf(e.stdout, "Session:  %s\n", live)
			fmt.Fprintf(e.stdout, "Profiles: %d of %d\n", st.Profiles, st.MaxProfiles)
			if st.Leftover {
				fmt.Fprintf(e.stdout, "\nWarning: a previous switch did not finish. The earlier session is kept at\n  %s\n", st.BackupDir)
				if !st.LiveExists {
					fmt.Fprintln(e.stdout, "Move it back to restore that session, or run 'ssw use' again.")
				} else {
					fmt.Fprintln(e.stdout, "Run 'ssw discard-backup' once you no longer need it.")
				}
			}
			return nil
		},
	}
}

func newDiscardBackupCommand(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "discard-backup",
		Short: "Remove the session backup left by an interrupted switch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.mgr.Status()
			if err != nil {
				return err
			}
			if !st.Leftover {
				fmt.Fprintln(e.stdout, "No leftover backup.")
				return nil
			}
			if !force {
				if !e.interactive {
					return errors.New("refusing to discard without --force in non-interactive mode")
				}
				label := fmt.Sprintf("Delete %s? (y/N)", st.BackupDir)
				if !st.LiveExists {
					label = fmt.Sprintf("The live session is missing; %s is the only copy. Delete it anyway? (y/N)", st.BackupDir)
				}
				confirm, err := e.prompter.Confirm(label, false)
				if err != nil {
					return err
				}
				if !confirm {
					fmt.Fprintln(e.stdout, "Discard cancelled.")
					return nil
				}
			}
			if _, err := e.mgr.DiscardBackup(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(e.stdout, "Backup removed.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Do not prompt for confirmation")
	return cmd
}

func newWatchCommand(e *env) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the application log for rate-limit errors and offer to switch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval > 0 {
				e.mgr.Config().LogPollInterval = interval
			}
			d := e.mgr.NewDetector(func(sig detect.Signal) {
				e.onSignal(cmd.Context(), sig)
			})
			fmt.Fprintf(e.stdout, "Watching %s for rate-limit messages (Ctrl+C to stop)\n", e.mgr.Paths().LogsDir())
			return d.Run(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "override log_poll_interval")
	return cmd
}

// onSignal alerts the user and, when a terminal is attached, offers a switch.
func (e *env) onSignal(ctx context.Context, sig detect.Signal) {
	message := fmt.Sprintf("Detected %q. Consider switching profiles.", sig.Keyword)
	e.notify(message)
	fmt.Fprintf(e.stdout, "[%s] rate limit signal from %s: %s\n", sig.At.Format(time.TimeOnly), sig.Trigger, sig.Keyword)
	e.offerSwitch(ctx)
}

func (e *env) notify(message string) {
	if err := e.notifier.Notify("ssw: rate limit", message); err != nil {
		fmt.Fprintf(e.stderr, "Warning: desktop notification failed: %v\n", err)
	}
}

// offerSwitch lets the user pick another profile. It does nothing without a terminal.
func (e *env) offerSwitch(ctx context.Context) {
	if !e.interactive {
		return
	}
	names, err := e.mgr.ProfileNames()
	if err != nil || len(names) == 0 {
		return
	}
	const stay = "[Stay on current profile]"
	items := append([]string{stay}, names...)
	_, selected, err := e.prompter.Select("Switch to another profile?", items, stay)
	if err != nil || selected == stay {
		return
	}
	if err := e.switchTo(ctx, selected); err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
	}
}

func newCheckCommand(e *env) *cobra.Command {
	var (
		source string
		notify bool
	)
	cmd := &cobra.Command{
		Use:   "check [text...]",
		Short: "Check diagnostic text for rate-limit messages (reads stdin when no text is given)",
		Long: "check feeds diagnostic text through the same matcher and cooldown as 'ssw watch'.\n" +
			"A signal raised by either command holds back the other for the cooldown window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			messages := args
			if len(messages) == 0 {
				lines, err := readLines(e.stdin)
				if err != nil {
					return err
				}
				messages = lines
			}

			var fired *detect.Signal
			d := e.mgr.NewDetector(func(sig detect.Signal) { fired = &sig })
			keyword, matched := d.FirstMatch(messages)
			if !matched {
				fmt.Fprintln(e.stdout, "No rate limit signal.")
				return nil
			}
			if !d.ObserveDiagnostics(source, messages) || fired == nil {
				fmt.Fprintf(e.stdout, "Rate limit signal: %s (suppressed, an alert was raised within the last %s)\n",
					keyword, d.Window())
				return nil
			}

			fmt.Fprintf(e.stdout, "Rate limit signal: %s\n", fired.Keyword)
			if notify {
				e.notify(fmt.Sprintf("Detected %q in %s.", fired.Keyword, source))
			}
			e.offerSwitch(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "stdin", "name of the document the text came from")
	cmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification on a match")
	return cmd
}

// nameArg returns the profile name from args, or asks for one.
func (e *env) nameArg(args []string, label string) (string, error) {
	if len(args) > 0 {
		name := strings.TrimSpace(args[0])
		if err := e.mgr.ValidateName(name); err != nil {
			return "", fmt.Errorf("invalid profile name: %w", err)
		}
		return name, nil
	}
	if !e.interactive {
		return "", errors.New("profile name required in non-interactive mode")
	}
	names, err := e.mgr.ProfileNames()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no saved profiles in %s. Use 'ssw save' first", e.mgr.Paths().ProfilesDir())
	}
	active := e.activeStored(names)
	names = reorderWithDefault(names, active)
	_, selected, err := e.prompter.Select(label, names, active)
	if err != nil {
		return "", err
	}
	return selected, nil
}

// activeStored returns the stored spelling of the active profile, or "" when it is not saved.
func (e *env) activeStored(names []string) string {
	active := e.mgr.ActiveName()
	for _, name := range names {
		if strings.EqualFold(name, active) {
			return name
		}
	}
	return ""
}

func readLines(r io.Reader) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return lines, nil
}

// reorderWithDefault moves the default value to the front of the list.
// If defaultValue is empty or not found, or already first, returns items unchanged.
func reorderWithDefault(items []string, defaultValue string) []string {
	if defaultValue == "" {
		return items
	}

	idx := -1
	for i, item := range items {
		if item == defaultValue {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return items
	}

	reordered := make([]string, 0, len(items))
	reordered = append(reordered, defaultValue)
	reordered = append(reordered, items[:idx]...)
	reordered = append(reordered, items[idx+1:]...)
	return reordered
}
