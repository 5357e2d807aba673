// Package cli parses parlance command lines with a cobra command tree.
//
// Parsing is side-effect free: each leaf command records what was asked for
// in a Parsed value and the app package executes it.
package cli

import (
	"bytes"
	"strings"

	"github.com/spf13/cobra"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandStatus  Command = "status"
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandSwitch  Command = "switch"
	CommandEngines Command = "engines"
	CommandHistory Command = "history"
	CommandVocab   Command = "vocab"
	CommandReinit  Command = "reinit"
	CommandMatch   Command = "match"
	CommandEvents  Command = "events"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// Forwarded reports whether the command is served by a running owner.
func (c Command) Forwarded() bool {
	switch c {
	case CommandStatus, CommandStart, CommandStop, CommandCancel, CommandSwitch,
		CommandEngines, CommandHistory, CommandVocab, CommandReinit:
		return true
	default:
		return false
	}
}

// DefaultMatchConfidence is the recognizer confidence assumed by `match`.
const DefaultMatchConfidence = 1.0

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	JSON       bool
	Verbose    bool
	Confidence float64
	Types      []string
	ShowHelp   bool
	// Help holds the rendered help when ShowHelp is set.
	Help string
}

// Parse maps args onto a Parsed command. Usage problems are returned as errors.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Confidence: DefaultMatchConfidence}
	var out bytes.Buffer

	root := newRoot("parlance", &parsed)
	// cobra falls back to os.Args for nil.
	root.SetArgs(append([]string{}, args...))
	root.SetOut(&out)
	root.SetErr(&out)
	if err := root.Execute(); err != nil {
		return Parsed{}, err
	}

	if parsed.Command == "" {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
		parsed.Help = out.String()
		if strings.TrimSpace(parsed.Help) == "" {
			parsed.Help = root.UsageString()
		}
	}
	return parsed, nil
}

// HelpText renders root usage for binaryName.
func HelpText(binaryName string) string {
	return newRoot(binaryName, &Parsed{}).UsageString()
}

func newRoot(binaryName string, parsed *Parsed) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:           binaryName,
		Short:         "Multi-engine speech recognition orchestrator",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				parsed.Command = CommandVersion
				return nil
			}
			return cmd.Help()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVar(&showVersion, "version", false, "Show version")
	root.PersistentFlags().StringVar(&parsed.ConfigPath, "config", "", "Config file path (default: $XDG_CONFIG_HOME/parlance/config.jsonc)")
	root.PersistentFlags().BoolVar(&parsed.JSON, "json", false, "Print raw JSON responses")

	record := func(command Command) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			parsed.Command = command
			parsed.Args = args
			return nil
		}
	}
	leaf := func(command Command, short string, args cobra.PositionalArgs) *cobra.Command {
		return &cobra.Command{
			Use:   string(command),
			Short: short,
			Args:  args,
			RunE:  record(command),
		}
	}

	run := leaf(CommandRun, "Own the coordinator and serve the control socket", cobra.NoArgs)
	run.Flags().BoolVarP(&parsed.Verbose, "verbose", "v", false, "Mirror logs to stderr")

	switchCmd := leaf(CommandSwitch, "Switch the active engine", cobra.ExactArgs(1))
	switchCmd.Use = "switch <engine>"

	historyCmd := leaf(CommandHistory, "Print recent recognition records", cobra.MaximumNArgs(1))
	historyCmd.Use = "history [n]"

	match := leaf(CommandMatch, "Match text against the configured vocabulary offline", cobra.MinimumNArgs(1))
	match.Use = "match <text>"
	match.RunE = func(_ *cobra.Command, args []string) error {
		parsed.Command = CommandMatch
		parsed.Args = []string{strings.Join(args, " ")}
		return nil
	}
	match.Flags().Float64Var(&parsed.Confidence, "confidence", DefaultMatchConfidence, "Recognizer confidence to assume")

	eventsCmd := leaf(CommandEvents, "Stream events from a running owner", cobra.NoArgs)
	eventsCmd.Flags().StringSliceVar(&parsed.Types, "type", nil, "Only stream these event types (repeatable)")

	root.AddCommand(
		run,
		leaf(CommandStatus, "Print coordinator state", cobra.NoArgs),
		leaf(CommandStart, "Start listening", cobra.NoArgs),
		leaf(CommandStop, "Stop listening", cobra.NoArgs),
		leaf(CommandCancel, "Cancel recognition and discard in-flight results", cobra.NoArgs),
		switchCmd,
		leaf(CommandEngines, "List engines with health", cobra.NoArgs),
		historyCmd,
		newVocabCommand(parsed),
		leaf(CommandReinit, "Re-run engine initialization", cobra.NoArgs),
		match,
		eventsCmd,
		leaf(CommandDoctor, "Run configuration and environment checks", cobra.NoArgs),
		leaf(CommandVersion, "Print version information", cobra.NoArgs),
	)
	return root
}

func newVocabCommand(parsed *Parsed) *cobra.Command {
	vocab := &cobra.Command{
		Use:   "vocab",
		Short: "Inspect or change the vocabulary",
		Args:  cobra.NoArgs,
	}
	sub := func(name, short string, args cobra.PositionalArgs) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: short,
			Args:  args,
			RunE: func(_ *cobra.Command, args []string) error {
				parsed.Command = CommandVocab
				parsed.Args = append([]string{name}, args...)
				return nil
			},
		}
	}

	add := sub("add", "Add phrases", cobra.MinimumNArgs(1))
	add.Use = "add <phrase>..."
	remove := sub("remove", "Remove phrases", cobra.MinimumNArgs(1))
	remove.Use = "remove <phrase>..."

	vocab.AddCommand(
		add,
		remove,
		sub("clear", "Remove every phrase", cobra.NoArgs),
		sub("flush", "Propagate pending changes now", cobra.NoArgs),
		sub("list", "Print every phrase", cobra.NoArgs),
	)
	return vocab
}
