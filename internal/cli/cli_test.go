package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
	require.Contains(t, parsed.Help, "Usage:")
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/parlance.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/parlance.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantArgs []string
		wantHelp bool
		wantPath string
	}{
		{
			name:     "help short flag",
			args:     []string{"-h"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help long flag",
			args:     []string{"--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:    "version flag",
			args:    []string{"--version"},
			wantCmd: CommandVersion,
		},
		{
			name:     "config after command",
			args:     []string{"status", "--config", "/tmp/cfg"},
			wantCmd:  CommandStatus,
			wantPath: "/tmp/cfg",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "flag needs an argument",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after command",
			args:    []string{"doctor", "extra"},
			wantErr: "unknown command",
		},
		{
			name:    "switch without engine",
			args:    []string{"switch"},
			wantErr: "accepts 1 arg",
		},
		{
			name:     "switch with engine",
			args:     []string{"switch", "openai"},
			wantCmd:  CommandSwitch,
			wantArgs: []string{"openai"},
		},
		{
			name:     "history with limit",
			args:     []string{"history", "5"},
			wantCmd:  CommandHistory,
			wantArgs: []string{"5"},
		},
		{
			name:     "vocab add phrases",
			args:     []string{"vocab", "add", "open settings", "go back"},
			wantCmd:  CommandVocab,
			wantArgs: []string{"add", "open settings", "go back"},
		},
		{
			name:     "vocab clear",
			args:     []string{"vocab", "clear"},
			wantCmd:  CommandVocab,
			wantArgs: []string{"clear"},
		},
		{
			name:    "vocab add without phrases",
			args:    []string{"vocab", "add"},
			wantErr: "requires at least 1 arg",
		},
		{
			name:     "vocab alone shows help",
			args:     []string{"vocab"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "match joins words",
			args:     []string{"match", "open", "settings"},
			wantCmd:  CommandMatch,
			wantArgs: []string{"open settings"},
		},
		{
			name:     "valid stop with config",
			args:     []string{"--config", "/tmp/cfg", "stop"},
			wantCmd:  CommandStop,
			wantPath: "/tmp/cfg",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
			if tc.wantArgs != nil {
				require.Equal(t, tc.wantArgs, parsed.Args)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	parsed, err := Parse([]string{"match", "--confidence", "0.6", "go", "back"})
	require.NoError(t, err)
	require.InDelta(t, 0.6, parsed.Confidence, 1e-9)
	require.Equal(t, []string{"go back"}, parsed.Args)

	parsed, err = Parse([]string{"match", "go back"})
	require.NoError(t, err)
	require.InDelta(t, DefaultMatchConfidence, parsed.Confidence, 1e-9)

	parsed, err = Parse([]string{"events", "--type", "final_result", "--type", "error"})
	require.NoError(t, err)
	require.Equal(t, CommandEvents, parsed.Command)
	require.Equal(t, []string{"final_result", "error"}, parsed.Types)

	parsed, err = Parse([]string{"run", "-v"})
	require.NoError(t, err)
	require.Equal(t, CommandRun, parsed.Command)
	require.True(t, parsed.Verbose)

	parsed, err = Parse([]string{"--json", "engines"})
	require.NoError(t, err)
	require.True(t, parsed.JSON)
}

func TestForwarded(t *testing.T) {
	for _, cmd := range []Command{CommandStatus, CommandStart, CommandStop, CommandCancel, CommandSwitch, CommandEngines, CommandHistory, CommandVocab, CommandReinit} {
		require.True(t, cmd.Forwarded(), cmd)
	}
	for _, cmd := range []Command{CommandRun, CommandMatch, CommandEvents, CommandDoctor, CommandVersion, CommandHelp} {
		require.False(t, cmd.Forwarded(), cmd)
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("parlance")
	require.Contains(t, text, "run")
	require.Contains(t, text, "switch")
	require.Contains(t, text, "vocab")
	require.Contains(t, text, "doctor")
	require.Contains(t, text, "--config")
}
