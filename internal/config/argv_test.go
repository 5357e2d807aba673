package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgv(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{name: "empty", input: "", want: nil},
		{name: "simple", input: "xdg-open settings://", want: []string{"xdg-open", "settings://"}},
		{name: "quoted spaces", input: `notify-send --app "parlance voice"`, want: []string{"notify-send", "--app", "parlance voice"}},
		{name: "single quote", input: `notify-send 'go back'`, want: []string{"notify-send", "go back"}},
		{name: "escaped space", input: `wtype scroll\ down`, want: []string{"wtype", "scroll down"}},
		{name: "empty quoted argument", input: `printf '%s\n' ""`, want: []string{"printf", `%s\n`, ""}},
		{name: "leading comment", input: `# notify-send done`, want: nil},
		{name: "unterminated quote", input: `notify-send "oops`, wantErr: "unterminated quote"},
		{name: "unterminated escape", input: `notify-send hello\`, wantErr: "unterminated escape"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseArgv(tc.input)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
