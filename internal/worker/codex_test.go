package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodexClassify(t *testing.T) {
	k, err := KindFor("codex")
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
		want Status
	}{
		{
			name: "empty buffer is error",
			text: "",
			want: StatusError,
		},
		{
			name: "whitespace only is error",
			text: "   \n\n  ",
			want: StatusError,
		},
		{
			name: "work indicator wins over prompt hint and footer",
			text: "› summarize recent commits\nWorking (12s • esc to interrupt)\n› send a message or / for shortcuts\n59% context left",
			want: StatusProcessing,
		},
		{
			name: "work indicator alone",
			text: "• Running the build\nWorking (5s • esc to interrupt)",
			want: StatusProcessing,
		},
		{
			name: "bare composer with footer is idle, not user input",
			text: "› \n100% context left",
			want: StatusIdle,
		},
		{
			name: "narrative mention of running commands with trailing prompt is idle",
			text: "stop running commands\n› ",
			want: StatusIdle,
		},
		{
			name: "narrative exploring with old prompt is idle",
			text: "I was exploring the codebase structure\n❯ ",
			want: StatusIdle,
		},
		{
			name: "user turn answered by bullet then fresh composer is completed",
			text: "› Reply with READY\n• READY\n› \n100% context left",
			want: StatusCompleted,
		},
		{
			name: "tab separated user input is recognized",
			text: "›\tReply with READY\n• READY\n› \n100% context left",
			want: StatusCompleted,
		},
		{
			name: "error after user input wins over trailing prompt",
			text: "You Run the build\nError: failed to compile\n\n❯ ",
			want: StatusError,
		},
		{
			name: "assistant quoting an error is completed",
			text: "› check the log\n• The log ends with Error: disk full\n› \n100% context left",
			want: StatusCompleted,
		},
		{
			name: "approval question with no user turn is waiting",
			text: "$ rm -rf build\nApprove this command? [y/n]",
			want: StatusWaiting,
		},
		{
			name: "assistant quoting an approval question is completed",
			text: "› run it\n• It asked Approve this change? y/n and I declined\n› \n99% context left",
			want: StatusCompleted,
		},
		{
			name: "selection prompt with confirm hint is waiting",
			text: "› 1. Yes, proceed (y)\n  2. No, cancel (n)\n\n  Press enter to confirm or esc to cancel",
			want: StatusWaiting,
		},
		{
			name: "merged redraw line with footer is idle",
			text: "›Summarize recent commits? for shortcuts59% context left",
			want: StatusIdle,
		},
		{
			name: "old prompt at end without conversation is idle",
			text: "codex v0.99\ncodex> ",
			want: StatusIdle,
		},
		{
			name: "no prompt and no indicator defaults to processing",
			text: "You asked for a summary\nreading files",
			want: StatusProcessing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, k.Classify(tt.text))
		})
	}
}

func TestCodexExtractLastResponse(t *testing.T) {
	k, err := KindFor("codex")
	require.NoError(t, err)

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "bullet response before fresh composer",
			text: "› say READY2\n• READY2\n› \n100% context left",
			want: "READY2",
		},
		{
			name: "multiline bullet keeps inner lines",
			text: "• First line\n  second line\n  third line\n› \n99% context left",
			want: "First line\n  second line\n  third line",
		},
		{
			name: "prefixed assistant line",
			text: "codex: hello there\ncodex> ",
			want: "hello there",
		},
		{
			name: "ansi sequences are stripped",
			text: "\x1b[1m• \x1b[0mREADY\x1b[0m\n\x1b[2m› \x1b[0m",
			want: "READY",
		},
		{
			name: "no trailing prompt returns rest of text",
			text: "• All done\nExtra detail",
			want: "All done\nExtra detail",
		},
		{
			name: "footer bounds the response",
			text: "• Summary written\n42% context left\nleftover render",
			want: "Summary written",
		},
		{
			name:    "no marker",
			text:    "› hello\nthinking...",
			wantErr: true,
		},
		{
			name:    "empty after marker",
			text:    "• \n› ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := k.ExtractLastResponse(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodexLaunch(t *testing.T) {
	k, err := KindFor("codex")
	require.NoError(t, err)

	assert.Equal(t, "codex", k.LaunchCommand(Profile{Name: "programmer"}))
	assert.Equal(t, "y", k.AcceptAnswer())
}
