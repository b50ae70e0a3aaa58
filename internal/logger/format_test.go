package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripAnsiCodes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"\x1b[31mred\x1b[0m", "red"},
		{"\x1b[1;32mbold green\x1b[0m tail", "bold green tail"},
		{"", ""},
		{"no escape [31m here", "no escape [31m here"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, stripAnsiCodes(tc.in))
	}
}

func TestFastReplaceAttrRenamesTimestamp(t *testing.T) {
	attr := fastReplaceAttr(nil, slog.String("server", "\x1b[36malpha\x1b[0m"))
	assert.Equal(t, "alpha", attr.Value.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
