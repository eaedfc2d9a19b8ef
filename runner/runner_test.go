package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("production logger", func(t *testing.T) {
		logger, err := NewLogger(false)
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.False(t, logger.Core().Enabled(-1), "debug should be disabled")
	})

	t.Run("debug logger", func(t *testing.T) {
		logger, err := NewLogger(true)
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(-1), "debug should be enabled")
	})
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{
			name:  "fits on one line",
			text:  "hello",
			width: 10,
			want:  []string{"hello"},
		},
		{
			name:  "wraps at width",
			text:  "abcdef",
			width: 3,
			want:  []string{"abc", "def"},
		},
		{
			name:  "empty input",
			text:  "",
			width: 10,
			want:  nil,
		},
		{
			name:  "wide runes count double",
			text:  "日本語",
			width: 4,
			want:  []string{"日本", "語"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wrapText(tt.text, tt.width))
		})
	}
}

func TestBanner(t *testing.T) {
	out := banner([]string{"first", "second line"}, 40)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 4)

	assert.True(t, strings.HasPrefix(lines[0], "╔"))
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "╚"))

	for _, line := range lines[1 : len(lines)-1] {
		assert.True(t, strings.HasPrefix(line, "║ "), "line %q", line)
		assert.True(t, strings.HasSuffix(line, " ║"), "line %q", line)
	}

	assert.Contains(t, out, "first")
	assert.Contains(t, out, "second line")
}

func TestRunModes(t *testing.T) {
	assert.NotEqual(t, RunModeWeb, RunModeWorker)
	assert.NotZero(t, RunModeWeb)
}
