package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "warn", "json")
	require.NoError(t, err)

	sl := Component(l, "sweeper")
	sl.Info().Msg("dropped")
	require.Zero(t, buf.Len())

	sl.Warn().Int("count", 3).Msg("kept")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "kept", line["message"])
	require.Equal(t, "sweeper", line["component"])
	require.Equal(t, "hold-service-go", line["service"])
	require.EqualValues(t, 3, line["count"])
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "", "console")
	require.NoError(t, err)

	l.Info().Msg("hello")
	require.Contains(t, buf.String(), "hello")
}

func TestNewWithWriter_Invalid(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud", "json")
	require.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}
