package riglog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	smerrors "github.com/Station-Manager/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logEntry map[string]any

func TestBuildErrorChain_WithDetailedAndStd(t *testing.T) {
	inner := smerrors.New("rig.Dial").Msg("dial tcp 127.0.0.1:9000: connect: connection refused")
	middle := smerrors.New("rig.Open").Err(inner).Msg("failed to reach the collector")
	outer := smerrors.New("rig.Start").Err(middle).Msg("startup failed")

	chain, ops, root, rootOp := buildErrorChain(outer)
	assert.Equal(t, []string{
		"startup failed",
		"failed to reach the collector",
		"dial tcp 127.0.0.1:9000: connect: connection refused",
	}, chain)
	assert.Equal(t, []string{"rig.Start", "rig.Open", "rig.Dial"}, ops)
	assert.Equal(t, "dial tcp 127.0.0.1:9000: connect: connection refused", root)
	assert.Equal(t, "rig.Dial", rootOp)

	wrapped := smerrors.New("wrap.Std").Errorf("wrap: %w", outer)
	chain2, _, root2, _ := buildErrorChain(wrapped)
	require.NotEmpty(t, chain2)
	assert.True(t, strings.HasPrefix(chain2[0], "wrap:"))
	assert.Equal(t, root, root2)
}

func TestBuildErrorChain_StdlibOnly(t *testing.T) {
	base := errors.New("disk full")
	err := errors.Join(base)

	chain, ops, root, rootOp := buildErrorChain(err)
	assert.Equal(t, []string{"disk full"}, chain)
	assert.Equal(t, []string{""}, ops)
	assert.Equal(t, "disk full", root)
	assert.Empty(t, rootOp)
	assert.Equal(t, "disk full", joinChain(chain))
	assert.Empty(t, joinChain(nil))
}

func TestEventErr_EmitsChainFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	le := newLogEvent(logger.Error())

	inner := smerrors.New("rig.Dial").Msg("connection refused")
	outer := smerrors.New("rig.Start").Err(inner).Msg("startup failed")

	le.Err(outer).Msg("boom")

	var entry logEntry
	require.NoError(t, json.NewDecoder(&buf).Decode(&entry))

	assert.NotEmpty(t, entry[zerolog.ErrorFieldName])
	assert.Equal(t, []any{"startup failed", "connection refused"}, entry["error_chain"])
	assert.Equal(t, "connection refused", entry["error_root"])
	assert.Equal(t, "startup failed -> connection refused", entry["error_history"])
	assert.Equal(t, []any{"rig.Start", "rig.Dial"}, entry["error_ops"])
	assert.Equal(t, "rig.Dial", entry["error_root_op"])
}

func TestEventErr_SingleErrorHasNoChain(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	newLogEvent(logger.Error()).Err(errors.New("plain")).Msg("boom")

	var entry logEntry
	require.NoError(t, json.NewDecoder(&buf).Decode(&entry))
	assert.Equal(t, "plain", entry[zerolog.ErrorFieldName])
	assert.NotContains(t, entry, "error_chain")
}

func TestEvent_DisabledIsNoop(t *testing.T) {
	le := newLogEvent(nil)
	assert.False(t, le.Enabled())
	assert.NotPanics(t, func() {
		le.Str("k", "v").Int("n", 1).Err(errors.New("x")).Msg("dropped")
	})
}
