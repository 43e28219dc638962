package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestManager_GetRecentNewestFirst(t *testing.T) {
	m := NewManager(3)
	for i := 1; i <= 5; i++ {
		m.Log(LogLevelInfo, "scout", fmt.Sprintf("msg %d", i))
	}

	got := m.GetRecent(10, "", "")
	require.Len(t, got, 3)
	assert.Equal(t, "msg 5", got[0].Message)
	assert.Equal(t, "msg 3", got[2].Message)
}

func TestManager_Filters(t *testing.T) {
	m := NewManager(10)
	m.Log(LogLevelInfo, "validation", "batch started")
	m.Log(LogLevelError, "validation", "lead failed")
	m.Log(LogLevelError, "scout", "probe failed")

	errs := m.GetRecent(10, "error", "")
	assert.Len(t, errs, 2)

	scout := m.GetRecent(10, "", "scout")
	require.Len(t, scout, 1)
	assert.Equal(t, "probe failed", scout[0].Message)
}

func TestManager_HookCapturesZapEntries(t *testing.T) {
	m := NewManager(10)
	core, _ := observer.New(zapcore.InfoLevel)
	logger := zap.New(core, zap.Hooks(m.Hook())).Named("strategy")

	logger.Info("strategy stored", zap.Int("version", 2))
	logger.Debug("suppressed")

	got := m.GetRecent(10, "", "")
	require.Len(t, got, 1)
	assert.Equal(t, "strategy stored", got[0].Message)
	assert.Equal(t, "strategy", got[0].Source)
	assert.Equal(t, "info", got[0].Level)
}

func TestNew_RejectsBadLevel(t *testing.T) {
	_, err := New("loud", "json", nil)
	assert.Error(t, err)

	logger, err := New("debug", "console", NewManager(10))
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
