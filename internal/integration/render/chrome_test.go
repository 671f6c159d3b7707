package render

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromeEngine_RetriesAfterFailedStart(t *testing.T) {
	e := NewChromeEngine(ChromeConfig{Headless: true, ExecPath: filepath.Join(t.TempDir(), "no-chrome")})
	defer e.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := e.browserCtx
	_, err := e.NewSession(ctx)
	require.Error(t, err)
	assert.Error(t, failed.Err(), "failed browser context is released")
	assert.NoError(t, e.browserCtx.Err(), "next session gets a fresh browser context")
	assert.False(t, e.started)

	_, err = e.NewSession(ctx)
	require.Error(t, err, "second start is attempted again and fails the same way")

	e.Close()
	_, err = e.NewSession(ctx)
	assert.ErrorIs(t, err, errEngineClosed)
}
