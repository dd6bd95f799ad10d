package threadweave

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadweave/threadweave/config"
	"github.com/threadweave/threadweave/core"
	"github.com/threadweave/threadweave/model"
	"github.com/threadweave/threadweave/store"
)

func mockConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Model.Provider = "mock"
	return cfg
}

func TestNew_AssemblesFromConfig(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Approval.Auto = true

	rt, err := New(func(o *Options) { o.Config = cfg })
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &store.Memory{}, rt.Log())
	mock, ok := rt.Model().(*model.MockModel)
	require.True(t, ok)
	mock.EnqueueText("hello from the runtime", nil)

	a := rt.NewAgent(core.NewThreadID())
	reply, err := a.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello from the runtime", reply)
}

func TestNew_SQLiteDriver(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "weave.db")

	rt, err := New(func(o *Options) { o.Config = cfg })
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &store.SQLite{}, rt.Log())
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Store.Driver = "postgres"

	_, err := New(func(o *Options) { o.Config = cfg })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Model.Provider = "palm"

	_, err := New(func(o *Options) { o.Config = cfg })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model provider")
}

func TestNew_OverridesWin(t *testing.T) {
	cfg := mockConfig(t)
	custom := model.NewMockModel("custom")
	customLog := store.NewMemory()

	rt, err := New(func(o *Options) {
		o.Config = cfg
		o.Model = custom
		o.Log = customLog
	})
	require.NoError(t, err)
	defer rt.Close()

	assert.Same(t, custom, rt.Model().(*model.MockModel))
	assert.Same(t, customLog, rt.Log().(*store.Memory))
}
