package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/replybridge/internal/profile"
	"github.com/hrygo/replybridge/store"
	"github.com/hrygo/replybridge/store/db/sqlite"
)

// gatedDriver holds the first monitoring=true upsert until released and can
// refuse monitoring=false upserts.
type gatedDriver struct {
	store.Driver

	once     sync.Once
	entered  chan struct{}
	release  chan struct{}
	failStop bool
}

func (d *gatedDriver) UpsertSession(ctx context.Context, upsert *store.UpsertSession) (*store.Session, error) {
	if upsert.Monitoring != nil {
		if *upsert.Monitoring && d.entered != nil {
			d.once.Do(func() {
				close(d.entered)
				<-d.release
			})
		}
		if !*upsert.Monitoring && d.failStop {
			return nil, errors.New("disk full")
		}
	}
	return d.Driver.UpsertSession(ctx, upsert)
}

func newGatedStore(t *testing.T, wrap func(store.Driver) *gatedDriver) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "gated.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	s, err := store.New(wrap(driver), p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStartStopMonitoring_Serialized(t *testing.T) {
	ctx := context.Background()
	gate := &gatedDriver{entered: make(chan struct{}), release: make(chan struct{})}
	st := newGatedStore(t, func(d store.Driver) *gatedDriver {
		gate.Driver = d
		return gate
	})
	c := newTestController(t, st, newFakeClient())

	startDone := make(chan Result, 1)
	go func() { startDone <- c.StartMonitoring(ctx, "Alice", false) }()
	<-gate.entered

	stopDone := make(chan Result, 1)
	go func() { stopDone <- c.StopMonitoring(ctx, "Alice") }()

	select {
	case <-stopDone:
		t.Fatal("stop finished while start was still persisting")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)

	assert.True(t, (<-startDone).Success)
	assert.True(t, (<-stopDone).Success)

	assert.False(t, c.State().IsMonitored("Alice"))
	assert.False(t, c.GetMonitoringStatus(ctx, "Alice").IsMonitoring)
}

func TestStopMonitoring_KeepsContactWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	gate := &gatedDriver{}
	st := newGatedStore(t, func(d store.Driver) *gatedDriver {
		gate.Driver = d
		return gate
	})
	c := newTestController(t, st, newFakeClient())

	require.True(t, c.StartMonitoring(ctx, "Alice", false).Success)
	gate.failStop = true

	res := c.StopMonitoring(ctx, "Alice")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "failed to stop monitoring")
	assert.True(t, c.State().IsMonitored("Alice"))
	assert.True(t, c.GetMonitoringStatus(ctx, "Alice").IsMonitoring)
}
