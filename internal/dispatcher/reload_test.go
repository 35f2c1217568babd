package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	dserrors "github.com/mir00r/sip-dispatcher/internal/errors"
)

type failingSource struct{}

func (failingSource) LoadDestinations(context.Context) ([]domain.DestinationRow, error) {
	return nil, errors.New("connection refused")
}

func printList(t *testing.T, d *Dispatcher) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, d.PrintList(&buf))
	return buf.String()
}

// TestStrictReloadKeepsTree tests that a bad row aborts a strict reload and
// leaves the published list untouched
func TestStrictReloadKeepsTree(t *testing.T) {
	opts := testOptions()
	opts.StrictLoad = true
	d := newTestDispatcher(t, opts,
		row(1, "sip:10.0.0.1", 0, ""),
		row(2, "sip:10.0.0.2", 0, ""),
	)
	before := printList(t, d)

	res, err := d.Reload(context.Background(), StaticSource{
		row(1, "sip:10.0.0.7", 0, ""),
		row(1, "sip:unresolvable.invalid", 0, ""),
		row(3, "sip:10.0.0.8", 0, ""),
	})
	assert.ErrorIs(t, err, dserrors.ErrInvalidDestination)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, before, printList(t, d))
}

func TestLenientReloadSkipsBadRows(t *testing.T) {
	d := New(testOptions(), WithResolver(staticResolver{}))

	res, err := d.Reload(context.Background(), StaticSource{
		row(1, "sip:10.0.0.1", 0, ""),
		row(1, "sip:unresolvable.invalid", 0, ""),
		row(2, "sip:gw.example.com", 0, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sets)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Errors, 1)
	assert.True(t, d.Ready())
}

func TestReloadTolerantFlags(t *testing.T) {
	opts := testOptions()
	opts.StrictLoad = true
	d := New(opts, WithResolver(staticResolver{}))

	r := row(1, "sip:unresolvable.invalid", 0, "")
	r.Flags = domain.FlagNoDNSResolve
	res, err := d.Reload(context.Background(), StaticSource{r})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)
}

func TestReloadDuplicates(t *testing.T) {
	d := New(testOptions(), WithResolver(staticResolver{}))

	res, err := d.Reload(context.Background(), StaticSource{
		row(1, "10.0.0.1", 0, ""),
		row(1, "sip:10.0.0.1", 5, ""),
		row(2, "sip:10.0.0.1", 0, ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, d.Tree().Find(1).Len())
}

func TestReloadErrors(t *testing.T) {
	d := newTestDispatcher(t, testOptions(), row(1, "sip:10.0.0.1", 0, ""))
	ctx := context.Background()

	_, err := d.Reload(ctx, failingSource{})
	assert.ErrorIs(t, err, dserrors.ErrConfigInvalid)
	assert.Equal(t, 1, d.Tree().Len())

	d.reloading.Store(true)
	_, err = d.Reload(ctx, StaticSource{row(1, "sip:10.0.0.2", 0, "")})
	assert.ErrorIs(t, err, dserrors.ErrReloadInProgress)
	assert.ErrorIs(t, d.AddDestination(ctx, row(1, "sip:10.0.0.2", 0, "")), dserrors.ErrReloadInProgress)
	d.reloading.Store(false)

	_, err = d.Reload(ctx, StaticSource{row(1, "sip:10.0.0.2", 0, "")})
	assert.NoError(t, err)
}

// TestAddRemoveKeepState tests that single destination edits keep the runtime
// state of the other destinations while a full reload resets it
func TestAddRemoveKeepState(t *testing.T) {
	rows := StaticSource{
		row(1, "sip:10.0.0.1", 0, ""),
		row(1, "sip:10.0.0.2", 0, ""),
	}
	d := newTestDispatcher(t, testOptions(), rows...)
	ctx := context.Background()
	require.NoError(t, d.SetState(1, "sip:10.0.0.1", "ip"))

	require.NoError(t, d.AddDestination(ctx, row(1, "sip:10.0.0.3", 10, "")))
	assert.Equal(t, 3, d.Tree().Find(1).Len())
	assert.Equal(t, "IP", destination(t, d, 1, "sip:10.0.0.1").State)
	assert.Equal(t, "sip:10.0.0.3", d.Tree().Find(1).Destinations()[0].URI)

	assert.ErrorIs(t, d.AddDestination(ctx, row(1, "10.0.0.3", 0, "")), dserrors.ErrInvalidDestination)
	assert.ErrorIs(t, d.AddDestination(ctx, row(1, "sip:unresolvable.invalid", 0, "")), dserrors.ErrInvalidDestination)

	require.NoError(t, d.AddDestination(ctx, row(4, "sip:10.0.0.4", 0, "")))
	assert.Equal(t, 2, d.Tree().Len())

	require.NoError(t, d.RemoveDestination(ctx, 1, "sip:10.0.0.2"))
	assert.Equal(t, 2, d.Tree().Find(1).Len())
	assert.Equal(t, "IP", destination(t, d, 1, "sip:10.0.0.1").State)
	assert.ErrorIs(t, d.RemoveDestination(ctx, 1, "sip:10.0.0.2"), dserrors.ErrDestinationNotFound)

	_, err := d.Reload(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, "AX", destination(t, d, 1, "sip:10.0.0.1").State)
	assert.Nil(t, d.Tree().Find(4))
}

// TestSnapshotIsolation tests that a selection keeps working on the snapshot
// it started with while a reload publishes a new one
func TestSnapshotIsolation(t *testing.T) {
	d := newTestDispatcher(t, testOptions(), row(1, "sip:10.0.0.1", 0, ""))
	old := d.Tree()

	_, err := d.Reload(context.Background(), StaticSource{row(1, "sip:10.0.0.2", 0, "")})
	require.NoError(t, err)

	assert.Equal(t, "sip:10.0.0.1", old.Find(1).Destinations()[0].URI)
	assert.Equal(t, "sip:10.0.0.2", d.Tree().Find(1).Destinations()[0].URI)
}
