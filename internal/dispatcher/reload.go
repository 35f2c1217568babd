package dispatcher

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

// ListSource loads destination rows (a list file, a database table)
type ListSource interface {
	LoadDestinations(ctx context.Context) ([]domain.DestinationRow, error)
}

// StaticSource serves a fixed set of rows
type StaticSource []domain.DestinationRow

// LoadDestinations returns the rows
func (s StaticSource) LoadDestinations(context.Context) ([]domain.DestinationRow, error) {
	return s, nil
}

// LoadResult summarizes a reload
type LoadResult struct {
	Sets    int     `json:"sets"`
	Loaded  int     `json:"loaded"`
	Skipped int     `json:"skipped"`
	Errors  []error `json:"-"`
}

// Reload builds a new tree from src and publishes it in one step. Only one
// reload runs at a time; a concurrent call fails with ReloadInProgress. On
// any failure the published tree is left untouched.
func (d *Dispatcher) Reload(ctx context.Context, src ListSource) (*LoadResult, error) {
	if !d.reloading.CompareAndSwap(false, true) {
		return nil, errors.NewError(errors.ErrCodeReloadInProgress, "reload", "a reload is already running")
	}
	defer d.reloading.Store(false)

	log := d.logger.ReloadLogger()
	rows, err := src.LoadDestinations(ctx)
	if err != nil {
		d.metrics.ObserveReload(0, 0, err)
		log.WithError(err).Error("cannot load destination list")
		return nil, errors.WrapError(err, errors.ErrCodeConfigInvalid, "reload", "cannot load destination list")
	}

	tree, res, err := d.buildTree(ctx, rows, nil)
	d.metrics.ObserveReload(res.Loaded, res.Skipped, err)
	if err != nil {
		log.WithError(err).Error("reload aborted, keeping the active destination list")
		return res, err
	}

	d.current.Store(tree)
	log.WithFields(logrus.Fields{
		"sets":    res.Sets,
		"loaded":  res.Loaded,
		"skipped": res.Skipped,
	}).Info("destination list loaded")
	return res, nil
}

// AddDestination publishes a copy of the tree with one more destination.
// Runtime state of the existing destinations is kept.
func (d *Dispatcher) AddDestination(ctx context.Context, row domain.DestinationRow) error {
	return d.rebuild(ctx, func(rows []domain.DestinationRow) ([]domain.DestinationRow, error) {
		for _, r := range rows {
			if r.Group == row.Group && sameURI(r.URI, row.URI) {
				return nil, errors.NewInvalidDestinationError(row.URI, "already in set")
			}
		}
		return append(rows, row), nil
	})
}

// RemoveDestination publishes a copy of the tree without the destination uri
// of group. Runtime state of the remaining destinations is kept.
func (d *Dispatcher) RemoveDestination(ctx context.Context, group int, uri string) error {
	return d.rebuild(ctx, func(rows []domain.DestinationRow) ([]domain.DestinationRow, error) {
		out := make([]domain.DestinationRow, 0, len(rows))
		found := false
		for _, r := range rows {
			if r.Group == group && sameURI(r.URI, uri) {
				found = true
				continue
			}
			out = append(out, r)
		}
		if !found {
			return nil, errors.NewDestinationNotFoundError(group, uri)
		}
		return out, nil
	})
}

func (d *Dispatcher) rebuild(ctx context.Context, edit func([]domain.DestinationRow) ([]domain.DestinationRow, error)) error {
	if !d.reloading.CompareAndSwap(false, true) {
		return errors.NewError(errors.ErrCodeReloadInProgress, "reload", "a reload is already running")
	}
	defer d.reloading.Store(false)

	old := d.current.Load()
	rows := append([]domain.DestinationRow(nil), old.Rows()...)
	rows, err := edit(rows)
	if err != nil {
		return err
	}

	opts := d.opts
	opts.StrictLoad = true
	tree, _, err := d.buildTreeWith(ctx, rows, old, opts)
	if err != nil {
		return err
	}
	d.current.Store(tree)
	return nil
}

func (d *Dispatcher) buildTree(ctx context.Context, rows []domain.DestinationRow, carry *Tree) (*Tree, *LoadResult, error) {
	return d.buildTreeWith(ctx, rows, carry, d.opts)
}

// buildTreeWith parses every row into a new unpublished tree. In strict mode
// the first bad row aborts the build, otherwise bad rows are skipped. When
// carry is set, destinations present in it keep their runtime state.
func (d *Dispatcher) buildTreeWith(ctx context.Context, rows []domain.DestinationRow, carry *Tree, opts Options) (*Tree, *LoadResult, error) {
	log := d.logger.ReloadLogger()
	res := &LoadResult{}
	b := newTreeBuilder()

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}

		dest, err := d.newDestinationFromRow(ctx, row)
		if err == nil && b.contains(row.Group, dest.uri.raw) {
			log.WithFields(logrus.Fields{"group": row.Group, "uri": row.URI, "line": row.Line}).
				Warn("duplicate destination ignored")
			res.Skipped++
			continue
		}
		if err != nil {
			log.WithFields(logrus.Fields{"group": row.Group, "uri": row.URI, "line": row.Line}).
				WithError(err).Warn("destination skipped")
			res.Skipped++
			res.Errors = append(res.Errors, err)
			if opts.StrictLoad {
				return nil, res, err
			}
			continue
		}

		if carry != nil {
			carryState(carry, dest)
		}
		dest.route = d.newRoute(dest)
		b.insert(row, dest)
		res.Loaded++
	}

	tree := b.build()
	res.Sets = tree.Len()
	return tree, res, nil
}

func (d *Dispatcher) newDestinationFromRow(ctx context.Context, row domain.DestinationRow) (*Destination, error) {
	uri, err := parseDestinationURI(row.URI)
	if err != nil {
		return nil, errors.NewInvalidDestinationError(row.URI, err.Error())
	}
	attrs := parseAttrs(row.Attrs, d.logger.DestinationLogger(row.Group, row.URI))

	addrs, err := d.resolve(ctx, uri, row.Flags)
	if err != nil {
		return nil, errors.NewInvalidDestinationError(row.URI, fmt.Sprintf("could not resolve %s: %v", uri.host, err))
	}

	dest := newDestination(row.Group, uri, row.Flags, row.Priority, attrs)
	dest.addrs = addrs
	return dest, nil
}

// carryState copies the runtime state of the same destination in old
func carryState(old *Tree, dest *Destination) {
	set := old.Find(dest.group)
	if set == nil {
		return
	}
	set.mu.RLock()
	defer set.mu.RUnlock()

	i := set.lookup(dest.uri.raw)
	if i < 0 {
		return
	}
	prev := set.dests[i]
	dest.flags = prev.flags
	dest.messageCount = prev.messageCount
	dest.load = prev.load
	dest.activeWeight = prev.activeWeight
	dest.latency = prev.latency
}
