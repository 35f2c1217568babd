package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mir00r/sip-dispatcher/internal/errors"
)

// LoadState is the dialog state of a tracked call
type LoadState int

const (
	// LoadInit is a call whose INVITE has not been answered yet
	LoadInit LoadState = iota
	// LoadConfirmed is a call answered with a 2xx
	LoadConfirmed
)

// LoadEntry maps one call to the destination carrying it
type LoadEntry struct {
	CallID     string
	DUID       string
	Group      int
	State      LoadState
	Expire     time.Time
	InitExpire time.Time
}

type loadBucket struct {
	mu      sync.Mutex
	entries map[string]*LoadEntry
}

// LoadTable tracks active calls per destination for call-load selection.
// Every bucket has its own lock; the table never takes a set lock.
type LoadTable struct {
	buckets    []loadBucket
	expire     time.Duration
	initExpire time.Duration
	now        func() time.Time
}

// NewLoadTable creates a table with size buckets
func NewLoadTable(size int, expire, initExpire time.Duration) *LoadTable {
	if size <= 0 {
		size = 256
	}
	if expire <= 0 {
		expire = 2 * time.Hour
	}
	if initExpire <= 0 {
		initExpire = 2 * time.Hour
	}
	t := &LoadTable{
		buckets:    make([]loadBucket, size),
		expire:     expire,
		initExpire: initExpire,
		now:        time.Now,
	}
	for i := range t.buckets {
		t.buckets[i].entries = make(map[string]*LoadEntry)
	}
	return t
}

func (t *LoadTable) bucket(callID string) *loadBucket {
	return &t.buckets[Hash(callID, "")%uint32(len(t.buckets))]
}

// Add tracks a new call
func (t *LoadTable) Add(callID, duid string, group int) error {
	b := t.bucket(callID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[callID]; ok {
		return fmt.Errorf("call-id %s already tracked", callID)
	}
	now := t.now()
	b.entries[callID] = &LoadEntry{
		CallID:     callID,
		DUID:       duid,
		Group:      group,
		State:      LoadInit,
		Expire:     now.Add(t.expire),
		InitExpire: now.Add(t.initExpire),
	}
	return nil
}

// Get returns a copy of the entry of callID
func (t *LoadTable) Get(callID string) (LoadEntry, bool) {
	b := t.bucket(callID)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[callID]
	if !ok {
		return LoadEntry{}, false
	}
	return *e, true
}

// take removes and returns the entry of callID
func (t *LoadTable) take(callID string) (LoadEntry, bool) {
	b := t.bucket(callID)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[callID]
	if !ok {
		return LoadEntry{}, false
	}
	delete(b.entries, callID)
	return *e, true
}

// confirm moves callID to the confirmed state and refreshes its deadline
func (t *LoadTable) confirm(callID string) bool {
	b := t.bucket(callID)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[callID]
	if !ok {
		return false
	}
	e.State = LoadConfirmed
	e.Expire = t.now().Add(t.expire)
	return true
}

// swap points callID at another destination and returns the previous duid
func (t *LoadTable) swap(callID, duid string) (string, int, bool) {
	b := t.bucket(callID)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[callID]
	if !ok {
		return "", 0, false
	}
	old := e.DUID
	e.DUID = duid
	return old, e.Group, true
}

// expired removes and returns every entry past its deadline
func (t *LoadTable) expired(now time.Time) []LoadEntry {
	var out []LoadEntry
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		for id, e := range b.entries {
			if e.Expire.Before(now) || (e.State == LoadInit && e.InitExpire.Before(now)) {
				out = append(out, *e)
				delete(b.entries, id)
			}
		}
		b.mu.Unlock()
	}
	return out
}

// Len returns the number of tracked calls
func (t *LoadTable) Len() int {
	n := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		n += len(b.entries)
		b.mu.Unlock()
	}
	return n
}

// adjustLoad changes the load of the destination duid of group by delta
func (d *Dispatcher) adjustLoad(group int, duid string, delta int) bool {
	set := d.current.Load().Find(group)
	if set == nil {
		return false
	}
	set.mu.Lock()
	defer set.mu.Unlock()

	for _, dest := range set.dests {
		if dest.attrs.DUID == duid {
			dest.load += delta
			if dest.load < 0 {
				dest.load = 0
			}
			return true
		}
	}
	return false
}

// LoadRemove ends the call callID and releases its load
func (d *Dispatcher) LoadRemove(callID string) error {
	e, ok := d.loads.take(callID)
	if !ok {
		return errors.NewError(errors.ErrCodeCallLoadNotFound, "dispatcher",
			"no load tracked for call-id "+callID)
	}
	d.adjustLoad(e.Group, e.DUID, -1)
	return nil
}

// LoadConfirm marks the call callID as answered
func (d *Dispatcher) LoadConfirm(callID string) error {
	if !d.loads.confirm(callID) {
		return errors.NewError(errors.ErrCodeCallLoadNotFound, "dispatcher",
			"no load tracked for call-id "+callID)
	}
	return nil
}

// LoadReplace moves the load of callID to the destination duid, used when a
// call fails over to another destination of the same set
func (d *Dispatcher) LoadReplace(callID, duid string) error {
	if duid == "" {
		return invalidRequest("missing destination unique id")
	}
	old, group, ok := d.loads.swap(callID, duid)
	if !ok {
		return errors.NewError(errors.ErrCodeCallLoadNotFound, "dispatcher",
			"no load tracked for call-id "+callID)
	}
	if old == duid {
		return nil
	}
	d.adjustLoad(group, old, -1)
	if !d.adjustLoad(group, duid, 1) {
		d.logger.WithField("duid", duid).WithField("group", group).Warn("replacement destination not found")
	}
	return nil
}

// LoadUpdate applies a request or reply of a tracked call: a 2xx to INVITE
// confirms it, BYE and CANCEL end it
func (d *Dispatcher) LoadUpdate(ctx context.Context, method string, reply bool, cseqMethod string, code int, callID string) error {
	if callID == "" {
		return invalidRequest("missing call-id")
	}
	if reply {
		if strings.EqualFold(cseqMethod, "INVITE") && code >= 200 && code < 300 {
			return d.LoadConfirm(callID)
		}
		return nil
	}
	switch strings.ToUpper(method) {
	case "BYE", "CANCEL":
		return d.LoadRemove(callID)
	}
	return nil
}

// ExpireLoads drops calls past their deadline and releases their load
func (d *Dispatcher) ExpireLoads(now time.Time) int {
	entries := d.loads.expired(now)
	for _, e := range entries {
		d.adjustLoad(e.Group, e.DUID, -1)
	}
	if len(entries) > 0 {
		d.logger.WithField("expired", len(entries)).Debug("call load entries expired")
	}
	return len(entries)
}
