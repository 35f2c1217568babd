package registrar

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

type slot struct {
	mu       sync.Mutex
	bindings map[string]*binding
}

// Domain is one location table. AORs are spread over hash slots; each slot
// lock guards every binding hashed onto it.
type Domain struct {
	name     string
	slots    []slot
	contacts atomic.Int64
	logger   *logger.Logger
}

func newDomain(name string, size int, log *logger.Logger) *Domain {
	d := &Domain{
		name:   name,
		slots:  make([]slot, size),
		logger: log,
	}
	for i := range d.slots {
		d.slots[i].bindings = make(map[string]*binding)
	}
	return d
}

// Name returns the domain name
func (d *Domain) Name() string {
	return d.name
}

// Contacts returns the number of stored contacts, expired or not
func (d *Domain) Contacts() int {
	return int(d.contacts.Load())
}

func (d *Domain) slotFor(aor string) *slot {
	h := fnv.New32a()
	h.Write([]byte(aor))
	return &d.slots[h.Sum32()%uint32(len(d.slots))]
}

// withBinding runs fn with the slot of aor locked. fn gets the binding, nil
// when the AOR has none, and returns the binding to keep; an empty result
// deletes it.
func (d *Domain) withBinding(aor string, fn func(b *binding) *binding) {
	s := d.slotFor(aor)
	s.mu.Lock()
	defer s.mu.Unlock()

	before := 0
	b := s.bindings[aor]
	if b != nil {
		before = len(b.contacts)
	}

	b = fn(b)

	after := 0
	if b == nil || len(b.contacts) == 0 {
		delete(s.bindings, aor)
	} else {
		s.bindings[aor] = b
		after = len(b.contacts)
	}
	d.contacts.Add(int64(after - before))
}

func (d *Domain) lookup(aor string, now time.Time) ([]domain.Contact, bool) {
	s := d.slotFor(aor)
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bindings[aor]
	if b == nil {
		return nil, false
	}
	out := b.validContacts(now)
	return out, len(out) > 0
}

func (d *Domain) sweep(now time.Time) int {
	removed := 0
	for i := range d.slots {
		s := &d.slots[i]
		s.mu.Lock()
		for aor, b := range s.bindings {
			n := b.expire(now)
			if n == 0 {
				continue
			}
			removed += n
			d.logger.WithField("aor", aor).WithField("expired", n).Debug("contacts expired")
			if len(b.contacts) == 0 {
				delete(s.bindings, aor)
			}
		}
		s.mu.Unlock()
	}
	d.contacts.Add(-int64(removed))
	return removed
}
