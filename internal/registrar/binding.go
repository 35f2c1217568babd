package registrar

import (
	"time"

	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// binding is the contact list of one AOR, ordered by descending q
type binding struct {
	aor      string
	contacts []*domain.Contact
}

// find returns the index of the contact req refers to: by instance when req
// carries one, by URI otherwise
func (b *binding) find(req domain.ContactRequest) int {
	for i, c := range b.contacts {
		if req.InstanceID != "" {
			if c.InstanceID == req.InstanceID && c.RegID == req.RegID {
				return i
			}
			continue
		}
		if c.URI == req.URI {
			return i
		}
	}
	return -1
}

func (b *binding) remove(i int) {
	copy(b.contacts[i:], b.contacts[i+1:])
	b.contacts[len(b.contacts)-1] = nil
	b.contacts = b.contacts[:len(b.contacts)-1]
}

func (b *binding) indexOf(c *domain.Contact) int {
	for i, p := range b.contacts {
		if p == c {
			return i
		}
	}
	return -1
}

// place inserts c by descending q. Among equal q values c goes first when
// mostRecentFirst is set, last otherwise.
func (b *binding) place(c *domain.Contact, mostRecentFirst bool) {
	at := len(b.contacts)
	for i, p := range b.contacts {
		if p.Q < c.Q || (mostRecentFirst && p.Q == c.Q) {
			at = i
			break
		}
	}
	b.contacts = append(b.contacts, nil)
	copy(b.contacts[at+1:], b.contacts[at:])
	b.contacts[at] = c
}

// dropInstance removes every contact other than keep carrying instance
func (b *binding) dropInstance(instance string, keep *domain.Contact) int {
	n := 0
	out := b.contacts[:0]
	for _, c := range b.contacts {
		if c != keep && c.InstanceID == instance {
			n++
			continue
		}
		out = append(out, c)
	}
	for i := len(out); i < len(b.contacts); i++ {
		b.contacts[i] = nil
	}
	b.contacts = out
	return n
}

func (b *binding) validCount(now time.Time) int {
	n := 0
	for _, c := range b.contacts {
		if c.Valid(now) {
			n++
		}
	}
	return n
}

func (b *binding) validContacts(now time.Time) []domain.Contact {
	out := make([]domain.Contact, 0, len(b.contacts))
	for _, c := range b.contacts {
		if c.Valid(now) {
			out = append(out, *c)
		}
	}
	return out
}

// expire removes contacts whose expiry lies before now
func (b *binding) expire(now time.Time) int {
	n := 0
	out := b.contacts[:0]
	for _, c := range b.contacts {
		if !c.Permanent() && c.ExpiresAt.Before(now) {
			n++
			continue
		}
		out = append(out, c)
	}
	for i := len(out); i < len(b.contacts); i++ {
		b.contacts[i] = nil
	}
	b.contacts = out
	return n
}
