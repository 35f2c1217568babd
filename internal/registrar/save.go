package registrar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

// planned is the decision taken for one Contact of a REGISTER before the
// binding is touched
type planned struct {
	req     domain.ContactRequest
	expires int
	skip    bool
}

// Save applies one REGISTER to the binding of req.AOR and returns the valid
// contacts bound afterwards. Validation and admission control run before any
// mutation: a rejected request leaves the binding as it was, and on
// TooManyContacts the unchanged contact list is returned with the error.
func (r *Registrar) Save(ctx context.Context, domainName string, req domain.SaveRequest) ([]domain.Contact, error) {
	contacts, err := r.save(ctx, domainName, req)
	op := "save"
	if req.Star {
		op = "star"
	}
	r.metrics.ObserveRegistrar(op, err)
	return contacts, err
}

func (r *Registrar) save(ctx context.Context, domainName string, req domain.SaveRequest) ([]domain.Contact, error) {
	d, err := r.Domain(domainName)
	if err != nil {
		return nil, err
	}
	aor, err := r.normalizeAOR(req.AOR)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.Star {
		if len(req.Contacts) > 0 || req.Expires != 0 {
			return nil, errors.NewError(errors.ErrCodeContactInvalid, "registrar",
				"star contact requires expires 0 and no other contacts").WithMetadata("aor", aor)
		}
		return r.star(d, aor)
	}

	plan := make([]planned, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		if err := validContactURI(c.URI); err != nil {
			return nil, err
		}
		plan = append(plan, planned{req: c, expires: r.contactExpires(c, req.Expires)})
	}

	log := d.logger.WithFields(logrus.Fields{"aor": aor, "call_id": req.CallID, "cseq": req.CSeq})
	now := r.now()
	var (
		result  []domain.Contact
		saveErr error
		created bool
		emptied bool
	)

	d.withBinding(aor, func(b *binding) *binding {
		if b == nil {
			b = &binding{aor: aor}
			created = true
		}

		if saveErr = r.admit(b, aor, req, plan, now); saveErr != nil {
			result = b.validContacts(now)
			return b
		}

		had := len(b.contacts) > 0
		for _, p := range plan {
			if p.skip {
				continue
			}
			r.apply(b, req, p, now)
		}
		emptied = had && len(b.contacts) == 0
		created = created && len(b.contacts) > 0
		result = b.validContacts(now)
		return b
	})

	switch {
	case saveErr != nil:
		log.WithError(saveErr).Info("register rejected")
	case created:
		log.WithField("contacts", len(result)).Debug("binding created")
	case emptied:
		log.Debug("binding removed")
		log.Warn("no subscription for the address of record, implicit set processing skipped")
	default:
		log.WithField("contacts", len(result)).Debug("binding updated")
	}
	r.metrics.SetContacts(d.name, d.Contacts())
	return result, saveErr
}

// admit checks CSeq ordering and the contact limit for the whole request.
// It marks retransmitted contacts in plan as skipped.
func (r *Registrar) admit(b *binding, aor string, req domain.SaveRequest, plan []planned, now time.Time) error {
	for _, c := range b.contacts {
		if c.CallID == req.CallID && req.CSeq < c.CSeq {
			return errors.NewStaleRequestError(aor, req.CallID, req.CSeq, c.CSeq)
		}
	}

	count := b.validCount(now)
	seen := make(map[string]bool, len(plan))
	for i := range plan {
		p := &plan[i]
		key := p.req.URI
		if p.req.InstanceID != "" {
			key = fmt.Sprintf("%s;reg-id=%d", p.req.InstanceID, p.req.RegID)
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		j := b.find(p.req)
		if j < 0 {
			if p.expires != 0 {
				count++
			}
			continue
		}
		stored := b.contacts[j]
		if stored.CallID == req.CallID && stored.CSeq == req.CSeq {
			p.skip = true
			continue
		}
		valid := stored.Valid(now)
		switch {
		case p.expires == 0 && valid:
			count--
		case p.expires != 0 && !valid:
			count++
		}
	}

	if r.opts.MaxContacts > 0 && count > r.opts.MaxContacts {
		return errors.NewTooManyContactsError(aor, r.opts.MaxContacts)
	}
	return nil
}

// apply inserts, refreshes or removes the contact of p
func (r *Registrar) apply(b *binding, req domain.SaveRequest, p planned, now time.Time) {
	i := b.find(p.req)
	if p.expires == 0 {
		if i >= 0 {
			b.remove(i)
		}
		return
	}

	q := r.contactQ(p.req)
	expiresAt := now.Add(time.Duration(p.expires) * time.Second)

	if i < 0 {
		b.place(&domain.Contact{
			AOR:          b.aor,
			URI:          p.req.URI,
			ExpiresAt:    expiresAt,
			Q:            q,
			CallID:       req.CallID,
			CSeq:         req.CSeq,
			Received:     req.Received,
			Path:         req.Path,
			Socket:       req.Socket,
			InstanceID:   p.req.InstanceID,
			RegID:        p.req.RegID,
			UserAgent:    req.UserAgent,
			Flags:        req.Flags,
			RUID:         uuid.NewString(),
			LastModified: now,
		}, r.opts.DescTimeOrder)
		return
	}

	c := b.contacts[i]
	if c.InstanceID != "" && c.CallID != req.CallID {
		b.dropInstance(c.InstanceID, c)
	}

	moved := r.opts.DescTimeOrder || c.Q != q
	c.URI = p.req.URI
	c.ExpiresAt = expiresAt
	c.Q = q
	c.CallID = req.CallID
	c.CSeq = req.CSeq
	c.Received = req.Received
	c.Path = req.Path
	c.Socket = req.Socket
	c.UserAgent = req.UserAgent
	c.Flags = req.Flags
	c.LastModified = now

	if moved {
		b.remove(b.indexOf(c))
		b.place(c, r.opts.DescTimeOrder)
	}
}

// star removes every contact of aor. The in-memory removal cannot fail
// halfway, so the surviving list is always empty.
func (r *Registrar) star(d *Domain, aor string) ([]domain.Contact, error) {
	removed := 0
	d.withBinding(aor, func(b *binding) *binding {
		if b != nil {
			removed = len(b.contacts)
		}
		return nil
	})
	d.logger.WithField("aor", aor).WithField("removed", removed).Debug("all contacts removed")
	r.metrics.SetContacts(d.name, d.Contacts())
	return []domain.Contact{}, nil
}
