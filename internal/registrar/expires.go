package registrar

import (
	"math/rand/v2"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

func randomJitter(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}

// contactExpires returns the binding lifetime in seconds of c: the contact
// expires param, else the Expires header, else the default. A non zero value
// is randomized down by the configured range and clamped to [min, max].
func (r *Registrar) contactExpires(c domain.ContactRequest, header int) int {
	e := c.Expires
	if e == domain.Unset {
		e = header
	}
	if e == domain.Unset {
		e = r.opts.DefaultExpires
	}
	if e <= 0 {
		return 0
	}

	if r.opts.ExpiresRange > 0 {
		low := e - e*r.opts.ExpiresRange/100
		e = low + r.jitter(e-low+1)
	}
	if e < r.opts.MinExpires {
		e = r.opts.MinExpires
	}
	if r.opts.MaxExpires > 0 && e > r.opts.MaxExpires {
		e = r.opts.MaxExpires
	}
	return e
}

func (r *Registrar) contactQ(c domain.ContactRequest) float64 {
	if c.Q < 0 {
		return r.opts.DefaultQ
	}
	if c.Q > 1 {
		return 1
	}
	return c.Q
}

// normalizeAOR reduces an AOR given as user@host or as a SIP URI to
// user@host, lower cased unless the registrar is case sensitive
func (r *Registrar) normalizeAOR(aor string) (string, error) {
	aor = strings.TrimSpace(aor)
	if aor == "" {
		return "", errors.NewError(errors.ErrCodeInvalidRequest, "registrar", "empty address of record")
	}

	lower := strings.ToLower(aor)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:") {
		var uri sip.Uri
		if err := sip.ParseUri(aor, &uri); err != nil {
			return "", errors.WrapError(err, errors.ErrCodeInvalidRequest, "registrar", "invalid address of record "+aor)
		}
		aor = uri.Host
		if uri.User != "" {
			aor = uri.User + "@" + uri.Host
		}
	}
	if !r.opts.CaseSensitive {
		aor = strings.ToLower(aor)
	}
	return aor, nil
}

func validContactURI(raw string) error {
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return errors.WrapError(err, errors.ErrCodeContactInvalid, "registrar", "invalid contact "+raw)
	}
	if uri.Host == "" {
		return errors.NewError(errors.ErrCodeContactInvalid, "registrar", "contact without host "+raw)
	}
	return nil
}
