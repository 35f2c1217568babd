package domain

import "time"

// ContactFlags mark special handling of a contact
type ContactFlags uint32

const (
	// ContactNAT marks a contact registered from behind NAT
	ContactNAT ContactFlags = 1 << iota
	// ContactMemOnly marks a contact that is never written to persistent storage
	ContactMemOnly
)

// Unset marks an absent numeric parameter (expires, q) in a request
const Unset = -1

// Contact is one stored binding of an address of record
type Contact struct {
	AOR          string       `json:"aor"`
	URI          string       `json:"uri"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Q            float64      `json:"q"`
	CallID       string       `json:"call_id"`
	CSeq         uint32       `json:"cseq"`
	Received     string       `json:"received,omitempty"`
	Path         string       `json:"path,omitempty"`
	Socket       string       `json:"socket,omitempty"`
	InstanceID   string       `json:"instance,omitempty"`
	RegID        int          `json:"reg_id,omitempty"`
	UserAgent    string       `json:"user_agent,omitempty"`
	Flags        ContactFlags `json:"flags"`
	RUID         string       `json:"ruid"`
	LastModified time.Time    `json:"last_modified"`
}

// Permanent reports whether the contact never expires
func (c *Contact) Permanent() bool {
	return c.ExpiresAt.IsZero()
}

// Valid reports whether the contact is still bound at now
func (c *Contact) Valid(now time.Time) bool {
	return c.Permanent() || c.ExpiresAt.After(now)
}

// ContactRequest is one parsed Contact header value of a REGISTER
type ContactRequest struct {
	URI        string  `json:"uri"`
	Expires    int     `json:"expires"`
	Q          float64 `json:"q"`
	InstanceID string  `json:"instance,omitempty"`
	RegID      int     `json:"reg_id,omitempty"`
}

// SaveRequest is the registrar's view of one REGISTER
type SaveRequest struct {
	AOR       string           `json:"aor"`
	CallID    string           `json:"call_id"`
	CSeq      uint32           `json:"cseq"`
	Expires   int              `json:"expires"`
	Star      bool             `json:"star"`
	Contacts  []ContactRequest `json:"contacts"`
	Received  string           `json:"received,omitempty"`
	Path      string           `json:"path,omitempty"`
	Socket    string           `json:"socket,omitempty"`
	UserAgent string           `json:"user_agent,omitempty"`
	Flags     ContactFlags     `json:"flags"`
}
