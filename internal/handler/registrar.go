package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/registrar"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// RegistrarHandler exposes the location domains of the registrar
type RegistrarHandler struct {
	reg    *registrar.Registrar
	logger *logger.Logger
}

// NewRegistrarHandler creates a new registrar handler
func NewRegistrarHandler(reg *registrar.Registrar, log *logger.Logger) *RegistrarHandler {
	return &RegistrarHandler{
		reg:    reg,
		logger: log.AdminLogger().WithField("surface", "registrar"),
	}
}

// ContactPayload is one contact of a RegisterRequest. Absent expires and q
// fall back to the request and registrar defaults.
type ContactPayload struct {
	URI        string   `json:"uri" validate:"required"`
	Expires    *int     `json:"expires,omitempty" validate:"omitempty,gte=0"`
	Q          *float64 `json:"q,omitempty" validate:"omitempty,gte=0,lte=1"`
	InstanceID string   `json:"instance,omitempty"`
	RegID      int      `json:"reg_id,omitempty" validate:"gte=0"`
}

// RegisterRequest is the JSON form of a REGISTER
type RegisterRequest struct {
	AOR       string           `json:"aor" validate:"required"`
	CallID    string           `json:"call_id" validate:"required"`
	CSeq      uint32           `json:"cseq" validate:"required"`
	Expires   *int             `json:"expires,omitempty" validate:"omitempty,gte=0"`
	Star      bool             `json:"star"`
	Contacts  []ContactPayload `json:"contacts" validate:"dive"`
	Received  string           `json:"received,omitempty"`
	Path      string           `json:"path,omitempty"`
	Socket    string           `json:"socket,omitempty"`
	UserAgent string           `json:"user_agent,omitempty"`
	Flags     uint32           `json:"flags"`
}

func intOrUnset(v *int) int {
	if v == nil {
		return domain.Unset
	}
	return *v
}

func (req RegisterRequest) saveRequest() domain.SaveRequest {
	out := domain.SaveRequest{
		AOR:       req.AOR,
		CallID:    req.CallID,
		CSeq:      req.CSeq,
		Expires:   intOrUnset(req.Expires),
		Star:      req.Star,
		Received:  req.Received,
		Path:      req.Path,
		Socket:    req.Socket,
		UserAgent: req.UserAgent,
		Flags:     domain.ContactFlags(req.Flags),
	}
	for _, c := range req.Contacts {
		q := float64(domain.Unset)
		if c.Q != nil {
			q = *c.Q
		}
		out.Contacts = append(out.Contacts, domain.ContactRequest{
			URI:        c.URI,
			Expires:    intOrUnset(c.Expires),
			Q:          q,
			InstanceID: c.InstanceID,
			RegID:      c.RegID,
		})
	}
	return out
}

// DomainsHandler lists the location domains with their contact counts
func (h *RegistrarHandler) DomainsHandler(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]interface{}, 0)
	for _, name := range h.reg.Domains() {
		d, err := h.reg.Domain(name)
		if err != nil {
			continue
		}
		out = append(out, map[string]interface{}{
			"name":     name,
			"contacts": d.Contacts(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"domains": out})
}

// LookupHandler returns the valid contacts of ?aor= in {domain}
func (h *RegistrarHandler) LookupHandler(w http.ResponseWriter, r *http.Request) {
	aor := r.URL.Query().Get("aor")
	if aor == "" {
		writeError(w, r, h.logger, badRequest("missing aor"))
		return
	}
	contacts, err := h.reg.Lookup(r.Context(), mux.Vars(r)["domain"], aor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aor":      aor,
		"contacts": contacts,
	})
}

// RegisterHandler applies a REGISTER to {domain} and returns the bound contacts
func (h *RegistrarHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	contacts, err := h.reg.Save(r.Context(), mux.Vars(r)["domain"], req.saveRequest())
	if err != nil {
		// a rejected REGISTER reports the bindings it left in place
		resp := errorResponse(r, h.logger, err)
		resp.Contacts = contacts
		writeJSON(w, resp.Status, resp)
		return
	}
	if contacts == nil {
		contacts = []domain.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aor":      req.AOR,
		"contacts": contacts,
	})
}
