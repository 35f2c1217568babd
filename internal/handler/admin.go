package handler

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// RowStore persists administrative edits of the destination list
type RowStore interface {
	Save(row domain.DestinationRow) error
	Delete(group int, uri string) error
}

// AdminHandler exposes the dispatcher management operations
type AdminHandler struct {
	ds     *dispatcher.Dispatcher
	store  RowStore
	logger *logger.Logger
}

// NewAdminHandler creates a new admin handler; store may be nil
func NewAdminHandler(ds *dispatcher.Dispatcher, store RowStore, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		ds:     ds,
		store:  store,
		logger: log.AdminLogger(),
	}
}

// StateRequest changes the state of one destination
type StateRequest struct {
	Key   string `json:"key" validate:"required"`
	State string `json:"state" validate:"required"`
}

// MarkRequest feeds a routing outcome for one destination
type MarkRequest struct {
	URI   string `json:"uri" validate:"required"`
	State string `json:"state" validate:"required"`
}

// DestinationRequest adds a destination to a set
type DestinationRequest struct {
	Group    int    `json:"group" validate:"gte=0"`
	URI      string `json:"uri" validate:"required"`
	Flags    uint32 `json:"flags"`
	Priority int    `json:"priority"`
	Attrs    string `json:"attrs,omitempty"`
}

// PingRequest toggles probing globally
type PingRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// ReplaceRequest moves a call to another destination
type ReplaceRequest struct {
	DUID string `json:"duid" validate:"required"`
}

// LoadUpdateRequest describes a SIP message of a tracked call
type LoadUpdateRequest struct {
	CallID     string `json:"call_id" validate:"required"`
	Method     string `json:"method"`
	Reply      bool   `json:"reply"`
	CSeqMethod string `json:"cseq_method"`
	Code       int    `json:"code" validate:"gte=0,lte=699"`
}

// LoadResponse is one tracked call
type LoadResponse struct {
	CallID     string    `json:"call_id"`
	DUID       string    `json:"duid"`
	Group      int       `json:"group"`
	State      string    `json:"state"`
	Expire     time.Time `json:"expire"`
	InitExpire time.Time `json:"init_expire"`
}

// MatchResponse is the answer of an address lookup
type MatchResponse struct {
	Found bool   `json:"found"`
	Group int    `json:"group,omitempty"`
	URI   string `json:"uri,omitempty"`
	Attrs string `json:"attrs,omitempty"`
}

// HashResponse is the answer of a hash computation
type HashResponse struct {
	Hash uint32 `json:"hash"`
	Slot uint32 `json:"slot"`
}

// ListHandler dumps the sets as JSON; ?mode=short|normal|full
func (h *AdminHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	mode, ok := dispatcher.ParseListMode(r.URL.Query().Get("mode"))
	if !ok {
		writeError(w, r, h.logger, badRequest("unknown list mode "+strconv.Quote(r.URL.Query().Get("mode"))))
		return
	}
	listing, err := h.ds.List(mode)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// PrintHandler writes the plain text dump of the sets
func (h *AdminHandler) PrintHandler(w http.ResponseWriter, r *http.Request) {
	var sb strings.Builder
	if err := h.ds.PrintList(&sb); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(sb.String()))
}

// SetStateHandler replaces the state of a destination of {group}
func (h *AdminHandler) SetStateHandler(w http.ResponseWriter, r *http.Request) {
	group, err := groupVar(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req StateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.ds.SetState(group, req.Key, req.State); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"group": group,
		"key":   req.Key,
		"state": strings.ToUpper(req.State),
	})
}

// MarkHandler applies a routing outcome to a destination of {group}
func (h *AdminHandler) MarkHandler(w http.ResponseWriter, r *http.Request) {
	group, err := groupVar(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req MarkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	state, ok := domain.ParseStateCode(req.State)
	if !ok {
		writeError(w, r, h.logger, badRequest("unknown state code "+strconv.Quote(req.State)))
		return
	}
	if err := h.ds.MarkDestination(r.Context(), group, req.URI, state); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddDestinationHandler inserts a destination and persists it
func (h *AdminHandler) AddDestinationHandler(w http.ResponseWriter, r *http.Request) {
	var req DestinationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	row := domain.DestinationRow{
		Group:    req.Group,
		URI:      req.URI,
		Flags:    domain.DestinationFlags(req.Flags),
		Priority: req.Priority,
		Attrs:    req.Attrs,
	}
	if err := h.ds.AddDestination(r.Context(), row); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if h.store != nil {
		if err := h.store.Save(row); err != nil {
			h.logger.WithError(err).Warn("failed to persist added destination")
		}
	}
	h.logger.WithField("group", row.Group).WithField("uri", row.URI).Info("destination added")
	writeJSON(w, http.StatusCreated, row)
}

// RemoveDestinationHandler deletes the destination ?uri= of {group}
func (h *AdminHandler) RemoveDestinationHandler(w http.ResponseWriter, r *http.Request) {
	group, err := groupVar(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, r, h.logger, badRequest("missing uri"))
		return
	}
	if err := h.ds.RemoveDestination(r.Context(), group, uri); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if h.store != nil {
		if err := h.store.Delete(group, uri); err != nil {
			h.logger.WithError(err).Warn("failed to persist removed destination")
		}
	}
	h.logger.WithField("group", group).WithField("uri", uri).Info("destination removed")
	w.WriteHeader(http.StatusNoContent)
}

// GetPingHandler reports whether probing is active
func (h *AdminHandler) GetPingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"active": h.ds.PingActive()})
}

// SetPingHandler turns probing on or off
func (h *AdminHandler) SetPingHandler(w http.ResponseWriter, r *http.Request) {
	var req PingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.ds.SetPingActive(*req.Active)
	writeJSON(w, http.StatusOK, map[string]bool{"active": h.ds.PingActive()})
}

// SelectHandler runs a destination selection for the described request
func (h *AdminHandler) SelectHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SelectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sel, err := h.ds.Select(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

// MatchHandler checks whether ?ip=&port=&proto= belongs to a set.
// ?group defaults to every set; ?mode=no-port,no-proto relaxes the match.
func (h *AdminHandler) MatchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ip := net.ParseIP(q.Get("ip"))
	if ip == nil {
		writeError(w, r, h.logger, badRequest("invalid ip "+strconv.Quote(q.Get("ip"))))
		return
	}

	port := 0
	if raw := q.Get("port"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 0 || p > 65535 {
			writeError(w, r, h.logger, badRequest("invalid port "+strconv.Quote(raw)))
			return
		}
		port = p
	}

	group := -1
	if raw := q.Get("group"); raw != "" {
		g, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, h.logger, badRequest("invalid group "+strconv.Quote(raw)))
			return
		}
		group = g
	}

	mode := domain.MatchStrict
	for _, m := range strings.Split(q.Get("mode"), ",") {
		switch strings.TrimSpace(m) {
		case "":
		case "no-port":
			mode |= domain.MatchNoPort
		case "no-proto":
			mode |= domain.MatchNoProto
		default:
			writeError(w, r, h.logger, badRequest("unknown match mode "+strconv.Quote(m)))
			return
		}
	}

	match, found := h.ds.IsFromList(r.Context(), group, ip, port, q.Get("proto"), mode)
	if !found {
		writeJSON(w, http.StatusOK, MatchResponse{})
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{
		Found: true,
		Group: match.Group,
		URI:   match.URI,
		Attrs: match.Attrs,
	})
}

// HashHandler computes the dispatcher hash of ?x=&y= or of the keys of ?uri=
// and its slot modulo ?slots=
func (h *AdminHandler) HashHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, y := q.Get("x"), q.Get("y")
	if uri := q.Get("uri"); uri != "" {
		user, host, err := dispatcher.URIHashKeys(uri, q.Get("user_only") == "true")
		if err != nil {
			writeError(w, r, h.logger, badRequest("invalid uri: "+err.Error()))
			return
		}
		x, y = user, host
	}

	slots := 0
	if raw := q.Get("slots"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, h.logger, badRequest("invalid slots "+strconv.Quote(raw)))
			return
		}
		slots = n
	}

	hash, slot := dispatcher.HashSlot(slots, x, y)
	writeJSON(w, http.StatusOK, HashResponse{Hash: hash, Slot: slot})
}

// LoadCountHandler reports the number of tracked calls
func (h *AdminHandler) LoadCountHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"calls": h.ds.Loads().Len()})
}

// GetLoadHandler returns the tracked call {callid}
func (h *AdminHandler) GetLoadHandler(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callid"]
	e, ok := h.ds.Loads().Get(callID)
	if !ok {
		writeError(w, r, h.logger, loadNotFound(callID))
		return
	}
	state := "init"
	if e.State == dispatcher.LoadConfirmed {
		state = "confirmed"
	}
	writeJSON(w, http.StatusOK, LoadResponse{
		CallID:     e.CallID,
		DUID:       e.DUID,
		Group:      e.Group,
		State:      state,
		Expire:     e.Expire,
		InitExpire: e.InitExpire,
	})
}

// RemoveLoadHandler ends the call {callid}
func (h *AdminHandler) RemoveLoadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.ds.LoadRemove(mux.Vars(r)["callid"]); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmLoadHandler marks the call {callid} as answered
func (h *AdminHandler) ConfirmLoadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.ds.LoadConfirm(mux.Vars(r)["callid"]); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReplaceLoadHandler moves the call {callid} to another destination
func (h *AdminHandler) ReplaceLoadHandler(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.ds.LoadReplace(mux.Vars(r)["callid"], req.DUID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateLoadHandler applies a SIP request or reply to its tracked call
func (h *AdminHandler) UpdateLoadHandler(w http.ResponseWriter, r *http.Request) {
	var req LoadUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	err := h.ds.LoadUpdate(r.Context(), req.Method, req.Reply, req.CSeqMethod, req.Code, req.CallID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
