package dispatcher

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
)

// ListMode selects the detail of List
type ListMode int

const (
	// ListNormal reports uri, state, priority and attrs
	ListNormal ListMode = iota
	// ListShort reports uri and state only
	ListShort
	// ListFull adds latency statistics and load
	ListFull
)

// ParseListMode converts "normal", "short" or "full"
func ParseListMode(s string) (ListMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ListNormal, true
	case "short":
		return ListShort, true
	case "full":
		return ListFull, true
	}
	return ListNormal, false
}

// Listing is the structured dump of the destination sets
type Listing struct {
	Sets    int          `json:"nrsets"`
	Records []SetListing `json:"records"`
}

// SetListing is one set of a Listing
type SetListing struct {
	ID      int             `json:"id"`
	Targets []TargetListing `json:"targets"`
}

// TargetListing is one destination of a SetListing
type TargetListing struct {
	URI          string               `json:"uri"`
	Flags        string               `json:"flags"`
	Priority     *int                 `json:"priority,omitempty"`
	Attrs        *AttrsListing        `json:"attrs,omitempty"`
	Latency      *domain.LatencyStats `json:"latency,omitempty"`
	Load         *int                 `json:"load,omitempty"`
	ActiveWeight *int                 `json:"active_weight,omitempty"`
}

// AttrsListing is the attrs part of a TargetListing
type AttrsListing struct {
	Body    string `json:"body"`
	DUID    string `json:"duid"`
	MaxLoad int    `json:"maxload"`
	Weight  int    `json:"weight"`
	RWeight int    `json:"rweight"`
	Socket  string `json:"socket"`
}

// List dumps every set. It fails when no set is loaded.
func (d *Dispatcher) List(mode ListMode) (*Listing, error) {
	tree := d.current.Load()
	if tree.Len() == 0 {
		return nil, errors.NewError(errors.ErrCodeGroupNotFound, "dispatcher", "no destination sets")
	}

	out := &Listing{Sets: tree.Len()}
	for _, set := range tree.Sets() {
		sl := SetListing{ID: set.id}
		for _, info := range set.Destinations() {
			sl.Targets = append(sl.Targets, targetListing(info, mode, d.opts.LatencyStats))
		}
		out.Records = append(out.Records, sl)
	}
	return out, nil
}

func targetListing(info domain.DestinationInfo, mode ListMode, latency bool) TargetListing {
	t := TargetListing{URI: info.URI, Flags: info.State}
	if mode == ListShort {
		return t
	}

	priority := info.Priority
	t.Priority = &priority
	if info.Attrs.Body != "" {
		t.Attrs = &AttrsListing{
			Body:    info.Attrs.Body,
			DUID:    info.Attrs.DUID,
			MaxLoad: info.Attrs.MaxLoad,
			Weight:  info.Attrs.Weight,
			RWeight: info.Attrs.RelativeWeight,
			Socket:  info.Attrs.Socket,
		}
	}
	if latency || mode == ListFull {
		stats := info.Latency
		t.Latency = &stats
	}
	if mode == ListFull {
		load, weight := info.Load, info.ActiveWeight
		t.Load = &load
		t.ActiveWeight = &weight
	}
	return t
}

// PrintList writes the classic plain text dump of the sets
func (d *Dispatcher) PrintList(w io.Writer) error {
	tree := d.current.Load()
	if tree.Len() == 0 {
		return errors.NewError(errors.ErrCodeGroupNotFound, "dispatcher", "no destination sets")
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\nnumber of destination sets: %d\n", tree.Len())
	for _, set := range tree.Sets() {
		for _, info := range set.Destinations() {
			fmt.Fprintf(bw, "\n set #%d\n", set.id)
			switch {
			case info.Flags&domain.FlagDisabled != 0:
				bw.WriteString("    Disabled         ")
			case info.Flags&domain.FlagInactive != 0:
				bw.WriteString("    Inactive         ")
			case info.Flags&domain.FlagTrying != 0:
				bw.WriteString("    Trying")
				if info.MessageCount > 0 {
					fmt.Fprintf(bw, " (Fail %d/%d)", info.MessageCount, d.opts.ProbingThreshold)
				} else {
					bw.WriteString("           ")
				}
			default:
				bw.WriteString("    Active           ")
			}
			if info.Flags&domain.FlagProbing != 0 {
				bw.WriteString("(P)")
			} else {
				bw.WriteString("(*)")
			}
			fmt.Fprintf(bw, "   %s\n", info.URI)
		}
	}
	return bw.Flush()
}
