package dispatcher

import (
	"errors"
	"strings"

	"github.com/emiago/sipgo/sip"
)

const maxHostLength = 254

var errNoHost = errors.New("uri has no host part")

// destinationURI is the parsed, immutable address part of a destination
type destinationURI struct {
	raw       string
	host      string
	port      int
	transport string
	secure    bool
}

// normalizeURI prefixes "sip:" when no scheme is given
func normalizeURI(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "sip:") || strings.HasPrefix(lower, "sips:") {
		return raw
	}
	return "sip:" + raw
}

func isSecureURI(raw string) bool {
	return strings.HasPrefix(strings.ToLower(raw), "sips:")
}

func parseDestinationURI(raw string) (destinationURI, error) {
	raw = normalizeURI(raw)

	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return destinationURI{}, err
	}
	if uri.Host == "" {
		return destinationURI{}, errNoHost
	}
	if len(uri.Host) > maxHostLength {
		return destinationURI{}, errors.New("host name too long")
	}

	d := destinationURI{
		raw:    raw,
		host:   strings.Trim(uri.Host, "[]"),
		port:   uri.Port,
		secure: isSecureURI(raw),
	}
	if uri.UriParams != nil {
		if t, ok := uri.UriParams.Get("transport"); ok {
			d.transport = strings.ToLower(t)
		}
	}
	if d.transport == "" && d.secure {
		d.transport = "tls"
	}
	return d, nil
}

// sameURI compares destination URIs the way the list lookups do
func sameURI(a, b string) bool {
	return strings.EqualFold(normalizeURI(a), normalizeURI(b))
}

// withUser inserts user into a destination URI that has no user part
func withUser(destination, user string) string {
	if user == "" {
		return destination
	}
	i := strings.IndexByte(destination, ':')
	if i < 0 || strings.Contains(destination[i+1:], "@") {
		return destination
	}
	return destination[:i+1] + user + "@" + destination[i+1:]
}

// requestUser returns the user part of a request URI
func requestUser(raw string) string {
	if raw == "" {
		return ""
	}
	var uri sip.Uri
	if err := sip.ParseUri(normalizeURI(raw), &uri); err != nil {
		return ""
	}
	return uri.User
}
