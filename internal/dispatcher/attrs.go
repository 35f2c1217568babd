package dispatcher

import (
	"strconv"
	"strings"

	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

// parseAttrs reads the semicolon separated key=value attribute string of a
// destination row. Unknown keys are kept in Body only.
func parseAttrs(body string, log *logger.Logger) domain.Attrs {
	attrs := domain.Attrs{Body: body}
	if strings.TrimSpace(body) == "" {
		return attrs
	}

	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "duid":
			attrs.DUID = value
		case "weight":
			attrs.Weight = atoiAttr(value)
		case "rweight":
			rw := atoiAttr(value)
			if rw < 1 || rw > 100 {
				log.WithField("rweight", value).Error("rweight must be between 1 and 100, ignored")
				continue
			}
			attrs.RelativeWeight = rw
		case "maxload":
			attrs.MaxLoad = atoiAttr(value)
		case "socket":
			attrs.Socket = value
		case "sockname":
			attrs.SocketName = value
		case "ping_socket":
			attrs.PingSocket = value
		case "ping_from":
			attrs.PingFrom = value
		case "obproxy":
			attrs.OutboundProxy = value
		case "cc":
			attrs.CongestionControl = atoiAttr(value) != 0
		case "latency":
			attrs.InitialLatency = atoiAttr(value)
		case "ocmin":
			attrs.OverloadMin = atoiAttr(value)
		case "ocmax":
			attrs.OverloadMax = atoiAttr(value)
		case "ocrate":
			attrs.OverloadRate = atoiAttr(value)
		}
	}
	return attrs
}

func atoiAttr(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
