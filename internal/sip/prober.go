// Package sip sends dispatcher health probes as SIP requests through a
// sipgo client and reports the final reply code.
package sip

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	sipmsg "github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

const (
	defaultFrom = "sip:dispatcher@localhost"
	userAgent   = "sip-dispatcher"
)

var errNoResponse = errors.New("transaction ended without a final response")

// transaction is the part of a sipgo client transaction the prober uses
type transaction interface {
	Responses() <-chan *sipmsg.Response
	Done() <-chan struct{}
	Err() error
	Terminate()
}

type sendFunc func(ctx context.Context, req *sipmsg.Request) (transaction, error)

// OptionsProber implements domain.Prober. Every probe is a fresh
// non-dialog transaction; one client is kept per send socket.
type OptionsProber struct {
	hostname string
	ua       *sipgo.UserAgent
	logger   *logger.Logger
	cseq     atomic.Uint32

	mu      sync.Mutex
	senders map[string]sendFunc
	dial    func(host string) (sendFunc, error)
}

// NewOptionsProber creates the user agent and the default client
func NewOptionsProber(cfg config.ProbingConfig, log *logger.Logger) (*OptionsProber, error) {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = "localhost"
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(userAgent),
		sipgo.WithUserAgentHostname(hostname),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}

	p := &OptionsProber{
		hostname: hostname,
		ua:       ua,
		logger:   log.ProbeLogger(),
		senders:  make(map[string]sendFunc),
	}
	p.dial = p.dialClient

	if _, err := p.sender(""); err != nil {
		ua.Close()
		return nil, err
	}
	return p, nil
}

func (p *OptionsProber) dialClient(host string) (sendFunc, error) {
	if host == "" {
		host = p.hostname
	}
	client, err := sipgo.NewClient(p.ua, sipgo.WithClientHostname(host))
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", host, err)
	}
	return func(ctx context.Context, req *sipmsg.Request) (transaction, error) {
		tx, err := client.TransactionRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}, nil
}

// sender returns the client bound to socket, creating it on first use
func (p *OptionsProber) sender(socket string) (sendFunc, error) {
	host := socketHost(socket)

	p.mu.Lock()
	defer p.mu.Unlock()

	if send, ok := p.senders[host]; ok {
		return send, nil
	}
	send, err := p.dial(host)
	if err != nil {
		return nil, err
	}
	p.senders[host] = send
	return send, nil
}

// Probe sends one request to target and waits for the final reply or ctx
func (p *OptionsProber) Probe(ctx context.Context, target domain.ProbeTarget) (int, string, error) {
	req, err := buildRequest(target, p.cseq.Add(1))
	if err != nil {
		return 0, "", err
	}
	send, err := p.sender(target.Socket)
	if err != nil {
		return 0, "", err
	}

	tx, err := send(ctx, req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send %s to %s: %w", req.Method, target.URI, err)
	}
	code, reason, err := awaitFinal(ctx, tx)
	if err == nil {
		p.logger.WithFields(map[string]interface{}{
			"uri":  target.URI,
			"code": code,
		}).Debug("probe reply")
	}
	return code, reason, err
}

// Close releases the user agent and its transports
func (p *OptionsProber) Close() {
	if p.ua != nil {
		p.ua.Close()
	}
}

func awaitFinal(ctx context.Context, tx transaction) (int, string, error) {
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return 0, "", ctx.Err()
		case resp := <-tx.Responses():
			if resp == nil {
				return 0, "", txError(tx)
			}
			if resp.StatusCode < 200 {
				continue
			}
			return int(resp.StatusCode), resp.Reason, nil
		case <-tx.Done():
			return 0, "", txError(tx)
		}
	}
}

func txError(tx transaction) error {
	if err := tx.Err(); err != nil {
		return err
	}
	return errNoResponse
}

func buildRequest(target domain.ProbeTarget, seq uint32) (*sipmsg.Request, error) {
	method := sipmsg.OPTIONS
	if target.Method != "" {
		method = sipmsg.RequestMethod(strings.ToUpper(target.Method))
	}

	var recipient sipmsg.Uri
	if err := sipmsg.ParseUri(target.URI, &recipient); err != nil {
		return nil, fmt.Errorf("invalid probe uri %q: %w", target.URI, err)
	}

	from := target.From
	if from == "" {
		from = defaultFrom
	}
	var fromURI sipmsg.Uri
	if err := sipmsg.ParseUri(from, &fromURI); err != nil {
		return nil, fmt.Errorf("invalid probe from %q: %w", from, err)
	}

	req := sipmsg.NewRequest(method, recipient)

	maxFwd := sipmsg.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)

	fromParams := sipmsg.NewParams()
	fromParams.Add("tag", uuid.NewString()[:8])
	req.AppendHeader(&sipmsg.FromHeader{Address: fromURI, Params: fromParams})

	var toURI sipmsg.Uri
	_ = sipmsg.ParseUri(target.URI, &toURI)
	req.AppendHeader(&sipmsg.ToHeader{Address: toURI, Params: sipmsg.NewParams()})

	callID := sipmsg.CallIDHeader("dsp-" + uuid.NewString())
	req.AppendHeader(&callID)

	req.AppendHeader(&sipmsg.CSeqHeader{SeqNo: seq, MethodName: method})

	if target.OutboundProxy != "" {
		dest, err := proxyAddress(target.OutboundProxy)
		if err != nil {
			return nil, err
		}
		req.SetDestination(dest)
	}
	return req, nil
}

// proxyAddress turns an outbound proxy URI into host:port
func proxyAddress(proxy string) (string, error) {
	raw := proxy
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "sip:") && !strings.HasPrefix(lower, "sips:") {
		raw = "sip:" + raw
	}
	var uri sipmsg.Uri
	if err := sipmsg.ParseUri(raw, &uri); err != nil {
		return "", fmt.Errorf("invalid outbound proxy %q: %w", proxy, err)
	}
	port := uri.Port
	if port == 0 {
		port = 5060
		if strings.HasPrefix(lower, "sips:") {
			port = 5061
		}
	}
	return uri.Host + ":" + strconv.Itoa(port), nil
}

// socketHost extracts the host of a "proto:host[:port]" socket
func socketHost(socket string) string {
	if socket == "" {
		return ""
	}
	parts := strings.Split(socket, ":")
	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		if _, err := strconv.Atoi(parts[1]); err == nil {
			return parts[0]
		}
		return parts[1]
	default:
		return parts[1]
	}
}
