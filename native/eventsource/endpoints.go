package eventsource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"subledger/native/ledger"
)

// FallbackRing drives a priority list of ChainClients, rotating away from
// an endpoint once it has failed MaxEndpointFailures times in a row,
// grounded on the teacher's OracleAggregator priority-list-with-fallback
// pattern (native/swap/oracle.go).
type FallbackRing struct {
	mu        sync.Mutex
	endpoints []ringEndpoint
}

type ringEndpoint struct {
	name     string
	client   ChainClient
	failures int
}

// NewFallbackRing constructs a ring from name->client pairs, tried in the
// supplied order.
func NewFallbackRing(named map[string]ChainClient, order []string) *FallbackRing {
	ring := &FallbackRing{}
	for _, name := range order {
		client, ok := named[name]
		if !ok {
			continue
		}
		ring.endpoints = append(ring.endpoints, ringEndpoint{name: name, client: client})
	}
	return ring
}

func (r *FallbackRing) active() (*ringEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.endpoints {
		if r.endpoints[i].failures < MaxEndpointFailures {
			return &r.endpoints[i], nil
		}
	}
	if len(r.endpoints) == 0 {
		return nil, fmt.Errorf("eventsource: no endpoints configured")
	}
	// Every endpoint has exhausted its failure budget; reset and retry the
	// first rather than wedging the poller permanently.
	r.endpoints[0].failures = 0
	return &r.endpoints[0], nil
}

func (r *FallbackRing) recordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.endpoints {
		if r.endpoints[i].name == name {
			r.endpoints[i].failures++
			return
		}
	}
}

func (r *FallbackRing) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.endpoints {
		if r.endpoints[i].name == name {
			r.endpoints[i].failures = 0
			return
		}
	}
}

// HeadBlockNumber implements eventsource.ChainClient, trying the current
// endpoint and rotating to the next on failure.
func (r *FallbackRing) HeadBlockNumber(ctx context.Context) (uint64, error) {
	ep, err := r.active()
	if err != nil {
		return 0, err
	}
	head, err := ep.client.HeadBlockNumber(ctx)
	if err != nil {
		r.recordFailure(ep.name)
		return 0, fmt.Errorf("eventsource: endpoint %s: %w", ep.name, err)
	}
	r.recordSuccess(ep.name)
	return head, nil
}

// BlockHeader implements eventsource.ChainClient.
func (r *FallbackRing) BlockHeader(ctx context.Context, number uint64) (BlockHeader, error) {
	ep, err := r.active()
	if err != nil {
		return BlockHeader{}, err
	}
	header, err := ep.client.BlockHeader(ctx, number)
	if err != nil {
		r.recordFailure(ep.name)
		return BlockHeader{}, fmt.Errorf("eventsource: endpoint %s: %w", ep.name, err)
	}
	r.recordSuccess(ep.name)
	return header, nil
}

// EventsInRange implements eventsource.ChainClient.
func (r *FallbackRing) EventsInRange(ctx context.Context, fromBlock, toBlock uint64) ([]ledger.Event, error) {
	ep, err := r.active()
	if err != nil {
		return nil, err
	}
	events, err := ep.client.EventsInRange(ctx, fromBlock, toBlock)
	if err != nil {
		r.recordFailure(ep.name)
		return nil, fmt.Errorf("eventsource: endpoint %s: %w", ep.name, err)
	}
	r.recordSuccess(ep.name)
	return events, nil
}

// ResolveSRV resolves a SRV record naming the substrate RPC fleet against
// the given DNS server (host:port), returning target host:port pairs
// ordered by priority then weight. Used ahead of the static endpoint list
// when the operator configures DNS-based discovery, giving
// github.com/miekg/dns a concrete home in the spend/accounting domain.
func ResolveSRV(dnsServer, service string) ([]string, error) {
	client := new(dns.Client)
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(service), dns.TypeSRV)
	resp, _, err := client.Exchange(msg, dnsServer)
	if err != nil {
		return nil, fmt.Errorf("eventsource: resolve SRV %s: %w", service, err)
	}
	if resp == nil || len(resp.Answer) == 0 {
		return nil, fmt.Errorf("eventsource: no SRV records for %s", service)
	}
	var records []*dns.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})
	targets := make([]string, 0, len(records))
	for _, rr := range records {
		targets = append(targets, fmt.Sprintf("%s:%d", strings.TrimSuffix(rr.Target, "."), rr.Port))
	}
	return targets, nil
}
