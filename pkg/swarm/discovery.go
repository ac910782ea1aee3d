package swarm

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/cuemby/actyx/pkg/types"
)

// discoveryName is the query name nodes use to find each other, in
// the same "_service._proto.domain" shape as mDNS-SD, resolved here
// by direct query to known addresses rather than multicast.
const discoveryName = "_actyx._udp.swarm."

// Found is reported to onFound for every advert a poll receives from
// a node other than this one, whether or not the swarm already knows
// it; the callback does its own deduplication.
type Found struct {
	NodeID types.NodeId
	Addr   string
}

// discovery answers TXT queries about this node and periodically
// queries known addresses to learn about theirs: a ServeMux +
// dns.Server over UDP repurposed from name resolution to peer
// advertisement.
type discovery struct {
	self       types.NodeId
	listenAddr string // the address peers should dial to reach this node
	bindAddr   string // the UDP address the discovery responder listens on

	mu    sync.Mutex
	peers []string // addresses to query

	server       *dns.Server
	stopCh       chan struct{}
	onFound      func(Found)
	pollInterval time.Duration
}

func newDiscovery(self types.NodeId, listenAddr, bindAddr string, bootstrap []string, onFound func(Found)) *discovery {
	return &discovery{
		self:         self,
		listenAddr:   listenAddr,
		bindAddr:     bindAddr,
		peers:        append([]string(nil), bootstrap...),
		stopCh:       make(chan struct{}),
		onFound:      onFound,
		pollInterval: 10 * time.Second,
	}
}

func (d *discovery) addPeerAddr(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		if p == addr {
			return
		}
	}
	d.peers = append(d.peers, addr)
}

func (d *discovery) knownAddrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.peers...)
}

func (d *discovery) start() error {
	mux := dns.NewServeMux()
	mux.HandleFunc(discoveryName, d.handleQuery)
	d.server = &dns.Server{Addr: d.bindAddr, Net: "udp", Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("discovery responder failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	go d.pollLoop()
	return nil
}

func (d *discovery) stop() error {
	close(d.stopCh)
	if d.server != nil {
		return d.server.Shutdown()
	}
	return nil
}

// handleQuery answers a discovery query with a TXT record advertising
// this node's id and dial address.
func (d *discovery) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeTXT {
			continue
		}
		rr := &dns.TXT{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
			Txt: []string{encodeAdvert(d.self, d.listenAddr)},
		}
		msg.Answer = append(msg.Answer, rr)
	}
	_ = w.WriteMsg(msg)
}

// pollLoop periodically queries every known address for the node
// answering there, feeding each advert to onFound.
func (d *discovery) pollLoop() {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.pollOnce()
	for {
		select {
		case <-ticker.C:
			d.pollOnce()
		case <-d.stopCh:
			return
		}
	}
}

func (d *discovery) pollOnce() {
	for _, addr := range d.knownAddrs() {
		d.query(addr)
	}
}

func (d *discovery) query(addr string) {
	msg := new(dns.Msg)
	msg.SetQuestion(discoveryName, dns.TypeTXT)
	client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}

	resp, _, err := client.Exchange(msg, addr)
	if err != nil {
		return
	}
	for _, ans := range resp.Answer {
		txt, ok := ans.(*dns.TXT)
		if !ok || len(txt.Txt) == 0 {
			continue
		}
		id, advertAddr, ok := decodeAdvert(txt.Txt[0])
		if !ok || id == d.self {
			continue // self-suppression
		}
		d.addPeerAddr(addr)
		if d.onFound != nil {
			d.onFound(Found{NodeID: id, Addr: advertAddr})
		}
	}
}

func encodeAdvert(id types.NodeId, addr string) string {
	return fmt.Sprintf("nodeid=%s;addr=%s", id, addr)
}

func decodeAdvert(txt string) (types.NodeId, string, bool) {
	var id, addr string
	for _, field := range strings.Split(txt, ";") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "nodeid":
			id = kv[1]
		case "addr":
			addr = kv[1]
		}
	}
	if id == "" || addr == "" {
		return "", "", false
	}
	return types.NodeId(id), addr, true
}
