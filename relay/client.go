package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/golang-lru/arc/v2"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/satwork/satwork/build"
	"github.com/satwork/satwork/events"
)

var log = logging.Logger("relay")

// The relay speaks a small framed protocol over websocket:
//
//	client → relay: ["REQ", subID, {"kinds": [...]}]
//	client → relay: ["CLOSE", subID]
//	client → relay: ["EVENT", {...envelope...}]
//	relay → client: ["EVENT", subID, {...envelope...}]
//	relay → client: ["EOSE", subID]
//
// Relays guarantee neither ordering nor completeness nor uniqueness;
// everything downstream is built to tolerate that.

const (
	writeTimeout  = 10 * time.Second
	reconnectWait = time.Second
	subBuffer     = 256
)

type subscription struct {
	id        string
	kinds     []events.Kind
	out       chan *events.Envelope
	eose      chan string
	oneshot   bool
	cancelled bool
}

type relayConn struct {
	url string

	lk sync.Mutex
	ws *websocket.Conn
}

func (rc *relayConn) send(v interface{}) error {
	rc.lk.Lock()
	defer rc.lk.Unlock()
	if rc.ws == nil {
		return xerrors.Errorf("relay %s not connected", rc.url)
	}
	_ = rc.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return rc.ws.WriteJSON(v)
}

// Client maintains connections to a set of relays and multiplexes
// queries, subscriptions and publishes across all of them. Events
// arriving from any relay are verified and deduplicated before they
// reach a consumer: the same event is routinely delivered by several
// relays and again on reconnect.
type Client struct {
	urls   []string
	dialer *websocket.Dialer

	// QueryTimeout is the hard cutoff for bulk queries. Set before
	// the first Query; defaults to build.BulkQueryTimeout.
	QueryTimeout time.Duration

	seen *arc.ARCCache[string, struct{}]

	lk    sync.Mutex
	conns map[string]*relayConn
	subs  map[string]*subscription
}

func NewClient(urls []string) (*Client, error) {
	if len(urls) == 0 {
		return nil, xerrors.Errorf("no relay urls configured")
	}
	seen, err := arc.NewARC[string, struct{}](build.SeenEventCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("creating seen-event cache: %w", err)
	}
	return &Client{
		urls:         urls,
		dialer:       websocket.DefaultDialer,
		QueryTimeout: build.BulkQueryTimeout,
		seen:         seen,
		conns:        make(map[string]*relayConn),
		subs:         make(map[string]*subscription),
	}, nil
}

// Dial connects to every configured relay, tolerating individual
// failures as long as at least one connection comes up. Each
// connection keeps itself alive until ctx is cancelled.
func (c *Client) Dial(ctx context.Context) error {
	connected := 0
	for _, u := range c.urls {
		rc := &relayConn{url: u}
		ws, _, err := c.dialer.DialContext(ctx, u, nil)
		if err != nil {
			log.Warnf("dialing relay %s: %s", u, err)
		} else {
			rc.ws = ws
			connected++
		}

		c.lk.Lock()
		c.conns[u] = rc
		c.lk.Unlock()

		go c.pump(ctx, rc)
	}
	if connected == 0 {
		return xerrors.Errorf("could not connect to any of %d relays", len(c.urls))
	}
	log.Infof("connected to %d/%d relays", connected, len(c.urls))
	return nil
}

// pump owns one relay connection: it reads frames, dispatches them,
// and reconnects with a flat delay for the life of the process.
func (c *Client) pump(ctx context.Context, rc *relayConn) {
	for {
		if rc.ws == nil {
			ws, _, err := c.dialer.DialContext(ctx, rc.url, nil)
			if err != nil {
				log.Debugf("reconnecting to relay %s: %s", rc.url, err)
				select {
				case <-build.Clock.After(reconnectWait):
					continue
				case <-ctx.Done():
					return
				}
			}
			rc.lk.Lock()
			rc.ws = ws
			rc.lk.Unlock()
			c.resubscribe(rc)
		}

		_, data, err := rc.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("relay %s read failed: %s", rc.url, err)
			rc.lk.Lock()
			_ = rc.ws.Close()
			rc.ws = nil
			rc.lk.Unlock()
			continue
		}
		c.dispatch(rc.url, data)
	}
}

// resubscribe replays every active REQ on a fresh connection.
func (c *Client) resubscribe(rc *relayConn) {
	c.lk.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.lk.Unlock()

	for _, s := range subs {
		if err := rc.send(reqFrame(s)); err != nil {
			log.Warnf("re-subscribing %s on relay %s: %s", s.id, rc.url, err)
		}
	}
}

func reqFrame(s *subscription) []interface{} {
	kinds := make([]int, len(s.kinds))
	for i, k := range s.kinds {
		kinds[i] = int(k)
	}
	return []interface{}{"REQ", s.id, map[string]interface{}{"kinds": kinds}}
}

func (c *Client) dispatch(relayURL string, data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
		log.Debugf("relay %s sent undecodable frame", relayURL)
		return
	}
	var typ string
	if err := json.Unmarshal(frame[0], &typ); err != nil {
		return
	}

	switch typ {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		var env events.Envelope
		if err := json.Unmarshal(frame[2], &env); err != nil {
			log.Debugf("relay %s sent undecodable event on sub %s", relayURL, subID)
			return
		}
		c.routeEvent(subID, &env)

	case "EOSE":
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		c.lk.Lock()
		s, ok := c.subs[subID]
		c.lk.Unlock()
		if ok {
			select {
			case s.eose <- relayURL:
			default:
			}
		}

	case "NOTICE":
		log.Debugf("notice from relay %s: %s", relayURL, string(frame[1]))
	}
}

// routeEvent verifies and dedupes one inbound event, then hands it to
// the owning subscription. Unsigned or invalid-signature events are
// dropped here, before anything downstream sees them.
func (c *Client) routeEvent(subID string, env *events.Envelope) {
	c.lk.Lock()
	s, ok := c.subs[subID]
	c.lk.Unlock()
	if !ok || s.cancelled {
		return
	}

	if _, dup := c.seen.Get(env.ID); dup {
		return
	}
	if err := env.VerifySignature(); err != nil {
		log.Warnf("dropping event %s with bad signature: %s", env.ID, err)
		return
	}
	c.seen.Add(env.ID, struct{}{})

	select {
	case s.out <- env:
	default:
		log.Warnf("subscription %s backlogged, dropping event %s", subID, env.ID)
	}
}

func (c *Client) newSub(kinds []events.Kind, oneshot bool) *subscription {
	s := &subscription{
		id:      uuid.NewString(),
		kinds:   kinds,
		out:     make(chan *events.Envelope, subBuffer),
		eose:    make(chan string, subBuffer),
		oneshot: oneshot,
	}
	c.lk.Lock()
	c.subs[s.id] = s
	c.lk.Unlock()
	return s
}

func (c *Client) closeSub(s *subscription) {
	c.lk.Lock()
	s.cancelled = true
	delete(c.subs, s.id)
	conns := c.liveConns()
	c.lk.Unlock()

	for _, rc := range conns {
		if err := rc.send([]interface{}{"CLOSE", s.id}); err != nil {
			log.Debugf("closing sub %s on relay %s: %s", s.id, rc.url, err)
		}
	}
}

// liveConns must be called with c.lk held.
func (c *Client) liveConns() []*relayConn {
	out := make([]*relayConn, 0, len(c.conns))
	for _, rc := range c.conns {
		out = append(out, rc)
	}
	return out
}

func (c *Client) broadcast(v interface{}) int {
	c.lk.Lock()
	conns := c.liveConns()
	c.lk.Unlock()

	sent := 0
	for _, rc := range conns {
		if err := rc.send(v); err != nil {
			log.Debugf("sending to relay %s: %s", rc.url, err)
			continue
		}
		sent++
	}
	return sent
}

// Query performs the bulk historical load for the given kinds. It
// collects events until every relay reports end-of-stored-events or
// the hard cutoff fires, whichever comes first, and returns whatever
// arrived by then: partial history is acceptable because the engine
// synthesizes placeholders for anything still missing.
func (c *Client) Query(ctx context.Context, kinds []events.Kind) ([]*events.Envelope, error) {
	s := c.newSub(kinds, true)
	defer c.closeSub(s)

	if sent := c.broadcast(reqFrame(s)); sent == 0 {
		return nil, xerrors.Errorf("bulk query: no connected relays")
	}

	var collected []*events.Envelope
	eoseSeen := make(map[string]bool)
	timeout := build.Clock.After(c.QueryTimeout)

	for {
		select {
		case env := <-s.out:
			collected = append(collected, env)
		case relayURL := <-s.eose:
			eoseSeen[relayURL] = true
			if len(eoseSeen) >= len(c.urls) {
				return collected, nil
			}
		case <-timeout:
			log.Warnf("bulk query timed out with %d events collected; proceeding with partial history", len(collected))
			return collected, nil
		case <-ctx.Done():
			return collected, ctx.Err()
		}
	}
}

// Subscribe opens a long-lived subscription for the given kinds. The
// channel stays open for the life of the client; relay reconnects
// re-issue the REQ transparently.
func (c *Client) Subscribe(ctx context.Context, kinds []events.Kind) (<-chan *events.Envelope, error) {
	s := c.newSub(kinds, false)
	if sent := c.broadcast(reqFrame(s)); sent == 0 {
		c.closeSub(s)
		return nil, xerrors.Errorf("subscribe: no connected relays")
	}
	return s.out, nil
}

// Publish sends a signed envelope to every connected relay. It
// succeeds if at least one relay took it; the others will pick it up
// through relay-to-relay gossip or on the next reconnect.
func (c *Client) Publish(ctx context.Context, env *events.Envelope) error {
	if sent := c.broadcast([]interface{}{"EVENT", env}); sent == 0 {
		return xerrors.Errorf("publish: no connected relays")
	}
	return nil
}

// Close tears down all relay connections.
func (c *Client) Close() error {
	c.lk.Lock()
	defer c.lk.Unlock()
	for _, rc := range c.conns {
		rc.lk.Lock()
		if rc.ws != nil {
			_ = rc.ws.Close()
			rc.ws = nil
		}
		rc.lk.Unlock()
	}
	return nil
}
