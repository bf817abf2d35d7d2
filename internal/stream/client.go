// Package stream maintains the connection to the upstream tracking
// provider's live telemetry socket: an explicit connection/auth state
// machine, subscription switching between the whole fleet and one
// focused device, and fan-out of validated telemetry onto NATS.
package stream

import (
	"log"
	"sync"
	"time"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/observability"
)

// State is the connection lifecycle state of the live stream client.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected // socket up, authentication handshake outstanding
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// SubscriptionMode selects between the full-fleet feed and a single
// focused device.
type SubscriptionMode string

const (
	SubscribeAll    SubscriptionMode = "all"
	SubscribeSingle SubscriptionMode = "single"
)

// Subscription describes what the client is asking the upstream feed
// for. The fleet subscription is paginated and filterable the same way
// the dashboard list is.
type Subscription struct {
	Mode     SubscriptionMode `json:"mode"`
	DeviceID int              `json:"deviceId,omitempty"`
	Status   string           `json:"status,omitempty"`
	Search   string           `json:"search,omitempty"`
	SchoolID int              `json:"schoolId,omitempty"`
	Page     int              `json:"page,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// DefaultSubscription is what the client subscribes to right after
// authenticating.
func DefaultSubscription() Subscription {
	return Subscription{Mode: SubscribeAll, Page: 1, Limit: 50}
}

// Transport sends handshake and subscription frames upstream. The
// websocket runner implements it; tests substitute a recorder.
type Transport interface {
	SendAuth(token string) error
	SendSubscribe(sub Subscription) error
}

// authRetryDelay is the debounce between authentication attempts while
// connected but not yet authenticated. A single pending retry timer is
// kept; connect events reset it rather than stacking new ones.
const authRetryDelay = time.Second

// Client is the live stream state machine. Transitions are driven by
// the transport runner (socket events) and by the dashboard (focus
// changes). All methods are safe for concurrent use.
type Client struct {
	mu        sync.Mutex
	state     State
	sub       Subscription
	transport Transport
	token     string
	sched     clock.Scheduler
	retry     clock.CancelFunc

	// OnSubscriptionChange, when set, observes every accepted
	// subscription switch (used to prune tracker state). Called with
	// the client lock held; it must not call back into the client.
	OnSubscriptionChange func(sub Subscription)
}

// NewClient creates a client that authenticates with the given token.
func NewClient(transport Transport, token string, sched clock.Scheduler) *Client {
	return &Client{
		state:     Disconnected,
		transport: transport,
		token:     token,
		sched:     sched,
	}
}

// SetTransport attaches the transport after construction. The client
// and its runner reference each other, so one side has to be wired
// late; the runner does not deliver events before Start.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscription returns the active subscription. Only meaningful while
// authenticated.
func (c *Client) Subscription() Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

// OnConnecting marks the start of a dial attempt.
func (c *Client) OnConnecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRetryLocked()
	c.state = Connecting
}

// OnConnect handles socket establishment. The authentication handshake
// is sent immediately and retried on a debounced timer until either
// OnAuthSuccess or OnDisconnect arrives.
func (c *Client) OnConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelRetryLocked()
	c.state = Connected
	c.sendAuthLocked()
}

// OnAuthSuccess handles a successful handshake: the pending retry is
// cancelled and the default fleet subscription is established.
func (c *Client) OnAuthSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return
	}
	c.cancelRetryLocked()
	c.state = Authenticated
	c.sub = DefaultSubscription()
	c.sendSubscribeLocked()
}

// OnDisconnect resets to Disconnected. Pending auth timers are
// cancelled and subscription state is dropped; the next connection
// starts from the default subscription again.
func (c *Client) OnDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelRetryLocked()
	c.state = Disconnected
	c.sub = Subscription{}
}

// SwitchToSingle narrows the feed to one device (focused live-track
// view). No-op unless authenticated.
func (c *Client) SwitchToSingle(deviceID int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Authenticated {
		return
	}
	c.sub = Subscription{Mode: SubscribeSingle, DeviceID: deviceID}
	c.sendSubscribeLocked()
}

// SwitchToAll restores the fleet-wide feed (focused view closed).
func (c *Client) SwitchToAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Authenticated {
		return
	}
	c.sub = DefaultSubscription()
	c.sendSubscribeLocked()
}

// SetFilters updates the fleet subscription filters (status, search,
// school, pagination). Ignored while focused on a single device.
func (c *Client) SetFilters(status, search string, schoolID, page, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Authenticated || c.sub.Mode != SubscribeAll {
		return
	}
	c.sub.Status = status
	c.sub.Search = search
	c.sub.SchoolID = schoolID
	if page > 0 {
		c.sub.Page = page
	}
	if limit > 0 {
		c.sub.Limit = limit
	}
	c.sendSubscribeLocked()
}

func (c *Client) sendAuthLocked() {
	if err := c.transport.SendAuth(c.token); err != nil {
		log.Printf("[Stream] Auth send failed: %v", err)
	}
	c.retry = c.sched.After(authRetryDelay, c.retryAuth)
}

func (c *Client) retryAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return
	}
	observability.StreamAuthRetries.Inc()
	c.sendAuthLocked()
}

func (c *Client) sendSubscribeLocked() {
	if err := c.transport.SendSubscribe(c.sub); err != nil {
		log.Printf("[Stream] Subscribe send failed: %v", err)
		return
	}
	if c.OnSubscriptionChange != nil {
		c.OnSubscriptionChange(c.sub)
	}
}

func (c *Client) cancelRetryLocked() {
	if c.retry != nil {
		c.retry()
		c.retry = nil
	}
}
