package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"schoolfleet/tracker/internal/model"
	"schoolfleet/tracker/internal/observability"
)

// SubjectTelemetry is the NATS subject validated telemetry is fanned
// out on, suffixed with the device id.
const SubjectTelemetry = "fleet.telemetry"

// TelemetrySubject returns the per-device NATS subject.
func TelemetrySubject(deviceID int) string {
	return fmt.Sprintf("%s.%d", SubjectTelemetry, deviceID)
}

// envelope is the upstream wire frame. The provider pushes either a
// full snapshot list (mode "all") or single-device updates.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Runner owns the websocket to the upstream provider: it dials,
// drives the Client state machine from socket events, and publishes
// every valid telemetry sample to NATS.
type Runner struct {
	url    string
	client *Client
	nats   *nats.Conn

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner for the given upstream websocket URL.
// The runner is the client's Transport; attach it with
// Client.SetTransport before calling Start.
func NewRunner(url string, client *Client, natsConn *nats.Conn) *Runner {
	return &Runner{url: url, client: client, nats: natsConn}
}

// SendAuth implements Transport.
func (r *Runner) SendAuth(token string) error {
	return r.writeJSON(map[string]interface{}{"type": "auth", "token": token})
}

// SendSubscribe implements Transport.
func (r *Runner) SendSubscribe(sub Subscription) error {
	return r.writeJSON(map[string]interface{}{"type": "subscribe", "data": sub})
}

func (r *Runner) writeJSON(v interface{}) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// Start launches the connect/read loop.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop tears the connection down and waits for the loop to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()
	if r.done != nil {
		<-r.done
	}
	log.Println("[Stream] Runner stopped")
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.client.OnConnecting()
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
		if err != nil {
			r.client.OnDisconnect()
			observability.StreamReconnects.Inc()
			log.Printf("[Stream] Dial failed: %v (retrying in %s)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()

		log.Printf("[Stream] Connected to %s", r.url)
		r.client.OnConnect()

		r.readLoop(ctx, conn)

		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()
		r.client.OnDisconnect()
		observability.StreamReconnects.Inc()
	}
}

func (r *Runner) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Stream] Read error: %v", err)
			}
			return
		}

		switch env.Type {
		case "auth_ok":
			r.client.OnAuthSuccess()

		case "auth_error":
			// Stay connected; the debounced retry timer in the client
			// sends the next attempt.
			log.Printf("[Stream] Authentication rejected: %s", string(env.Data))

		case "positions":
			var batch []model.Telemetry
			if err := json.Unmarshal(env.Data, &batch); err != nil {
				log.Printf("[Stream] Bad positions frame: %v", err)
				continue
			}
			for i := range batch {
				r.publish(&batch[i])
			}

		case "position":
			var t model.Telemetry
			if err := json.Unmarshal(env.Data, &t); err != nil {
				log.Printf("[Stream] Bad position frame: %v", err)
				continue
			}
			r.publish(&t)

		case "pong":
			// keepalive reply, nothing to do
		default:
			log.Printf("[Stream] Unknown frame type %q", env.Type)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// publish fans a validated sample out on NATS. Samples without a
// renderable fix are counted and dropped here, upstream of every
// consumer.
func (r *Runner) publish(t *model.Telemetry) {
	observability.TelemetryReceived.Inc()
	if !t.HasValidPosition() {
		observability.TelemetryDropped.Inc()
		return
	}

	data, err := json.Marshal(t)
	if err != nil {
		log.Printf("[Stream] Marshal failed: %v", err)
		return
	}
	if err := r.nats.Publish(TelemetrySubject(t.DeviceID), data); err != nil {
		log.Printf("[Stream] NATS publish failed: %v", err)
	}
}
