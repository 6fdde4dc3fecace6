package notification

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/constants"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/metrics"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/models"
	"github.com/michaelkourlas/voipms-sms-client-sub001/internal/validation"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// Subscriber receives published notifications on a buffered channel.
type Subscriber struct {
	ch  chan models.Notification
	did string
}

// C returns the channel notifications arrive on. It is closed when the
// subscriber is removed.
func (s *Subscriber) C() <-chan models.Notification {
	return s.ch
}

func (s *Subscriber) wants(n models.Notification) bool {
	return s.did == "" || s.did == n.ConversationID.DID
}

// Hub fans notifications out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the notification.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	buffer      int
	logger      *logrus.Logger
	done        chan struct{}
	closeOnce   sync.Once
}

func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = constants.DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		buffer:      buffer,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Subscribe registers a subscriber; did limits it to one DID when set.
func (h *Hub) Subscribe(did string) *Subscriber {
	s := &Subscriber{ch: make(chan models.Notification, h.buffer), did: did}
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.SetGauge("notification_subscribers", float64(count), nil, "Connected notification subscribers")
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.ch)
	}
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.SetGauge("notification_subscribers", float64(count), nil, "Connected notification subscribers")
}

// Publish hands n to every interested subscriber and returns how many
// accepted it.
func (h *Hub) Publish(n models.Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.subscribers {
		if !s.wants(n) {
			continue
		}
		select {
		case s.ch <- n:
			delivered++
		default:
			metrics.IncrementCounter("notifications_dropped_total", nil, "Notifications dropped for slow subscribers")
		}
	}
	metrics.IncrementCounter("notifications_published_total", map[string]string{"kind": string(n.Kind)}, "Notifications published")
	return delivered
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close disconnects every websocket subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeHTTP upgrades the request to a websocket and streams notifications
// as JSON text frames until either side goes away. The optional "did"
// query parameter narrows the stream to one DID and accepts any format
// that canonicalizes to the stored digits.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("did")
	did := validation.CanonicalizeNumber(raw)
	if raw != "" && did == "" {
		http.Error(w, "invalid did", http.StatusBadRequest)
		return
	}

	// Streams outlive the server's request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept notification stream")
		return
	}
	defer conn.CloseNow()

	sub := h.Subscribe(did)
	defer h.Unsubscribe(sub)

	// Nothing is expected from the client; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())
	h.logger.WithField("remote_ip", r.RemoteAddr).Debug("Notification subscriber connected")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, constants.NotificationWriteTimeoutSec*time.Second)
			err := wsjson.Write(writeCtx, conn, n)
			cancel()
			if err != nil {
				h.logger.WithError(err).Debug("Notification subscriber went away")
				return
			}
		}
	}
}
