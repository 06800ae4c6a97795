package api

import (
	"bufio"
	"sync"
	"time"

	"maildossier/middleware"
	"maildossier/models"
	"maildossier/utils"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const subscriberBuffer = 32

// ProgressHub fans processing events out to each user's open SSE and
// websocket connections. Events for a user nobody is listening to are dropped.
type ProgressHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan models.Event
	keepAlive   time.Duration
}

// NewProgressHub creates an empty hub
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subscribers: make(map[string]map[string]chan models.Event),
		keepAlive:   30 * time.Second,
	}
}

// Subscribe registers a new listener for owner's events
func (h *ProgressHub) Subscribe(owner string) (string, <-chan models.Event) {
	id := uuid.New().String()
	ch := make(chan models.Event, subscriberBuffer)

	h.mu.Lock()
	if h.subscribers[owner] == nil {
		h.subscribers[owner] = make(map[string]chan models.Event)
	}
	h.subscribers[owner][id] = ch
	h.mu.Unlock()

	utils.Log.Debug("Progress subscriber %s connected for %s", id, owner)
	return id, ch
}

// Unsubscribe removes the listener and closes its channel. Unknown ids are ignored.
func (h *ProgressHub) Unsubscribe(owner, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[owner]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, owner)
	}
	utils.Log.Debug("Progress subscriber %s disconnected", id)
}

// Subscribers counts owner's open listeners
func (h *ProgressHub) Subscribers(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[owner])
}

// Publish delivers e to every listener of owner without blocking. A
// listener whose buffer is full misses the event.
func (h *ProgressHub) Publish(owner string, e models.Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers[owner] {
		select {
		case ch <- e:
		default:
			utils.Log.Warn("Progress channel full for subscriber %s", id)
		}
	}
}

// HandleSSE streams the caller's progress events as Server-Sent Events
func (h *ProgressHub) HandleSSE(c *fiber.Ctx) error {
	owner := middleware.UserEmail(c)
	if owner == "" {
		return utils.UnauthorizedError("Authentication required", nil)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set(fiber.HeaderTransferEncoding, "chunked")

	id, events := h.Subscribe(owner)
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.Unsubscribe(owner, id)

		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()

		w.WriteString(": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(e)
				if err != nil {
					utils.Log.Error("Failed to encode progress event: %v", err)
					continue
				}
				w.WriteString("event: " + e.Type + "\ndata: " + string(data) + "\n\n")
			case <-ticker.C:
				w.WriteString(": keepalive\n\n")
			case <-done:
				return
			}
			if err := w.Flush(); err != nil {
				// client went away
				return
			}
		}
	}))
	return nil
}

// UpgradeWebSocket admits only websocket upgrades on the events socket
func UpgradeWebSocket(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket streams the caller's progress events as JSON frames
func (h *ProgressHub) HandleWebSocket(c *websocket.Conn) {
	owner, _ := c.Locals(middleware.LocalUserEmail).(string)
	if owner == "" {
		c.Close()
		return
	}

	id, events := h.Subscribe(owner)
	defer func() {
		h.Unsubscribe(owner, id)
		c.Close()
	}()

	// reads only detect the peer closing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := c.WriteJSON(e); err != nil {
				utils.Log.Error("Failed to send websocket event: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
