package hub

import (
	"encoding/json"
	"sort"
	"sync"

	"supportchat-ws/internal/domain"

	"github.com/google/uuid"
)

// Client is one live connection. Outbound frames go through a bounded queue
// drained by the connection's writer; the hub never blocks on it.
type Client struct {
	ID       string
	Identity domain.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewClient(identity domain.Identity, buffer int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		ID:       uuid.NewString(),
		Identity: identity,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

func (c *Client) Actor() domain.Actor { return c.Identity.Actor() }

// Send is drained by the connection writer.
func (c *Client) Send() <-chan []byte { return c.send }

// Done is closed once the client has been dropped.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue reports false when the client is closed or its queue is full.
func (c *Client) enqueue(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Reply queues a frame for this connection only. A full queue drops the client.
func (c *Client) Reply(v interface{}) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		c.Close()
		return errSlowConsumer
	}
	return nil
}

func (c *Client) ReplyError(message string) error {
	return c.Reply(domain.WebSocketResponse{Type: domain.FrameError, Success: false, Error: message})
}

func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) InRoom(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[id]
	return ok
}

func (c *Client) addRoom(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[id]; ok {
		return false
	}
	c.rooms[id] = struct{}{}
	return true
}

func (c *Client) removeRoom(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[id]; !ok {
		return false
	}
	delete(c.rooms, id)
	return true
}
