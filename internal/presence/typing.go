package presence

import (
	"context"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"supportchat-ws/internal/domain"
)

const shardCount = 32

// entry is shared by every connection of one sender that is typing in the
// conversation; it ends when the last of them stops or the TTL lapses.
type entry struct {
	name      string
	expiresAt time.Time
	conns     map[string]struct{}
}

type shard struct {
	mu    sync.Mutex
	rooms map[string]map[string]*entry // conversation -> sender -> entry
}

// Expired is a typing entry removed because its TTL lapsed.
type Expired struct {
	ConversationID string
	SenderID       string
	SenderName     string
}

// TypingTracker holds who is typing in each conversation. Nothing here is persisted.
type TypingTracker struct {
	ttl    time.Duration
	now    func() time.Time
	shards [shardCount]*shard
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	t := &TypingTracker{ttl: ttl, now: time.Now}
	for i := range t.shards {
		t.shards[i] = &shard{rooms: make(map[string]map[string]*entry)}
	}
	return t
}

// WithClock replaces the time source.
func (t *TypingTracker) WithClock(now func() time.Time) *TypingTracker {
	t.now = now
	return t
}

func (t *TypingTracker) TTL() time.Duration { return t.ttl }

func (t *TypingTracker) shardFor(conversationID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return t.shards[h.Sum32()%shardCount]
}

// Start inserts or refreshes senderID's entry on behalf of connectionID. It
// returns true when the sender was not already typing, i.e. when a
// typing_started event is due.
func (t *TypingTracker) Start(conversationID, senderID, connectionID, senderName string) bool {
	s := t.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	room, ok := s.rooms[conversationID]
	if !ok {
		room = make(map[string]*entry)
		s.rooms[conversationID] = room
	}
	e, existed := room[senderID]
	started := !existed || !e.expiresAt.After(now)
	if started {
		e = &entry{conns: make(map[string]struct{})}
		room[senderID] = e
	}
	e.name = senderName
	e.expiresAt = now.Add(t.ttl)
	e.conns[connectionID] = struct{}{}
	return started
}

// Stop releases connectionID's hold on senderID's entry. It returns true only
// when that removed the entry, so a connection that was never typing, or one
// of several still typing, changes nothing visible. Entries the sweeper
// already reported are gone and return false.
func (t *TypingTracker) Stop(conversationID, senderID, connectionID string) (domain.Typing, bool) {
	s := t.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[conversationID]
	if !ok {
		return domain.Typing{}, false
	}
	e, ok := room[senderID]
	if !ok {
		return domain.Typing{}, false
	}
	if _, held := e.conns[connectionID]; !held {
		return domain.Typing{}, false
	}
	delete(e.conns, connectionID)
	if len(e.conns) > 0 {
		return domain.Typing{}, false
	}
	delete(room, senderID)
	if len(room) == 0 {
		delete(s.rooms, conversationID)
	}
	return domain.Typing{ConversationID: conversationID, SenderID: senderID, SenderName: e.name}, true
}

// Typing lists live entries, ignoring any that expired but were not swept yet.
func (t *TypingTracker) Typing(conversationID string) []domain.Typing {
	s := t.shardFor(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	out := make([]domain.Typing, 0)
	for senderID, e := range s.rooms[conversationID] {
		if e.expiresAt.After(now) {
			out = append(out, domain.Typing{ConversationID: conversationID, SenderID: senderID, SenderName: e.name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SenderID < out[j].SenderID })
	return out
}

// Sweep drops expired entries and returns them.
func (t *TypingTracker) Sweep() []Expired {
	now := t.now()
	var expired []Expired
	for _, s := range t.shards {
		s.mu.Lock()
		for conversationID, room := range s.rooms {
			for senderID, e := range room {
				if e.expiresAt.After(now) {
					continue
				}
				delete(room, senderID)
				expired = append(expired, Expired{ConversationID: conversationID, SenderID: senderID, SenderName: e.name})
			}
			if len(room) == 0 {
				delete(s.rooms, conversationID)
			}
		}
		s.mu.Unlock()
	}
	return expired
}

// Run sweeps every interval until ctx is done, handing each expiry to onExpire.
func (t *TypingTracker) Run(ctx context.Context, interval time.Duration, onExpire func(Expired)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Typing sweeper recovered from panic: %v", r)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range t.Sweep() {
				onExpire(e)
			}
		}
	}
}
