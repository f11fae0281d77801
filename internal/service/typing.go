package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/observability"
)

// TypingTracker manages transient typing indicators. Nothing is persisted:
// each (chat, user) pair carries an expiry timer armed on typing_start and
// reset by every subsequent start. The stop emission, whether from the
// timer or an explicit typing_stop, fires exactly once per start.
type TypingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	gen      uint64
	active   map[typingKey]*typingEntry
	onExpire func(chatID, userID string)
	log      zerolog.Logger
}

type typingKey struct {
	chatID string
	userID string
}

// typingEntry carries the generation its timer was armed with. A fired timer
// that lost the race against a restart finds a newer generation in the map
// and must not act; timer.Stop alone cannot cancel a callback that has
// already fired and is waiting on the lock.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// NewTypingTracker creates a tracker whose indicators expire after ttl of
// inactivity. onExpire is invoked for timer-driven stops only; explicit
// stops are broadcast by the caller.
func NewTypingTracker(ttl time.Duration, onExpire func(chatID, userID string), logger zerolog.Logger) *TypingTracker {
	if ttl <= 0 {
		ttl = 6 * time.Second
	}

	return &TypingTracker{
		ttl:      ttl,
		active:   make(map[typingKey]*typingEntry),
		onExpire: onExpire,
		log:      logger.With().Str("component", "typing_tracker").Logger(),
	}
}

// Start arms or resets the expiry timer for the pair.
func (t *TypingTracker) Start(chatID, userID string) {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.active[key]; exists {
		entry.timer.Stop()
	}

	t.gen++
	gen := t.gen
	t.active[key] = &typingEntry{
		gen: gen,
		timer: time.AfterFunc(t.ttl, func() {
			t.expire(key, gen)
		}),
	}
}

// Stop cancels the indicator explicitly. It reports whether the indicator
// was still active, so the caller broadcasts the stop event at most once.
func (t *TypingTracker) Stop(chatID, userID string) bool {
	key := typingKey{chatID: chatID, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.active[key]
	if !exists {
		return false
	}

	entry.timer.Stop()
	delete(t.active, key)
	return true
}

// StopAllFor cancels every indicator owned by the user and returns the chat
// ids that were active. Used on disconnect so no timers leak.
func (t *TypingTracker) StopAllFor(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var chats []string
	for key, entry := range t.active {
		if key.userID != userID {
			continue
		}
		entry.timer.Stop()
		delete(t.active, key)
		chats = append(chats, key.chatID)
	}
	return chats
}

// StopAll cancels every indicator without firing expiry callbacks. Called
// on shutdown.
func (t *TypingTracker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.active {
		entry.timer.Stop()
		delete(t.active, key)
	}
}

// expire acts only when its generation is still the current one for the
// key; a restart in the fired-but-not-yet-locked window supersedes it.
func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, exists := t.active[key]
	current := exists && entry.gen == gen
	if current {
		delete(t.active, key)
	}
	t.mu.Unlock()

	if !current {
		return
	}

	observability.TypingExpiries().Inc()
	t.log.Debug().Str("chat_id", key.chatID).Str("user_id", key.userID).Msg("typing indicator expired")
	if t.onExpire != nil {
		t.onExpire(key.chatID, key.userID)
	}
}
