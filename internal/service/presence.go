package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/observability"
)

// PresenceView is the read side of the tracker consumed by the notification
// fan-out.
type PresenceView interface {
	Online(userID string) bool
}

// PresenceTracker derives online state from live connection counts. A user
// is online while their refCount is above zero. The 1→0 transition is not
// announced immediately: a grace timer absorbs quick reconnects (page
// reloads) and a new connection within the window cancels the pending
// offline emission.
type PresenceTracker struct {
	mu        sync.Mutex
	entries   map[string]*presenceEntry
	grace     time.Duration
	onOnline  func(userID string)
	onOffline func(userID string)
	log       zerolog.Logger
}

type presenceEntry struct {
	refCount     int
	announced    bool
	offlineTimer *time.Timer
}

// NewPresenceTracker creates a tracker with the given grace period.
func NewPresenceTracker(grace time.Duration, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		entries: make(map[string]*presenceEntry),
		grace:   grace,
		log:     logger.With().Str("component", "presence_tracker").Logger(),
	}
}

// SetHandlers installs the online/offline emission callbacks. Must be called
// before the first Connect; the gateway wires these to room broadcasts.
func (t *PresenceTracker) SetHandlers(onOnline, onOffline func(userID string)) {
	t.mu.Lock()
	t.onOnline = onOnline
	t.onOffline = onOffline
	t.mu.Unlock()
}

// Connect increments the user's connection count. The online announcement
// fires on the 0→1 transition only; a reconnect inside the grace window
// cancels the pending offline emission instead of announcing online again.
func (t *PresenceTracker) Connect(userID string) {
	t.mu.Lock()
	entry, exists := t.entries[userID]
	if !exists {
		entry = &presenceEntry{}
		t.entries[userID] = entry
	}

	entry.refCount++
	if entry.offlineTimer != nil {
		entry.offlineTimer.Stop()
		entry.offlineTimer = nil
	}

	announce := !entry.announced
	if announce {
		entry.announced = true
	}
	handler := t.onOnline
	t.mu.Unlock()

	if announce {
		observability.PresenceOnline().Inc()
		t.log.Debug().Str("user_id", userID).Msg("user online")
		if handler != nil {
			handler(userID)
		}
	}
}

// Disconnect decrements the user's connection count. Decrementing an unknown
// user is a no-op; the count never goes negative. On the 1→0 transition the
// offline announcement is deferred by the grace period.
func (t *PresenceTracker) Disconnect(userID string) {
	t.mu.Lock()

	entry, exists := t.entries[userID]
	if !exists || entry.refCount == 0 {
		t.mu.Unlock()
		return
	}

	entry.refCount--
	if entry.refCount > 0 {
		t.mu.Unlock()
		return
	}

	if t.grace <= 0 {
		t.mu.Unlock()
		t.finishOffline(userID)
		return
	}

	if entry.offlineTimer != nil {
		entry.offlineTimer.Stop()
	}
	entry.offlineTimer = time.AfterFunc(t.grace, func() {
		t.finishOffline(userID)
	})
	t.mu.Unlock()
}

// finishOffline completes an offline transition unless a connection arrived
// in the meantime.
func (t *PresenceTracker) finishOffline(userID string) {
	t.mu.Lock()
	entry, exists := t.entries[userID]
	if !exists || entry.refCount > 0 {
		t.mu.Unlock()
		return
	}

	if entry.offlineTimer != nil {
		entry.offlineTimer.Stop()
		entry.offlineTimer = nil
	}
	delete(t.entries, userID)
	handler := t.onOffline
	t.mu.Unlock()

	observability.PresenceOnline().Dec()
	t.log.Debug().Str("user_id", userID).Msg("user offline")
	if handler != nil {
		handler(userID)
	}
}

// Online reports whether the user currently has at least one live connection
// or sits inside the offline grace window.
func (t *PresenceTracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[userID]
	return exists && entry.announced
}

// OnlineUsers returns a snapshot of all users currently considered online.
func (t *PresenceTracker) OnlineUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.entries))
	for userID, entry := range t.entries {
		if entry.announced {
			users = append(users, userID)
		}
	}
	return users
}

// Stop cancels all pending grace timers. Used on shutdown.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.entries {
		if entry.offlineTimer != nil {
			entry.offlineTimer.Stop()
			entry.offlineTimer = nil
		}
	}
}
