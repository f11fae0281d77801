package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/dto"
	"github.com/noah-isme/kabar-go-api/internal/observability"
)

// Well-known room names. Every connection is placed in the feed room and in
// its own user room at connect time; chat and post rooms are joined on demand.
const (
	RoomFeed       = "feed"
	userRoomPrefix = "user:"
	postRoomPrefix = "post:"
)

// UserRoom returns the per-user room a connection is auto-joined into.
// Direct pushes (chat_updated, notification_received) are addressed here.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// PostRoom returns the room carrying one post's comment/like stream.
func PostRoom(postID string) string {
	return postRoomPrefix + postID
}

// RoomMember is a destination for room fan-out. ID identifies the connection
// and must be unique per socket: a user with two tabs open is two members,
// and closing one must not evict the other. UserID identifies the human and
// is what broadcast exclusion matches on. Deliver must not block; it reports
// false when the event was dropped because the member was too slow.
type RoomMember interface {
	ID() string
	UserID() string
	Deliver(event dto.ServerEvent) bool
}

// Broadcaster is the fan-out capability consumed by the pipeline and the
// notification service.
type Broadcaster interface {
	Broadcast(roomID string, event dto.ServerEvent, excludeUsers ...string)
}

// RoomRegistry tracks which connections are subscribed to which rooms.
// Membership mutations hold the registry lock so a join can never land in a
// room object that a concurrent leave just pruned; each room additionally
// carries its own lock so fan-out in one room never serialises unrelated
// rooms.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*room
	log   zerolog.Logger
}

type room struct {
	mu      sync.RWMutex
	members map[string]RoomMember
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry(logger zerolog.Logger) *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*room),
		log:   logger.With().Str("component", "room_registry").Logger(),
	}
}

// Join subscribes a member to a room, creating the room lazily. Joining a
// room twice is a no-op. Once Join returns, the member sees every broadcast
// issued afterwards.
func (r *RoomRegistry) Join(roomID string, member RoomMember) {
	r.mu.Lock()
	rm, exists := r.rooms[roomID]
	if !exists {
		rm = &room{members: make(map[string]RoomMember)}
		r.rooms[roomID] = rm
	}
	rm.mu.Lock()
	rm.members[member.ID()] = member
	rm.mu.Unlock()
	r.mu.Unlock()

	r.log.Debug().Str("room_id", roomID).Str("connection_id", member.ID()).Str("user_id", member.UserID()).Msg("room joined")
}

// Leave removes a connection from a room. Leaving a room the connection is
// not in, or a room that does not exist, is a no-op. Empty rooms are pruned.
func (r *RoomRegistry) Leave(roomID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return
	}

	rm.mu.Lock()
	delete(rm.members, connectionID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, roomID)
	}

	r.log.Debug().Str("room_id", roomID).Str("connection_id", connectionID).Msg("room left")
}

// Broadcast fans an event out to the membership snapshot taken at call time.
// A member joining mid-broadcast does not receive this event; the exclude
// list suppresses delivery to every connection of the named users, which is
// how the sender's own tabs are skipped.
func (r *RoomRegistry) Broadcast(roomID string, event dto.ServerEvent, excludeUsers ...string) {
	r.mu.RLock()
	rm, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return
	}

	rm.mu.RLock()
	snapshot := make([]RoomMember, 0, len(rm.members))
	for _, member := range rm.members {
		snapshot = append(snapshot, member)
	}
	rm.mu.RUnlock()

	for _, member := range snapshot {
		if excluded(member.UserID(), excludeUsers) {
			continue
		}
		if !member.Deliver(event) {
			observability.DroppedDeliveries().WithLabelValues(event.Type).Inc()
			r.log.Warn().Str("room_id", roomID).Str("connection_id", member.ID()).Str("event", event.Type).Msg("dropping event for slow client")
		}
	}
}

// MemberCount reports the current room size; zero for unknown rooms.
func (r *RoomRegistry) MemberCount(roomID string) int {
	r.mu.RLock()
	rm, exists := r.rooms[roomID]
	r.mu.RUnlock()
	if !exists {
		return 0
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

func excluded(userID string, exclude []string) bool {
	for _, id := range exclude {
		if id == userID {
			return true
		}
	}
	return false
}
