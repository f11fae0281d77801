package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/kabar-go-api/internal/dto"
	"github.com/noah-isme/kabar-go-api/internal/models"
	"github.com/noah-isme/kabar-go-api/pkg/moderation"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

var testDBCounter int

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBCounter++
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", testDBCounter)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChatMessage{}, &models.ChatSummary{}, &models.Notification{}, &models.UserRelation{}))
	return db
}

// memberStub records every event delivered to it.
type memberStub struct {
	id     string
	userID string
	reject bool

	mu     sync.Mutex
	events []dto.ServerEvent
}

func newMemberStub(id string) *memberStub {
	return &memberStub{id: id, userID: id}
}

// newUserMemberStub models one of several connections held by the same user.
func newUserMemberStub(connID, userID string) *memberStub {
	return &memberStub{id: connID, userID: userID}
}

func (m *memberStub) ID() string { return m.id }

func (m *memberStub) UserID() string { return m.userID }

func (m *memberStub) Deliver(event dto.ServerEvent) bool {
	if m.reject {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return true
}

func (m *memberStub) received() []dto.ServerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dto.ServerEvent(nil), m.events...)
}

func (m *memberStub) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.events))
	for _, event := range m.events {
		types = append(types, event.Type)
	}
	return types
}

// checkerStub is a moderation collaborator with a fixed verdict.
type checkerStub struct {
	allowed bool
	reason  string
	err     error
}

func (c checkerStub) Check(ctx context.Context, text string) (moderation.Result, error) {
	if c.err != nil {
		return moderation.Result{}, c.err
	}
	return moderation.Result{Allowed: c.allowed, Reason: c.reason}, nil
}

// recordingBroadcaster captures broadcasts without any room bookkeeping.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
}

type broadcastRecord struct {
	roomID  string
	event   dto.ServerEvent
	exclude []string
}

func (b *recordingBroadcaster) Broadcast(roomID string, event dto.ServerEvent, exclude ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastRecord{roomID: roomID, event: event, exclude: exclude})
}

func (b *recordingBroadcaster) forRoom(roomID string) []dto.ServerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []dto.ServerEvent
	for _, record := range b.events {
		if record.roomID == roomID {
			out = append(out, record.event)
		}
	}
	return out
}
