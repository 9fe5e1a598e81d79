package store

import "context"

// Direction tells who authored a stored message.
type Direction string

const (
	DirectionSelf Direction = "self"
	DirectionPeer Direction = "peer"
)

// MessageType is the normalized message type.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeSystem     MessageType = "system"
	MessageTypeTimeMarker MessageType = "time-marker"
)

// Message status values.
const (
	MessageStatusReceived = 0
	MessageStatusSent     = 1
)

// Message is one persisted chat message. ID is assigned by the store.
type Message struct {
	ID           int64
	Tenant       string
	SessionKey   string
	Content      string
	Direction    Direction
	Type         MessageType
	Sender       string
	Attr         string
	Hash         string
	OriginalTime string
	Ts           int64
	ReplyTo      int64 // 0 when not a reply
	Status       int
	CreatedTs    int64
}

// FindMessage filters messages of one conversation.
type FindMessage struct {
	Tenant     string
	SessionKey string
	BeforeID   *int64
	// ExcludeType drops messages of that type.
	ExcludeType *MessageType
	Limit       *int
	Offset      *int
	// Descending orders newest first. Default is oldest first.
	Descending bool
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) CountMessages(ctx context.Context, find *FindMessage) (int, error) {
	return s.driver.CountMessages(ctx, find)
}

// RecentHistory returns up to limit conversation turns written before beforeID,
// oldest first. Time markers are not turns.
func (s *Store) RecentHistory(ctx context.Context, tenant, sessionKey string, beforeID int64, limit int) ([]*Message, error) {
	marker := MessageTypeTimeMarker
	find := &FindMessage{
		Tenant:      tenant,
		SessionKey:  sessionKey,
		ExcludeType: &marker,
		Limit:       &limit,
		Descending:  true,
	}
	if beforeID > 0 {
		find.BeforeID = &beforeID
	}
	list, err := s.driver.ListMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// ClearSessionMessages deletes a conversation's messages and their suggestions
// and marks the conversation as having more history to load.
func (s *Store) ClearSessionMessages(ctx context.Context, tenant, sessionKey string) (int64, error) {
	return s.driver.ClearSessionMessages(ctx, tenant, sessionKey)
}
