// README: Chat service persists messages and fans them out over Redis; the
// party engine posts membership system messages through it.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"unipool/internal/modules/member"
	"unipool/internal/modules/party"
	"unipool/internal/types"
)

// MemberNamer resolves display names for system message text.
type MemberNamer interface {
	Get(ctx context.Context, id types.ID) (*member.Member, error)
}

type Service struct {
	store   *Store
	redis   *redis.Client
	members MemberNamer
}

func NewService(store *Store, redisClient *redis.Client, members MemberNamer) *Service {
	return &Service{store: store, redis: redisClient, members: members}
}

func channelFor(partyID types.ID) string {
	return fmt.Sprintf("chat:party:%d", int64(partyID))
}

type wireMessage struct {
	ID        int64  `json:"id"`
	PartyID   int64  `json:"party_id"`
	SenderID  *int64 `json:"sender_id,omitempty"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// CreateSystemMessage records a membership event in the party room and
// publishes it for connected chat sessions. Satisfies party.SystemMessenger.
func (s *Service) CreateSystemMessage(ctx context.Context, partyID, memberID types.ID, event party.SystemEvent) error {
	name := fmt.Sprintf("member %d", int64(memberID))
	if s.members != nil {
		if m, err := s.members.Get(ctx, memberID); err == nil {
			name = m.Nickname
		}
	}

	var msgType MessageType
	var content string
	switch event {
	case party.EventEntered:
		msgType = TypeEnter
		content = fmt.Sprintf("%s joined the party.", name)
	case party.EventLeft:
		msgType = TypeLeave
		content = fmt.Sprintf("%s left the party.", name)
	default:
		return fmt.Errorf("unknown system event %q", event)
	}

	m := &Message{
		PartyID:   partyID,
		Type:      msgType,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Append(ctx, m); err != nil {
		return err
	}
	return s.publish(ctx, m)
}

// Post stores a member-authored message and fans it out.
func (s *Service) Post(ctx context.Context, partyID, senderID types.ID, content string) (*Message, error) {
	m := &Message{
		PartyID:   partyID,
		SenderID:  &senderID,
		Type:      TypeTalk,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Append(ctx, m); err != nil {
		return nil, err
	}
	if err := s.publish(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) History(ctx context.Context, partyID, afterID types.ID, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.ListByParty(ctx, partyID, afterID, limit)
}

func (s *Service) publish(ctx context.Context, m *Message) error {
	if s.redis == nil {
		return nil
	}
	w := wireMessage{
		ID:        int64(m.ID),
		PartyID:   int64(m.PartyID),
		Type:      string(m.Type),
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
	if m.SenderID != nil {
		v := int64(*m.SenderID)
		w.SenderID = &v
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.redis.Publish(ctx, channelFor(m.PartyID), payload).Err()
}
