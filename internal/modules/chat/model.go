// README: Chat message model; transport (WebSocket/STOMP) lives elsewhere.
package chat

import (
	"time"

	"unipool/internal/types"
)

type MessageType string

const (
	TypeTalk  MessageType = "TALK"
	TypeEnter MessageType = "ENTER"
	TypeLeave MessageType = "LEAVE"
)

type Message struct {
	ID        types.ID
	PartyID   types.ID
	SenderID  *types.ID // nil for system messages
	Type      MessageType
	Content   string
	CreatedAt time.Time
}
