// README: Chat handlers for message history and posting; live delivery is
// the WebSocket gateway's job, out of scope here.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"unipool/internal/http/middleware"
	"unipool/internal/modules/chat"
	"unipool/internal/modules/party"
	"unipool/internal/types"
)

type ChatHandler struct {
	chat  *chat.Service
	party *party.Service
}

func NewChatHandler(chatSvc *chat.Service, partySvc *party.Service) *ChatHandler {
	return &ChatHandler{chat: chatSvc, party: partySvc}
}

type messageResponse struct {
	ID        int64     `json:"id"`
	PartyID   int64     `json:"party_id"`
	SenderID  *int64    `json:"sender_id,omitempty"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageResponse(m *chat.Message) messageResponse {
	r := messageResponse{
		ID:        int64(m.ID),
		PartyID:   int64(m.PartyID),
		Type:      string(m.Type),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if m.SenderID != nil {
		v := int64(*m.SenderID)
		r.SenderID = &v
	}
	return r
}

// requireMembership loads the party and checks the requester belongs to it.
func (h *ChatHandler) requireMembership(c *gin.Context) (types.ID, types.ID, bool) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return 0, 0, false
	}
	partyID, ok := pathID(c)
	if !ok {
		return 0, 0, false
	}
	p, err := h.party.Get(c.Request.Context(), partyID)
	if err != nil {
		writePartyError(c, err)
		return 0, 0, false
	}
	if !p.Contains(memberID) {
		writePartyError(c, party.ErrMemberNotInParty)
		return 0, 0, false
	}
	return partyID, memberID, true
}

func (h *ChatHandler) History(c *gin.Context) {
	partyID, _, ok := h.requireMembership(c)
	if !ok {
		return
	}

	afterID, _ := strconv.ParseInt(c.DefaultQuery("after_id", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := h.chat.History(c.Request.Context(), partyID, types.ID(afterID), limit)
	if err != nil {
		writePartyError(c, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type postMessageReq struct {
	Content string `json:"content"`
}

func (h *ChatHandler) Post(c *gin.Context) {
	partyID, memberID, ok := h.requireMembership(c)
	if !ok {
		return
	}

	var req postMessageReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		writeError(c, http.StatusBadRequest, "message content required")
		return
	}

	m, err := h.chat.Post(c.Request.Context(), partyID, memberID, req.Content)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(m))
}
