package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/service/rooms"
	"github.com/vovakirdan/relaychat/internal/store"
)

// RoomHandlers provides HTTP handlers for rooms, messages and reactions.
type RoomHandlers struct {
	rooms *rooms.Service
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(roomService *rooms.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms: roomService,
		log:   logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name         string   `json:"name" binding:"required,min=1,max=64"`
	Description  string   `json:"description" binding:"max=256"`
	Participants []string `json:"participants"`
}

// PostMessageRequest represents a new message.
type PostMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// EditMessageRequest represents a message edit.
type EditMessageRequest struct {
	Text *string `json:"text"`
}

// ReactionRequest represents a reaction toggle.
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// LastMessageResponse summarizes the newest message of a room.
type LastMessageResponse struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description,omitempty"`
	CreatedBy    string               `json:"createdBy"`
	CreatedAt    string               `json:"createdAt"`
	LastMessage  *LastMessageResponse `json:"lastMessage,omitempty"`
	Participants []string             `json:"participants"`
}

// ReactionResponse represents one user's reaction.
type ReactionResponse struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp string `json:"timestamp"`
}

// MessageResponse represents a persisted message in API responses.
type MessageResponse struct {
	ID        string                        `json:"id"`
	RoomID    string                        `json:"roomId"`
	UserID    string                        `json:"userId"`
	UserName  string                        `json:"userName,omitempty"`
	Text      string                        `json:"text"`
	Timestamp string                        `json:"timestamp"`
	Edited    bool                          `json:"edited"`
	EditedAt  string                        `json:"editedAt,omitempty"`
	Reactions map[string][]ReactionResponse `json:"reactions,omitempty"`
}

// ReactionToggleResponse reports the reaction state after a toggle.
type ReactionToggleResponse struct {
	Emoji   string `json:"emoji"`
	Reacted bool   `json:"reacted"`
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	uid, _ := currentUser(c)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), rooms.NewRoom{
		Name:         req.Name,
		Description:  req.Description,
		CreatedBy:    uid,
		Participants: req.Participants,
	})
	if err != nil {
		h.fail(c, err, "failed to create room")
		return
	}

	c.JSON(http.StatusCreated, toRoomResponse(room))
}

// ListRooms lists the rooms of the caller, newest first.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	uid, _ := currentUser(c)

	list, err := h.rooms.ListRooms(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err, "failed to list rooms")
		return
	}

	response := make([]RoomResponse, 0, len(list))
	for _, room := range list {
		response = append(response, toRoomResponse(room))
	}

	h.log.Debug().Str("user_id", uid).Int("room_count", len(list)).Msg("rooms listed")
	c.JSON(http.StatusOK, response)
}

// GetRoom returns one room.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID, ok := h.member(c)
	if !ok {
		return
	}

	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, err, "failed to get room")
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(room))
}

// ListMessages returns the messages of a room, oldest first.
// GET /api/rooms/:id/messages
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	roomID, ok := h.member(c)
	if !ok {
		return
	}

	msgs, err := h.rooms.ListMessages(c.Request.Context(), roomID)
	if err != nil {
		h.fail(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, toMessageResponses(msgs))
}

// PostMessage appends a message to a room.
// POST /api/rooms/:id/messages
func (h *RoomHandlers) PostMessage(c *gin.Context) {
	roomID, ok := h.member(c)
	if !ok {
		return
	}
	uid, name := currentUser(c)

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.rooms.Append(c.Request.Context(), roomID, rooms.NewMessage{
		UserID:   uid,
		UserName: name,
		Text:     req.Text,
	})
	if err != nil {
		h.fail(c, err, "failed to append message")
		return
	}
	c.JSON(http.StatusCreated, toMessageResponse(msg))
}

// EditMessage changes the text of the caller's own message.
// PATCH /api/rooms/:id/messages/:mid
func (h *RoomHandlers) EditMessage(c *gin.Context) {
	roomID, messageID, ok := h.ownMessage(c)
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.rooms.Update(c.Request.Context(), roomID, messageID, rooms.MessagePatch{Text: req.Text}); err != nil {
		h.fail(c, err, "failed to edit message")
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteMessage removes the caller's own message.
// DELETE /api/rooms/:id/messages/:mid
func (h *RoomHandlers) DeleteMessage(c *gin.Context) {
	roomID, messageID, ok := h.ownMessage(c)
	if !ok {
		return
	}

	if err := h.rooms.Delete(c.Request.Context(), roomID, messageID); err != nil {
		h.fail(c, err, "failed to delete message")
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleReaction adds or removes the caller's reaction on a message.
// POST /api/rooms/:id/messages/:mid/reactions
func (h *RoomHandlers) ToggleReaction(c *gin.Context) {
	roomID, ok := h.member(c)
	if !ok {
		return
	}
	uid, name := currentUser(c)

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	reacted, err := h.rooms.ToggleReaction(c.Request.Context(), roomID, c.Param("mid"), req.Emoji, uid, name)
	if err != nil {
		h.fail(c, err, "failed to toggle reaction")
		return
	}
	c.JSON(http.StatusOK, ReactionToggleResponse{Emoji: req.Emoji, Reacted: reacted})
}

// Stream pushes a message snapshot of the room as a server-sent event after every change.
// GET /api/rooms/:id/stream
func (h *RoomHandlers) Stream(c *gin.Context) {
	roomID, ok := h.member(c)
	if !ok {
		return
	}

	// Holds at most the latest snapshot; older ones are superseded.
	snapshots := make(chan []*store.Message, 1)
	push := func(msgs []*store.Message) {
		for {
			select {
			case snapshots <- msgs:
				return
			default:
			}
			select {
			case <-snapshots:
			default:
			}
		}
	}

	unsubscribe, err := h.rooms.Subscribe(c.Request.Context(), roomID, push)
	if err != nil {
		h.fail(c, err, "failed to subscribe")
		return
	}
	defer unsubscribe()

	h.log.Debug().Str("room_id", roomID).Msg("room stream opened")
	c.Stream(func(_ io.Writer) bool {
		select {
		case msgs := <-snapshots:
			c.SSEvent("messages", toMessageResponses(msgs))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	h.log.Debug().Str("room_id", roomID).Msg("room stream closed")
}

// member checks that the caller participates in the room named by :id.
func (h *RoomHandlers) member(c *gin.Context) (string, bool) {
	roomID := c.Param("id")
	uid, _ := currentUser(c)

	if err := h.rooms.IsParticipant(c.Request.Context(), roomID, uid); err != nil {
		h.fail(c, err, "failed to check membership")
		return "", false
	}
	return roomID, true
}

// ownMessage checks that the caller wrote the message named by :mid.
func (h *RoomHandlers) ownMessage(c *gin.Context) (string, string, bool) {
	roomID, ok := h.member(c)
	if !ok {
		return "", "", false
	}
	messageID := c.Param("mid")
	uid, _ := currentUser(c)

	msg, err := h.rooms.GetMessage(c.Request.Context(), roomID, messageID)
	if err != nil {
		h.fail(c, err, "failed to load message")
		return "", "", false
	}
	if msg.UserID != uid {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not the author of this message"})
		return "", "", false
	}
	return roomID, messageID, true
}

func (h *RoomHandlers) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, rooms.ErrNotMember):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, rooms.ErrEmptyName),
		errors.Is(err, rooms.ErrEmptyText),
		errors.Is(err, rooms.ErrEmptyEmoji),
		errors.Is(err, rooms.ErrNothingToDo),
		errors.Is(err, rooms.ErrUnknownAuthor):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("room_id", c.Param("id")).Msg(msg)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func toRoomResponse(room *store.Room) RoomResponse {
	resp := RoomResponse{
		ID:           room.ID,
		Name:         room.Name,
		Description:  room.Description,
		CreatedBy:    room.CreatedBy,
		CreatedAt:    room.CreatedAt.UTC().Format(time.RFC3339),
		Participants: room.Participants,
	}
	if resp.Participants == nil {
		resp.Participants = []string{}
	}
	if room.LastMessage != nil {
		resp.LastMessage = &LastMessageResponse{
			Text:      room.LastMessage.Text,
			Timestamp: room.LastMessage.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return resp
}

func toMessageResponse(msg *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Text:      msg.Text,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339Nano),
		Edited:    msg.Edited,
	}
	if msg.EditedAt != nil {
		resp.EditedAt = msg.EditedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(msg.Reactions) > 0 {
		resp.Reactions = make(map[string][]ReactionResponse, len(msg.Reactions))
		for emoji, list := range msg.Reactions {
			for _, r := range list {
				resp.Reactions[emoji] = append(resp.Reactions[emoji], ReactionResponse{
					UserID:    r.UserID,
					UserName:  r.UserName,
					Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
				})
			}
		}
	}
	return resp
}

func toMessageResponses(msgs []*store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}
