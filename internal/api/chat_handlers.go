package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/rentchat/internal/bus"
	"github.com/matheus3301/rentchat/internal/chat"
)

var (
	errForbidden = errors.New("room access denied")
	errAdminOnly = errors.New("admin role required")
)

func (s *server) listRooms(c *gin.Context) {
	if identity(c).Role != chat.RoleAdmin {
		abort(c, http.StatusForbidden, errAdminOnly)
		return
	}
	rooms, err := s.DB.ListRooms()
	if err != nil {
		s.internal(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// listMessages returns a room's history oldest first. An optional ?after=<seq>
// returns only messages newer than that sequence number.
func (s *server) listMessages(c *gin.Context) {
	room := c.Param("room")
	if !chat.ValidRoomID(room) {
		abort(c, http.StatusBadRequest, fmt.Errorf("%w: %q", chat.ErrInvalidRoom, room))
		return
	}
	if !identity(c).CanAccess(room) {
		abort(c, http.StatusForbidden, errForbidden)
		return
	}

	var after int64
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			abort(c, http.StatusBadRequest, fmt.Errorf("invalid after %q", v))
			return
		}
		after = n
	}
	msgs, err := s.DB.ListMessagesAfter(room, after, 0)
	if err != nil {
		s.internal(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *server) markRead(c *gin.Context) {
	room := c.Param("room")
	id := identity(c)
	if !chat.ValidRoomID(room) {
		abort(c, http.StatusBadRequest, fmt.Errorf("%w: %q", chat.ErrInvalidRoom, room))
		return
	}
	if !id.CanAccess(room) {
		abort(c, http.StatusForbidden, errForbidden)
		return
	}
	n, err := s.DB.MarkRead(room, id.Role)
	if err != nil {
		s.internal(c, "mark read", err)
		return
	}
	if n > 0 {
		s.Bus.Publish(bus.Event{Kind: bus.KindRead, Room: room, Payload: id.Role})
	}
	unread, err := s.DB.UnreadCount(room, id.Role)
	if err != nil {
		s.internal(c, "unread count", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "unreadCount": unread, "marked": n})
}
