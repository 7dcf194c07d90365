package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/community"
	"github.com/meghan/community-chat/internal/protocol"
	"github.com/meghan/community-chat/internal/session"
)

type communityView struct {
	community.Room
	Online int `json:"online_count"`
}

type communityListResponse struct {
	Communities     []communityView `json:"communities"`
	UserCommunities []int64         `json:"user_communities"`
}

type joinRequest struct {
	IsAnonymous *bool `json:"is_anonymous"`
}

type joinResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type autoAssignRequest struct {
	Struggles []string `json:"struggles"`
}

type autoAssignResponse struct {
	Joined          int     `json:"joined"`
	UserCommunities []int64 `json:"user_communities"`
}

type historyResponse struct {
	Messages []protocol.MessageView `json:"messages"`
	Total    int                    `json:"total"`
}

func (s *Server) listCommunities(c echo.Context) error {
	ctx := c.Request().Context()
	rooms, joined, err := s.deps.Directory.ListRooms(ctx, identity(c).UserID, c.QueryParam("stress_source"))
	if err != nil {
		return err
	}

	views := lo.Map(rooms, func(r community.Room, _ int) communityView {
		return communityView{Room: r, Online: s.online(c, r.ID)}
	})
	if joined == nil {
		joined = []int64{}
	}
	return c.JSON(http.StatusOK, communityListResponse{Communities: views, UserCommunities: joined})
}

// online prefers the cross-server presence count and falls back to the
// local registry.
func (s *Server) online(c echo.Context, roomID int64) int {
	if s.deps.Presence != nil {
		n, err := s.deps.Presence.Online(c.Request().Context(), roomID)
		if err == nil {
			return n
		}
		s.log.WithError(err).WithField("room_id", roomID).Warn("presence lookup failed")
	}
	if s.deps.Rooms != nil {
		return s.deps.Rooms.Count(roomID)
	}
	return 0
}

func (s *Server) joinCommunity(c echo.Context) error {
	roomID, err := pathID(c)
	if err != nil {
		return err
	}
	var req joinRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return apperr.ErrMalformed
		}
	}
	anonymous := true
	if req.IsAnonymous != nil {
		anonymous = *req.IsAnonymous
	}

	_, created, err := s.deps.Directory.Join(c.Request().Context(), identity(c).UserID, roomID, anonymous)
	if err != nil {
		return err
	}
	msg := "Joined community successfully."
	if !created {
		msg = "Community already joined; anonymity updated."
	}
	return c.JSON(http.StatusCreated, joinResponse{Success: true, Message: msg})
}

// autoAssign joins the caller to the rooms matching their struggles.
func (s *Server) autoAssign(c echo.Context) error {
	var req autoAssignRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ErrMalformed
	}
	if len(req.Struggles) == 0 {
		return apperr.Validation("At least one struggle is required")
	}

	ctx := c.Request().Context()
	userID := identity(c).UserID
	n, err := s.deps.Directory.AutoAssign(ctx, userID, req.Struggles)
	if err != nil {
		return err
	}
	_, joined, err := s.deps.Directory.ListRooms(ctx, userID, "")
	if err != nil {
		return err
	}
	if joined == nil {
		joined = []int64{}
	}
	return c.JSON(http.StatusOK, autoAssignResponse{Joined: n, UserCommunities: joined})
}

// listMessages returns history to members only. Display names are not
// resolved here.
func (s *Server) listMessages(c echo.Context) error {
	roomID, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, _, err := s.deps.Directory.Authorize(ctx, identity(c).UserID, roomID); err != nil {
		return err
	}

	limit, offset := pageParams(c)
	msgs, total, err := s.deps.Directory.History(ctx, roomID, limit, offset)
	if err != nil {
		return err
	}
	views := lo.Map(msgs, func(m community.Message, _ int) protocol.MessageView {
		return protocol.MessageView{
			ID:          m.ID,
			RoomID:      m.RoomID,
			AuthorID:    m.AuthorID,
			Content:     m.Content,
			IsAnonymous: m.IsAnonymous,
			CreatedAt:   m.CreatedAt,
		}
	})
	return c.JSON(http.StatusOK, historyResponse{Messages: views, Total: total})
}

// serveSocket upgrades and hands the connection to the session layer. It
// blocks until the session ends.
func (s *Server) serveSocket(c echo.Context) error {
	roomID, err := pathID(c)
	if err != nil {
		return err
	}
	if s.deps.ConnectLimit != nil {
		ok, _ := s.deps.ConnectLimit.Allow(c.Request().Context(), c.RealIP())
		if !ok {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many connection attempts")
		}
	}

	conn, err := s.deps.Upgrader.Upgrade(c.Response(), c.Request())
	if err != nil {
		// Upgrade has already written the failure response.
		s.log.WithError(err).Debug("websocket upgrade failed")
		return nil
	}

	err = s.deps.Sessions.Serve(s.ctx, conn, session.Request{
		Token:  c.QueryParam("token"),
		RoomID: roomID,
	})
	if err != nil {
		s.log.WithError(err).WithField("conn_id", conn.ID()).Debug("session ended with error")
	}
	return nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("Invalid community id")
	}
	return id, nil
}

// pageParams reads limit and offset. Bad values fall back to the defaults
// applied downstream.
func pageParams(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}
