package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/crisis"
	"github.com/meghan/community-chat/internal/safety"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type detectRequest struct {
	Text    string `json:"text"`
	Country string `json:"country"`
}

type detectResponse struct {
	RiskLevel         safety.Level      `json:"risk_level"`
	Allowed           bool              `json:"allowed"`
	MatchedPhrases    []string          `json:"matched_phrases"`
	RecommendedAction string            `json:"recommended_action"`
	SafeReply         *string           `json:"safe_reply"`
	Resources         []safety.Resource `json:"resources,omitempty"`
}

type resourcesResponse struct {
	Resources []safety.Resource `json:"resources"`
	Country   string            `json:"country"`
}

type crisisEventsResponse struct {
	Events []crisis.Event `json:"events"`
}

// detectCrisis assesses arbitrary text. Blocked text is recorded as a
// crisis event and answered with local emergency resources.
func (s *Server) detectCrisis(c echo.Context) error {
	var req detectRequest
	if err := c.Bind(&req); err != nil {
		return apperr.ErrMalformed
	}
	if strings.TrimSpace(req.Text) == "" {
		return apperr.Validation("Text is required")
	}

	ctx := c.Request().Context()
	v := s.deps.Classifier.Assess(ctx, req.Text)
	resp := detectResponse{
		RiskLevel:         v.Level,
		Allowed:           v.Allowed,
		MatchedPhrases:    v.Matched,
		RecommendedAction: safety.RecommendedAction(v.Level),
	}
	if resp.MatchedPhrases == nil {
		resp.MatchedPhrases = []string{}
	}
	if v.SafeReply != "" {
		resp.SafeReply = &v.SafeReply
	}

	if !v.Allowed {
		user := identity(c).UserID
		if _, err := s.deps.Crisis.RecordAndNotify(ctx, user, crisis.SourceDetect, nil,
			req.Text, string(v.Level), v.Matched); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id": user, "level": v.Level,
			}).Error("record detected crisis")
		}
		resp.Resources, _ = safety.Resources(req.Country)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) crisisResources(c echo.Context) error {
	resources, country := safety.Resources(c.QueryParam("country"))
	return c.JSON(http.StatusOK, resourcesResponse{Resources: resources, Country: country})
}

func (s *Server) listCrisisEvents(c echo.Context) error {
	f := crisis.Filter{Limit: defaultPageSize}
	if raw := c.QueryParam("community_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperr.Validation("Invalid community id")
		}
		f.RoomID = &id
	}
	limit, offset := pageParams(c)
	if limit > 0 {
		f.Limit = min(limit, maxPageSize)
	}
	if offset > 0 {
		f.Offset = offset
	}

	events, err := s.deps.Crisis.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, crisisEventsResponse{Events: events})
}
