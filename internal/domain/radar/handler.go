package radar

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialsense/trialsense/internal/platform/auth"
	"github.com/trialsense/trialsense/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/radar", auth.RequireRole("admin", "physician", "nurse"))
	g.POST("/scan", h.Scan)
	g.GET("/alerts", h.ListAlerts)
	g.POST("/alerts/read", h.MarkRead)
	g.GET("/targets", h.ListTargets)
	g.POST("/briefing", h.Briefing)
}

// Scan triggers a full scan-and-brief pass. Per-target failures come back
// as warnings inside a 200; only a targets/storage failure is an error.
func (h *Handler) Scan(c echo.Context) error {
	result, err := h.svc.ScanAndBrief(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	alerts, total, err := h.svc.GetAlerts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if alerts == nil {
		alerts = []*Alert{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(alerts, total, pg.Limit, pg.Offset))
}

type markReadRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

type markReadResponse struct {
	Updated int `json:"updated"`
}

func (h *Handler) MarkRead(c echo.Context) error {
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.svc.MarkAsRead(c.Request().Context(), req.IDs)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, markReadResponse{Updated: updated})
}

type targetsResponse struct {
	Targets []string `json:"targets"`
}

func (h *Handler) ListTargets(c echo.Context) error {
	targets, err := h.svc.MonitoredTargets(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if targets == nil {
		targets = []string{}
	}
	return c.JSON(http.StatusOK, targetsResponse{Targets: targets})
}

type briefingResponse struct {
	Script     string `json:"script"`
	PodcastURL string `json:"podcast_url"`
}

// Briefing builds a spoken briefing over the currently unread alerts. Here
// the briefing is the whole point of the request, so a BriefingError is an
// error response, not a warning.
func (h *Handler) Briefing(c echo.Context) error {
	script, url, err := h.svc.BriefUnread(c.Request().Context())
	if err != nil {
		var be *BriefingError
		if errors.As(err, &be) {
			return echo.NewHTTPError(http.StatusBadGateway, be.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, briefingResponse{Script: script, PodcastURL: url})
}
