package trial

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

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
	// Read endpoints – admin, physician, nurse
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	readGroup.GET("/trials", h.ListTrials)
	readGroup.GET("/trials/search", h.SearchTrials)
	readGroup.GET("/trials/:nctID", h.GetTrial)
}

type searchResponse struct {
	Trials []Trial `json:"trials"`
}

type trialResponse struct {
	Trial    *Trial `json:"trial"`
	StudyURL string `json:"study_url"`
}

// SearchTrials proxies a registry search. Results come back in the
// registry's order, already persisted locally.
func (h *Handler) SearchTrials(c echo.Context) error {
	q := SearchQuery{
		Condition: c.QueryParam("condition"),
		Term:      c.QueryParam("term"),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		q.Limit = n
	}
	if strings.TrimSpace(q.Condition) == "" && strings.TrimSpace(q.Term) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "condition or term is required")
	}

	studies, err := h.svc.SearchTrials(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if studies == nil {
		studies = []Trial{}
	}
	return c.JSON(http.StatusOK, searchResponse{Trials: studies})
}

func (h *Handler) GetTrial(c echo.Context) error {
	t, err := h.svc.GetTrial(c.Request().Context(), c.Param("nctID"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "trial not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, trialResponse{Trial: t, StudyURL: StudyURL(t.NCTID)})
}

func (h *Handler) ListTrials(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListStored(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
