package matching

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialsense/trialsense/internal/domain/trial"
	"github.com/trialsense/trialsense/internal/platform/ai"
	"github.com/trialsense/trialsense/internal/platform/auth"
	"github.com/trialsense/trialsense/internal/platform/middleware"
	"github.com/trialsense/trialsense/internal/platform/speech"
)

// Transcriber converts a recorded voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// ProfileSource resolves a stored patient to a pipeline profile. The
// patient service satisfies it; declaring it here keeps the dependency
// pointing patient → matching only.
type ProfileSource interface {
	ProfileByID(ctx context.Context, id uuid.UUID) (ai.Profile, error)
}

// TrialFinder resolves NCT ids for the standalone evaluate operation,
// falling back to the registry on a local miss.
type TrialFinder interface {
	GetTrial(ctx context.Context, nctID string) (*trial.Trial, error)
}

type Handler struct {
	svc         *Service
	runner      *Runner
	transcriber Transcriber
	profiles    ProfileSource
	trials      TrialFinder
}

func NewHandler(svc *Service, runner *Runner, transcriber Transcriber, profiles ProfileSource, trials TrialFinder) *Handler {
	return &Handler{
		svc:         svc,
		runner:      runner,
		transcriber: transcriber,
		profiles:    profiles,
		trials:      trials,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	g.POST("/extract", h.Extract)
	g.POST("/transcribe", h.Transcribe)
	g.POST("/listener/analyze", h.AnalyzeTranscript)
	g.POST("/match", h.Match)
	g.POST("/match/runs", h.StartRun)
	g.GET("/match/runs/:id", h.GetRun)
	g.POST("/match/runs/:id/retry", h.RetryRun)
	g.POST("/evaluate", h.Evaluate)
}

// matchRequest is the shared input shape for extract, match, and run
// creation. Inline input (text or image) and patient_id are mutually
// exclusive.
type matchRequest struct {
	Text        string     `json:"text"`
	ImageBase64 string     `json:"image_base64"`
	MimeType    string     `json:"mime_type"`
	PatientID   *uuid.UUID `json:"patient_id"`
	RankByFit   bool       `json:"rank_by_fit"`
	Limit       int        `json:"limit"`
}

func (req *matchRequest) input() (Input, error) {
	// Pasted chart text often arrives with stray control characters from
	// EHR copy-paste; scrub them before the pipeline sees the note.
	in := Input{Text: middleware.SanitizeString(req.Text), MimeType: req.MimeType}
	if req.ImageBase64 != "" {
		img, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return Input{}, fmt.Errorf("image_base64 is not valid base64")
		}
		in.Image = img
	}
	return in, nil
}

func (req *matchRequest) inlineInput() bool {
	return strings.TrimSpace(req.Text) != "" || req.ImageBase64 != ""
}

func (h *Handler) Extract(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in, err := req.input()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	prof, err := h.svc.Extract(c.Request().Context(), in)
	if err != nil {
		return pipelineHTTPError(err)
	}
	return c.JSON(http.StatusOK, prof)
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (h *Handler) Transcribe(c echo.Context) error {
	file, err := c.FormFile("audio")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'audio' is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	audio, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	text, err := h.transcriber.Transcribe(c.Request().Context(), audio, file.Filename)
	if err != nil {
		if errors.Is(err, speech.ErrAudioTooShort) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, transcribeResponse{Text: text})
}

type listenerRequest struct {
	Transcript  string                     `json:"transcript"`
	Accumulated *ai.AccumulatedPatientInfo `json:"accumulated_context"`
}

func (h *Handler) AnalyzeTranscript(c echo.Context) error {
	var req listenerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	transcript := middleware.SanitizeString(req.Transcript)
	if transcript == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "transcript is required")
	}
	res, err := h.svc.AnalyzeTranscript(c.Request().Context(), transcript, req.Accumulated)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Match(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	if req.PatientID != nil {
		if req.inlineInput() {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id and inline input are mutually exclusive")
		}
		prof, err := h.profiles.ProfileByID(ctx, *req.PatientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		matches, err := h.svc.MatchProfile(ctx, prof, req.Limit, req.RankByFit)
		if err != nil {
			return pipelineHTTPError(err)
		}
		return c.JSON(http.StatusOK, Result{Profile: &prof, Matches: matches})
	}

	in, err := req.input()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Match(ctx, in, req.Limit, req.RankByFit)
	if err != nil {
		return pipelineHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type runAccepted struct {
	RunID uuid.UUID `json:"run_id"`
	State State     `json:"state"`
}

func (h *Handler) StartRun(c echo.Context) error {
	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var run *Run
	if req.PatientID != nil {
		if req.inlineInput() {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id and inline input are mutually exclusive")
		}
		prof, err := h.profiles.ProfileByID(c.Request().Context(), *req.PatientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		run = h.runner.StartFromProfile(prof, req.Limit, req.RankByFit)
	} else {
		in, err := req.input()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		run, err = h.runner.Start(in, req.Limit, req.RankByFit)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusAccepted, runAccepted{RunID: run.ID, State: run.State})
}

func (h *Handler) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	run, err := h.runner.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) RetryRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	run, err := h.runner.RetryStage(id)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusAccepted, runAccepted{RunID: run.ID, State: run.State})
}

type evaluateRequest struct {
	Profile   *ai.Profile   `json:"profile"`
	NCTIDs    []string      `json:"nct_ids"`
	Trials    []trial.Trial `json:"trials"`
	RankByFit bool          `json:"rank_by_fit"`
}

type evaluateResponse struct {
	Matches []*Match `json:"matches"`
}

// Evaluate runs stage three alone: a supplied profile against trials given
// inline or by NCT id. Ids resolve through the local store first, then the
// registry.
func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Profile == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "profile is required")
	}
	if len(req.Trials) == 0 && len(req.NCTIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "nct_ids or trials required")
	}
	ctx := c.Request().Context()

	candidates := req.Trials
	for _, nctID := range req.NCTIDs {
		t, err := h.trials.GetTrial(ctx, nctID)
		if err != nil {
			if errors.Is(err, trial.ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("trial %s not found", nctID))
			}
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		candidates = append(candidates, *t)
	}

	matches, err := h.svc.Evaluate(ctx, *req.Profile, candidates, req.RankByFit)
	if err != nil {
		return pipelineHTTPError(err)
	}
	return c.JSON(http.StatusOK, evaluateResponse{Matches: matches})
}

// pipelineHTTPError maps stage failures to 502 Bad Gateway (an upstream
// collaborator broke, not the caller) and anything else to 400.
func pipelineHTTPError(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return echo.NewHTTPError(http.StatusBadGateway, se.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
