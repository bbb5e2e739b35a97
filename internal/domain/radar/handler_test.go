package radar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *radarFixture, *echo.Echo) {
	f := newTestService()
	return NewHandler(f.svc), f, echo.New()
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_Scan(t *testing.T) {
	h, f, e := newTestHandler()
	f.targets.treatments = []string{"Pembrolizumab"}
	f.scanner.findings["Pembrolizumab"] = findingFor("Pembrolizumab", "Hepatotoxicity signal")

	req := httptest.NewRequest(http.MethodPost, "/radar/scan", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Scan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var result ScanAndBriefResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.NewAlerts) != 1 {
		t.Errorf("expected 1 new alert, got %d", len(result.NewAlerts))
	}
	if result.PodcastURL == "" {
		t.Error("expected a podcast url")
	}
}

func TestHandler_Scan_TargetFailure(t *testing.T) {
	h, f, e := newTestHandler()
	f.targets.err = errors.New("db down")

	req := httptest.NewRequest(http.MethodPost, "/radar/scan", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Scan(c)
	if code := httpCode(t, err); code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", code)
	}
}

func TestHandler_ListAlerts(t *testing.T) {
	h, f, e := newTestHandler()
	a1, _ := AlertFromFinding(*findingFor("Pembrolizumab", "Signal one"))
	f.repo.Insert(context.Background(), a1)

	req := httptest.NewRequest(http.MethodGet, "/radar/alerts?limit=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListAlerts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []*Alert `json:"data"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Errorf("unexpected envelope: %+v", resp)
	}
}

func TestHandler_MarkRead(t *testing.T) {
	h, f, e := newTestHandler()
	a1, _ := AlertFromFinding(*findingFor("Pembrolizumab", "Signal one"))
	f.repo.Insert(context.Background(), a1)

	body := `{"ids":["` + a1.ID.String() + `","` + uuid.New().String() + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/radar/alerts/read", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.MarkRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp markReadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Updated != 1 {
		t.Errorf("expected 1 update, got %d", resp.Updated)
	}
}

func TestHandler_MarkRead_EmptyIDs(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/radar/alerts/read", strings.NewReader(`{"ids":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.MarkRead(c)
	if code := httpCode(t, err); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListTargets(t *testing.T) {
	h, f, e := newTestHandler()
	f.targets.treatments = []string{"Osimertinib", "Pembrolizumab"}

	req := httptest.NewRequest(http.MethodGet, "/radar/targets", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListTargets(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp targetsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Targets) != 2 {
		t.Errorf("unexpected targets: %v", resp.Targets)
	}
}

func TestHandler_Briefing(t *testing.T) {
	h, f, e := newTestHandler()
	a1, _ := AlertFromFinding(*findingFor("Pembrolizumab", "Signal one"))
	f.repo.Insert(context.Background(), a1)

	req := httptest.NewRequest(http.MethodPost, "/radar/briefing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Briefing(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp briefingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Script == "" || resp.PodcastURL == "" {
		t.Errorf("expected script and podcast url, got %+v", resp)
	}
}

func TestHandler_Briefing_Failure(t *testing.T) {
	h, f, e := newTestHandler()
	f.composer.err = errors.New("model down")

	req := httptest.NewRequest(http.MethodPost, "/radar/briefing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Briefing(c)
	if code := httpCode(t, err); code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", code)
	}
}
