package ai

import (
	"context"
	"errors"
	"testing"
)

type countingMetrics struct {
	counts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (m *countingMetrics) AIRequestCounter(operation, outcome string) {
	m.counts[operation+"|"+outcome]++
}

func TestInstrumentedClient_CountsBySchemaName(t *testing.T) {
	fake := &fakeClient{
		generateJSON: func(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	metrics := newCountingMetrics()
	c := NewInstrumentedClient(fake, metrics)

	if _, err := c.GenerateJSON(context.Background(), "sys", "user", "patient_profile", map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GenerateJSON(context.Background(), "sys", "user", "radar_finding", map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if metrics.counts["patient_profile|ok"] != 1 {
		t.Errorf("unexpected counts: %v", metrics.counts)
	}
	if metrics.counts["radar_finding|ok"] != 1 {
		t.Errorf("unexpected counts: %v", metrics.counts)
	}
}

func TestInstrumentedClient_CountsErrors(t *testing.T) {
	fake := &fakeClient{
		generateJSON: func(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("rate limited")
		},
		generateText: func(_ context.Context, _, _ string) (string, error) {
			return "script", nil
		},
	}
	metrics := newCountingMetrics()
	c := NewInstrumentedClient(fake, metrics)

	if _, err := c.GenerateJSON(context.Background(), "sys", "user", "trial_evaluations", map[string]any{}); err == nil {
		t.Fatal("expected error to pass through")
	}
	if _, err := c.GenerateText(context.Background(), "sys", "user"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if metrics.counts["trial_evaluations|error"] != 1 {
		t.Errorf("unexpected counts: %v", metrics.counts)
	}
	if metrics.counts["text|ok"] != 1 {
		t.Errorf("unexpected counts: %v", metrics.counts)
	}
}

func TestInstrumentedClient_NilMetrics(t *testing.T) {
	fake := &fakeClient{
		generateJSONWithImages: func(_ context.Context, _, _ string, _ []ImageInput, _ string, _ map[string]any) (map[string]any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	c := NewInstrumentedClient(fake, nil)

	if _, err := c.GenerateJSONWithImages(context.Background(), "sys", "user",
		[]ImageInput{{ImageURL: "data:image/png;base64,AAAA"}}, "patient_profile", map[string]any{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
