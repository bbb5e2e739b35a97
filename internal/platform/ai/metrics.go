package ai

import "context"

// RequestMetrics counts model calls by operation and outcome. Satisfied by
// the telemetry provider.
type RequestMetrics interface {
	AIRequestCounter(operation, outcome string)
}

// InstrumentedClient decorates a Client with per-call counting. Structured
// calls are labeled by their schema name ("patient_profile",
// "trial_evaluations", ...), plain text calls as "text". Retries inside the
// wrapped client count as one call.
type InstrumentedClient struct {
	inner   Client
	metrics RequestMetrics
}

func NewInstrumentedClient(inner Client, metrics RequestMetrics) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, metrics: metrics}
}

func (c *InstrumentedClient) count(operation string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.AIRequestCounter(operation, outcome)
}

func (c *InstrumentedClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	obj, err := c.inner.GenerateJSON(ctx, system, user, schemaName, schema)
	c.count(schemaName, err)
	return obj, err
}

func (c *InstrumentedClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	text, err := c.inner.GenerateText(ctx, system, user)
	c.count("text", err)
	return text, err
}

func (c *InstrumentedClient) GenerateTextWithImages(ctx context.Context, system, user string, images []ImageInput) (string, error) {
	text, err := c.inner.GenerateTextWithImages(ctx, system, user, images)
	c.count("text", err)
	return text, err
}

func (c *InstrumentedClient) GenerateJSONWithImages(ctx context.Context, system, user string, images []ImageInput, schemaName string, schema map[string]any) (map[string]any, error) {
	obj, err := c.inner.GenerateJSONWithImages(ctx, system, user, images, schemaName, schema)
	c.count(schemaName, err)
	return obj, err
}
