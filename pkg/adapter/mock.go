package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/zen-systems/knowgate/pkg/artifact"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	responses       map[string]string
	defaultResponse string
	Usage           *Usage

	// Delay, when set, is applied per call and respects context deadlines.
	Delay time.Duration

	// Fail, when set, decides per prompt whether the call errors.
	Fail func(prompt string) error
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined responses.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	if defaultResponse == "" {
		defaultResponse = "mock response:"
	}
	return &MockAdapter{responses: responses, defaultResponse: defaultResponse}
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return "mock"
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Generate returns a deterministic response for the prompt.
func (a *MockAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	if model == "" {
		model = "mock-1"
	}
	if a.Delay > 0 {
		timer := time.NewTimer(a.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if a.Fail != nil {
		if err := a.Fail(prompt); err != nil {
			return nil, err
		}
	}
	if response, ok := a.responses[prompt]; ok {
		art := artifact.New(response, a.Name(), model, prompt)
		return &Response{Artifact: art, Usage: a.Usage}, nil
	}
	content := fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	art := artifact.New(content, a.Name(), model, prompt)
	return &Response{Artifact: art, Usage: a.Usage}, nil
}
