package adapter

import "context"

// Adapter defines the interface for text-generation providers. Every
// execution mode in the engine goes through this single operation; callers
// control latency by attaching a deadline to ctx.
type Adapter interface {
	// Generate sends a prompt to the model and returns the response.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}
