// Package external defines the typed seams to every collaborator
// SPEC_FULL.md §1 places out of scope: the LLM that actually reasons, the
// git platform, the CI runner, and the embedding provider. The core never
// talks to these directly — it depends on these interfaces, and a real
// implementation is wired in by cmd/ at startup. LLMProvider is kept
// close to the teacher's agents/provider/provider.go Provider interface;
// the other three are new, grounded on the same "thin interface over an
// out-of-process system" shape.
package external

import "context"

// TokenUsage mirrors the teacher's agents/provider.TokenUsage shape.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// MessageRequest is a single turn sent to an LLM collaborator.
type MessageRequest struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Message is one turn of a conversation with an LLM collaborator.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// MessageResponse is the LLM collaborator's reply.
type MessageResponse struct {
	Content    string
	Usage      TokenUsage
	StopReason string
}

// LLMProvider is the seam to the out-of-process model that actually
// drafts an agent's response; adapted near-verbatim from the teacher's
// agents/provider.Provider interface (DESIGN.md: kept because the
// request/response shape generalizes unchanged from ticket-run prompts to
// task-execution prompts).
type LLMProvider interface {
	SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
	ModelName() string
}

// GitPlatform is the seam to the hosting git forge (branch/PR operations),
// explicitly out of scope per §1 beyond this interface shape.
type GitPlatform interface {
	CreateBranch(ctx context.Context, repositoryID, name, fromRef string) error
	OpenPullRequest(ctx context.Context, repositoryID, branch, title, body string) (string, error)
}

// CIRunner is the seam to the external CI system backing
// GET /api/ci/runs/:ticketId and POST /api/ci/run (§6.2).
type CIRunner interface {
	TriggerRun(ctx context.Context, repositoryID, ref string) (runID string, err error)
	GetRun(ctx context.Context, runID string) (status string, err error)
}

// EmbeddingProvider is the seam to the embedding model backing C10;
// internal/rag.HashEmbedder is the dependency-free fallback used when
// none is configured.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
