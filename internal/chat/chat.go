// Package chat answers questions grounded in the knowledge base. It
// retrieves the nearest chunks for the active query, folds them into the
// system prompt, and generates a reply with Gemini.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/cymbiose/kb/internal/log"
	"github.com/cymbiose/kb/internal/retrieval"
)

// Message is one turn of a conversation. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the assistant's answer plus the grounding trace.
type Reply struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	APILog  APILog `json:"api_log"`
}

// APILog records which chunks grounded the reply and the model used.
type APILog struct {
	ChunksUsed []uuid.UUID `json:"chunks_used"`
	ModelUsed  string      `json:"model_used"`
}

// Searcher is the retrieval dependency.
type Searcher interface {
	Search(ctx context.Context, query string) ([]retrieval.Result, error)
}

const systemPromptTemplate = `You are an expert clinical AI assistant for "Cymbiose".
You have access to a knowledge base of clinical documents, research, and guidelines.

Use the provided Context to answer the user's question.
If the answer is not in the context, say "I don't have enough information in my knowledge base to answer that confidently," unless it is a general question where your training is sufficient (but prioritize the context).

Context:
%s`

// Orchestrator runs the retrieve-then-generate loop.
//
// Orchestrator is safe for concurrent use by multiple goroutines.
type Orchestrator struct {
	searcher  Searcher
	modelName string
	logger    log.Logger

	// generate is swapped out in tests.
	generate func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)
}

// New creates an Orchestrator bound to a Genkit instance and model.
func New(g *genkit.Genkit, searcher Searcher, modelName string, logger log.Logger) (*Orchestrator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		searcher:  searcher,
		modelName: modelName,
		logger:    logger,
		generate: func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
			return genkit.Generate(ctx, g, opts...)
		},
	}, nil
}

// Respond answers the last message in the conversation, grounded in the
// chunks nearest to it. Earlier messages become generation history; a
// leading assistant greeting is dropped because the model requires the
// history to open with a user turn.
func (o *Orchestrator) Respond(ctx context.Context, messages []Message) (*Reply, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages are required")
	}
	query := messages[len(messages)-1].Content
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("last message is empty")
	}

	results, err := o.searcher.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	history := messages[:len(messages)-1]
	if len(history) > 0 && history[0].Role == "assistant" {
		history = history[1:]
	}

	resp, err := o.generate(ctx,
		ai.WithModelName(o.modelName),
		ai.WithSystem(buildSystemPrompt(results)),
		ai.WithMessages(toModelMessages(history)...),
		ai.WithPrompt(query),
	)
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}

	chunkIDs := make([]uuid.UUID, 0, len(results))
	for _, res := range results {
		chunkIDs = append(chunkIDs, res.ChunkID)
	}
	o.logger.Debug("chat reply generated",
		"chunks_used", len(chunkIDs), "model", o.modelName)

	return &Reply{
		Role:    "assistant",
		Content: resp.Text(),
		APILog:  APILog{ChunksUsed: chunkIDs, ModelUsed: o.modelName},
	}, nil
}

func buildSystemPrompt(results []retrieval.Result) string {
	blocks := make([]string, 0, len(results))
	for _, res := range results {
		blocks = append(blocks,
			fmt.Sprintf("[Chunk from Entry %s]:\n%s", res.EntryKBID, res.Content))
	}
	return fmt.Sprintf(systemPromptTemplate, strings.Join(blocks, "\n\n"))
}

func toModelMessages(history []Message) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(history))
	for _, m := range history {
		if m.Role == "user" {
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		} else {
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		}
	}
	return msgs
}
