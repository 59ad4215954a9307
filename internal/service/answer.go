package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/telemetry"
)

// Generator produces a completion for an assembled prompt. Backends in
// internal/llm satisfy it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelID() string
}

// GeneratorFactory builds a Generator for a generation model id.
type GeneratorFactory func(model domain.ModelID) (Generator, error)

// AnswerRetriever is the retrieval half of the answer flow. *Retriever
// satisfies it.
type AnswerRetriever interface {
	Retrieve(ctx context.Context, input RetrieveInput) ([]RetrievedChunk, *domain.KBMeta, error)
}

// ChatHistory records question/answer turns. session.History satisfies it.
type ChatHistory interface {
	Append(issueID string, msgs ...*domain.ChatMessage) error
}

// AnswerConfig tunes the generation call.
type AnswerConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	CallTimeout time.Duration
}

// DefaultAnswerConfig returns the default generation tuning.
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		MaxAttempts: 2,
		RetryBase:   time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// Validate checks generation tuning values.
func (c AnswerConfig) Validate() error {
	if c.MaxAttempts <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "answer max attempts must be greater than zero")
	}
	return nil
}

// AskInput describes one question against an issue's knowledge base.
type AskInput struct {
	IssueID  string
	Question string
	// TopK caps how many chunks are retrieved as context; zero means the
	// retriever's default.
	TopK int
	// Model selects the generation model; the zero value means the
	// configured default.
	Model domain.ModelID
	// RetrieveOnly skips generation and returns the retrieved chunks alone.
	RetrieveOnly bool
}

// Reference cites one retrieved chunk that supports an answer.
type Reference struct {
	ChunkID    string  `json:"chunk_id"`
	SourceFile string  `json:"source_file"`
	LineStart  int     `json:"line_start"`
	LineEnd    int     `json:"line_end"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// AskOutput carries the generated answer and the material it was built from.
type AskOutput struct {
	// Answer is empty in retrieve-only mode.
	Answer     string
	References []Reference
	Chunks     []RetrievedChunk
	// Model is the generation model id, empty in retrieve-only mode.
	Model string
	// Fallback is true when generation failed and Answer is the canned
	// degradation message.
	Fallback bool
}

// fallbackAnswer is returned when the generation call exhausts its retry
// budget; the retrieved excerpts still reach the caller.
const fallbackAnswer = "I could not generate an answer right now. " +
	"The most relevant log excerpts are attached as references."

// AnswerService turns a question about an issue's logs into a grounded
// answer: retrieve the most similar chunks, assemble a cited prompt, call
// the generation model, parse its reply, and record the turn.
type AnswerService struct {
	retriever    AnswerRetriever
	newGenerator GeneratorFactory
	history      ChatHistory
	cfg          AnswerConfig
	defaultModel domain.ModelID
}

// NewAnswerService creates a new AnswerService instance.
func NewAnswerService(retriever AnswerRetriever, newGenerator GeneratorFactory, cfg AnswerConfig, defaultModel domain.ModelID) (*AnswerService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if defaultModel.IsZero() {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration, "default generation model is required")
	}
	return &AnswerService{
		retriever:    retriever,
		newGenerator: newGenerator,
		cfg:          cfg,
		defaultModel: defaultModel,
	}, nil
}

// WithChatHistory records answered turns to h. Recording is best effort and
// never fails a query.
func (s *AnswerService) WithChatHistory(h ChatHistory) *AnswerService {
	s.history = h
	return s
}

// Ask answers a question using the issue's knowledge base. Retrieval and
// validation errors are returned to the caller; a generation failure after
// retries degrades to a fallback answer that still carries the retrieved
// chunks.
func (s *AnswerService) Ask(ctx context.Context, input AskInput) (*AskOutput, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "question text is required")
	}

	model := input.Model
	if model.IsZero() {
		model = s.defaultModel
	}

	ctx, span := telemetry.StartSpan(ctx, "AnswerService.Ask", telemetry.SpanAttributes{
		IssueID:   input.IssueID,
		Model:     model.String(),
		Operation: "ask",
	})
	defer span.End()

	chunks, _, err := s.retriever.Retrieve(ctx, RetrieveInput{
		IssueID: input.IssueID,
		Query:   question,
		TopK:    input.TopK,
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	if input.RetrieveOnly {
		return &AskOutput{Chunks: chunks}, nil
	}

	generator, err := s.newGenerator(model)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	out := &AskOutput{Chunks: chunks, Model: generator.ModelID()}
	raw, err := s.generateWithRetry(ctx, generator, buildAnswerPrompt(question, chunks))
	switch {
	case err == nil:
		out.Answer, out.References = parseAnswerReply(raw, chunks)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		telemetry.CaptureError(ctx, err)
		log.Printf("answer: generation failed for issue %s: %v", input.IssueID, err)
		out.Answer = fallbackAnswer
		out.References = citeAll(chunks)
		out.Fallback = true
	}

	s.recordTurn(input.IssueID, question, out)
	return out, nil
}

// buildAnswerPrompt assembles the numbered-excerpt prompt the generation
// model answers from. Chunk numbers are 1-based so the model can cite them.
func buildAnswerPrompt(question string, chunks []RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("You are a log analysis assistant. Answer the question using only the log excerpts below.\n")
	b.WriteString("If the excerpts do not contain the answer, say so.\n\n")

	if len(chunks) == 0 {
		b.WriteString("No log excerpts matched the question.\n\n")
	}
	for i, rc := range chunks {
		fmt.Fprintf(&b, "[Chunk %d] %s (lines %d-%d)\n%s\n\n",
			i+1, rc.Chunk.SourceFile, rc.Chunk.LineStart, rc.Chunk.LineEnd, rc.Chunk.Text)
	}

	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"answer": "<your answer>", "references": [<numbers of the chunks you used>]}`)
	b.WriteString("\n")
	return b.String()
}

// answerReply is the JSON shape the model is asked to produce.
type answerReply struct {
	Answer     string `json:"answer"`
	References []int  `json:"references"`
}

// parseAnswerReply decodes the model's JSON reply. A reply that is not valid
// JSON degrades gracefully: the raw text becomes the answer and every
// retrieved chunk is cited.
func parseAnswerReply(raw string, chunks []RetrievedChunk) (string, []Reference) {
	var reply answerReply
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &reply); err != nil || strings.TrimSpace(reply.Answer) == "" {
		return raw, citeAll(chunks)
	}

	refs := make([]Reference, 0, len(reply.References))
	seen := make(map[int]bool, len(reply.References))
	for _, n := range reply.References {
		if n < 1 || n > len(chunks) || seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, newReference(chunks[n-1]))
	}
	return strings.TrimSpace(reply.Answer), refs
}

// stripCodeFence unwraps a reply the model wrapped in a markdown code block.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// snippetMaxChars bounds the excerpt carried in a citation.
const snippetMaxChars = 220

// makeSnippet collapses whitespace and truncates chunk text for citations.
func makeSnippet(content string) string {
	if content == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(content), " ")
	if len(clean) <= snippetMaxChars {
		return clean
	}
	return clean[:snippetMaxChars-3] + "..."
}

func newReference(rc RetrievedChunk) Reference {
	return Reference{
		ChunkID:    rc.Chunk.ID,
		SourceFile: rc.Chunk.SourceFile,
		LineStart:  rc.Chunk.LineStart,
		LineEnd:    rc.Chunk.LineEnd,
		Snippet:    makeSnippet(rc.Chunk.Text),
		Score:      rc.Score,
	}
}

func citeAll(chunks []RetrievedChunk) []Reference {
	refs := make([]Reference, len(chunks))
	for i, rc := range chunks {
		refs[i] = newReference(rc)
	}
	return refs
}

// generateWithRetry calls the generator with the same retry discipline the
// embedding adapter uses: deterministic failures abort immediately,
// transient ones are retried with exponential backoff.
func (s *AnswerService) generateWithRetry(ctx context.Context, gen Generator, prompt string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		text, err := s.callGenerator(ctx, gen, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		telemetry.AddBreadcrumb(ctx, "llm",
			fmt.Sprintf("generation attempt %d/%d failed: %v", attempt, s.cfg.MaxAttempts, err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if !isRetryableProviderError(err) {
			return "", err
		}
		if attempt == s.cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(retryBackoff(s.cfg.RetryBase, attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("generation failed after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *AnswerService) callGenerator(ctx context.Context, gen Generator, prompt string) (string, error) {
	callCtx := ctx
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}
	return gen.Generate(callCtx, prompt)
}

// recordTurn appends the question and answer to the issue's chat history.
func (s *AnswerService) recordTurn(issueID, question string, out *AskOutput) {
	if s.history == nil {
		return
	}

	refIDs := make([]string, len(out.References))
	for i, ref := range out.References {
		refIDs[i] = ref.ChunkID
	}
	now := time.Now().UTC()

	err := s.history.Append(issueID,
		domain.NewChatMessage(domain.ChatRoleUser, question, nil, now),
		domain.NewChatMessage(domain.ChatRoleAssistant, out.Answer, refIDs, now),
	)
	if err != nil {
		log.Printf("answer: failed to record chat turn for issue %s: %v", issueID, err)
	}
}
