package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scrypster/lorekeeper/pkg/types"
)

// SummarizerConfig configures a Summarizer.
type SummarizerConfig struct {
	// Timeout bounds each summarization call, including the wait for the
	// rate limiter. Default: 20s
	Timeout time.Duration
	// RPS caps summarization calls per second. Default: 2
	RPS float64
	// MaxPromptTokens caps the events sent in one episode prompt; longer
	// episodes are summarized batch by batch. Default: 3000
	MaxPromptTokens int
	Logger          *zap.Logger
}

// Summarizer produces episode recaps and rolling story summaries with a
// TextGenerator. Calls are rate limited and time bounded; callers own the
// fallback when an error comes back.
type Summarizer struct {
	gen       TextGenerator
	limiter   *rate.Limiter
	timeout   time.Duration
	maxTokens int
	logger    *zap.Logger
}

// NewSummarizer wraps gen.
func NewSummarizer(gen TextGenerator, cfg SummarizerConfig) *Summarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Summarizer{
		gen:       gen,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		timeout:   cfg.Timeout,
		maxTokens: cfg.MaxPromptTokens,
		logger:    cfg.Logger,
	}
}

// SummarizeEvents returns a short recap of events. Episodes too long for
// one prompt are recapped batch by batch and the recaps joined in order;
// any failed batch fails the whole call.
func (s *Summarizer) SummarizeEvents(ctx context.Context, events []types.MemoryEvent) (string, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("summarize events: no events")
	}
	chunks := ChunkEvents(events, s.maxTokens)
	recaps := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		recap, err := s.run(ctx, "episode", EpisodeSummaryPrompt(chunk))
		if err != nil {
			if len(chunks) > 1 {
				return "", fmt.Errorf("batch %d of %d: %w", i+1, len(chunks), err)
			}
			return "", err
		}
		recaps = append(recaps, recap)
	}
	return strings.Join(recaps, " "), nil
}

// MergeNarrative rewrites prior to include development in at most maxWords.
func (s *Summarizer) MergeNarrative(ctx context.Context, prior, development string, maxWords int) (string, error) {
	return s.run(ctx, "narrative", NarrativeMergePrompt(prior, development, maxWords))
}

func (s *Summarizer) run(ctx context.Context, kind, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("summarize %s: rate limit: %w", kind, err)
	}

	start := time.Now()
	raw, err := s.gen.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", kind, err)
	}
	summary, err := ParseSummaryResponse(raw)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", kind, err)
	}

	s.logger.Debug("summary generated",
		zap.String("kind", kind),
		zap.String("model", s.gen.GetModel()),
		zap.Duration("duration", time.Since(start)))
	return summary, nil
}
