// Package semantic calls a language model to judge whether two market
// titles describe the same real-world event. It is the escalation path for
// pairs the lexical scorer could not settle; callers treat every error as
// grounds to defer the pair, never to merge it.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/davonroy/oddsmesh/internal/config"
	"github.com/davonroy/oddsmesh/internal/domain"
)

const systemPrompt = `You compare two betting market titles from different venues and decide whether they refer to the same real-world event with the same resolution criteria.

Titles describing the same match, election, fight or outcome phrased differently are the same event. Titles about different teams, different rounds, different dates or different resolution rules are not. "Illinois" and "Illinois State" are different teams. A market on winning a tournament is not the same event as a market on winning one round of it.

Answer with a single JSON object and nothing else:
{"same_event": true|false, "confidence": 0.0-1.0, "reasoning": "one short sentence"}`

// Oracle implements domain.SemanticOracle on the Anthropic Messages API.
type Oracle struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

// New creates an Oracle from the given config. The request deadline is the
// caller's context deadline; the client itself sets no timeout.
func New(cfg config.OracleConfig, logger *slog.Logger) *Oracle {
	return &Oracle{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: 512,
		logger:    logger.With(slog.String("component", "oracle")),
	}
}

// Compare asks the model whether titles a and b name the same event.
func (o *Oracle) Compare(ctx context.Context, a, b string) (domain.OracleVerdict, error) {
	user := fmt.Sprintf("Venue A title: %q\nVenue B title: %q", a, b)

	msg, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return domain.OracleVerdict{}, fmt.Errorf("semantic: compare: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	verdict, err := parseVerdict(sb.String())
	if err != nil {
		o.logger.Warn("unparseable oracle reply", slog.String("reply", sb.String()), slog.Any("error", err))
		return domain.OracleVerdict{}, fmt.Errorf("semantic: %w", err)
	}

	o.logger.Debug("oracle verdict",
		slog.Bool("same_event", verdict.SameEvent),
		slog.Float64("confidence", verdict.Confidence))
	return verdict, nil
}

// parseVerdict extracts the JSON object from the model reply. Replies are
// sometimes wrapped in prose or markdown fences, so it parses the outermost
// brace pair rather than the raw string.
func parseVerdict(reply string) (domain.OracleVerdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return domain.OracleVerdict{}, fmt.Errorf("no JSON object in reply: %w", domain.ErrOracleResponse)
	}

	var raw struct {
		SameEvent  bool    `json:"same_event"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return domain.OracleVerdict{}, fmt.Errorf("decode verdict: %v: %w", err, domain.ErrOracleResponse)
	}

	conf := raw.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return domain.OracleVerdict{
		SameEvent:  raw.SameEvent,
		Confidence: conf,
		Reasoning:  raw.Reasoning,
	}, nil
}

var _ domain.SemanticOracle = (*Oracle)(nil)
