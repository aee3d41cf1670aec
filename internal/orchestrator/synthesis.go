package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/lexical"
	"github.com/nidhogg/mnemo/internal/provider"
)

// RoleSynthesizer is the provider role used to merge results.
const RoleSynthesizer = "synthesizer"

const (
	replyGreeting  = "Hello! I'm a multi-agent AI system. I can help you with research, analysis, and memory tasks. How can I assist you today?"
	replyThanks    = "You're welcome! Feel free to ask me anything else."
	replyHowAreYou = "I'm functioning well! I'm ready to help with your queries. What would you like to know?"
	replyDefault   = "I'm here to help! You can ask me about AI, machine learning, neural networks, or any other technical topics. What would you like to know?"
	replyNothing   = "I apologize, but I couldn't process your query. Please try rephrasing it."
)

var (
	greetingWords  = []string{"hello", "hi", "hey", "greetings"}
	thanksWords    = []string{"thanks", "thank you"}
	howAreYouWords = []string{"how are you", "how do you do"}
)

// CannedReply answers a query no capability handled.
func CannedReply(query string) string {
	m := lexical.NewMatcher(query)
	switch {
	case m.Any(greetingWords):
		return replyGreeting
	case m.Any(thanksWords):
		return replyThanks
	case m.Any(howAreYouWords):
		return replyHowAreYou
	}
	return replyDefault
}

// AggregateConfidence averages the results' confidences (0.5 when none
// carries one), applies a 0.95 penalty when more than two capabilities
// ran and caps the outcome at 0.95. No results score 0.3.
func AggregateConfidence(results []CapabilityResult) float64 {
	if len(results) == 0 {
		return 0.3
	}
	var sum float64
	var n int
	for _, r := range results {
		if r.Confidence > 0 {
			sum += r.Confidence
			n++
		}
	}
	avg := 0.5
	if n > 0 {
		avg = sum / float64(n)
	}
	if len(results) > 2 {
		avg *= 0.95
	}
	return math.Min(0.95, avg)
}

// synthesize returns a single result verbatim and merges several, through
// the LLM when one is configured.
func (c *Coordinator) synthesize(ctx context.Context, results []CapabilityResult) string {
	switch len(results) {
	case 0:
		return replyNothing
	case 1:
		return results[0].Result
	}
	if c.llm != nil {
		summary, err := c.summarize(ctx, results)
		if err == nil {
			return summary
		}
		c.logger.Warn("llm synthesis failed, concatenating results", zap.Error(err))
	}
	return fallbackSynthesis(results)
}

func (c *Coordinator) summarize(ctx context.Context, results []CapabilityResult) (string, error) {
	var b strings.Builder
	b.WriteString("Summarize these agent results into a coherent answer:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "Agent: %s\nResult: %s\n\n", r.Agent, r.Result)
	}
	b.WriteString("\nProvide a clear, concise summary:")

	resp, err := c.llm.Route(ctx, RoleSynthesizer, &provider.ChatRequest{
		Messages:    []provider.Message{provider.System("You are a summarization expert."), provider.User(b.String())},
		Temperature: 0.5,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Content, nil
}

// fallbackSynthesis labels and concatenates each non-empty result.
func fallbackSynthesis(results []CapabilityResult) string {
	var parts []string
	for _, r := range results {
		if r.Result == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("**%s**:\n%s\n", r.Agent, r.Result))
	}
	return strings.Join(parts, "\n")
}
