package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/lexical"
	"github.com/nidhogg/mnemo/internal/retrieval"
)

// recallVocabulary always triggers a memory lookup, whatever the plan says.
var recallVocabulary = []string{
	"earlier", "before", "discuss", "discussed", "remember", "learned", "we talked",
	"previous", "previously", "past",
}

var (
	topicMarkers = lexical.Set("about", "on", "regarding", "concerning")
	topicStop    = lexical.Set("what", "did", "do", "we", "you", "i", "me", "us", "our",
		"learn", "learned", "earlier", "before", "discuss", "discussed", "remember",
		"talked", "talk", "previous", "previously", "past", "again",
		"the", "a", "an", "is", "are", "was", "were", "tell")
)

const (
	maxTopicWords    = 3
	historyScanLimit = 20
)

// wantsRecall reports whether query uses recall vocabulary.
func wantsRecall(query string) bool {
	return lexical.NewMatcher(query).Any(recallVocabulary)
}

// ExtractTopic pulls the subject out of a recall question. Words after the
// last "about", "on", "regarding" or "concerning" are preferred; otherwise
// words longer than three letters are kept. Recall and stop words are
// dropped and at most three words survive.
func ExtractTopic(query string) string {
	toks := lexical.Tokens(lexical.Normalize(query))
	start := 0
	for i, t := range toks {
		if topicMarkers[t] && i+1 < len(toks) {
			start = i + 1
		}
	}
	var words []string
	for _, t := range toks[start:] {
		if topicStop[t] || topicMarkers[t] || (start == 0 && len(t) <= 3) {
			continue
		}
		words = append(words, t)
		if len(words) == maxTopicWords {
			break
		}
	}
	return strings.Join(words, " ")
}

// recallWords are the words a history scan matches: the extracted topic,
// or the significant words of the query when there is none.
func recallWords(query string) []string {
	if words := strings.Fields(ExtractTopic(query)); len(words) > 0 {
		return words
	}
	return lexical.NewMatcher(query).Significant(3, topicStop)
}

// recall runs the memory lookup chain. Each step only runs when the ones
// before it found nothing: hybrid retrieval on the topic, a topic search,
// hybrid retrieval on the raw query, then a scan of recent turns.
func (c *Coordinator) recall(ctx context.Context, query string) (*retrieval.Retrieval, error) {
	topic := ExtractTopic(query)
	subject := topic
	if subject == "" {
		subject = query
	}

	res, err := c.retriever.Retrieve(ctx, subject, retrieval.ModeHybrid, c.topK)
	if err != nil {
		return nil, err
	}
	if !res.Empty() {
		return res, nil
	}
	if topic != "" {
		if res = c.retriever.SearchTopic(topic, c.topK); !res.Empty() {
			return res, nil
		}
	}
	if subject != query {
		res, err = c.retriever.Retrieve(ctx, query, retrieval.ModeHybrid, c.topK)
		if err != nil {
			return nil, err
		}
		if !res.Empty() {
			return res, nil
		}
	}

	res = c.retriever.ScanHistory(recallWords(query), historyScanLimit)
	c.logger.Debug("memory lookup",
		zap.String("topic", topic),
		zap.String("mode", string(res.Mode)),
		zap.Int("entries", len(res.Entries)))
	return res, nil
}
