package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

const answerSystem = `You are a precise document assistant.
Answer clearly and to the point, using only the given context.
If the context doesn't contain the information needed to answer, say 'No information for this request.'
Don't add introductions like 'Of course!' or 'Here's the answer:'`

const paraphraseSystem = `You rewrite search questions.
Return each rewrite on its own line, with no numbering and no commentary.`

var listMarkerRe = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)

// Agent builds prompts for answer generation and query expansion.
type Agent struct {
	llm    LLM
	logger *slog.Logger

	// countTokens is informational only; a failure is logged and ignored.
	countTokens func(string) (int, error)
}

func New(llm LLM, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		llm:         llm,
		logger:      logger,
		countTokens: CountTokens,
	}
}

// Generate answers question from the assembled context.
func (a *Agent) Generate(ctx context.Context, contextText, question string) (string, error) {
	start := time.Now()

	prompt := fmt.Sprintf(`Answer the question based on the given context.
Context:
%s
Question:
%s
Answer:`, contextText, question)

	if n, err := a.countTokens(answerSystem + prompt); err == nil {
		a.logger.Debug("[AGENT] prompt size", "tokens", n, "runes", len([]rune(prompt)))
	} else {
		a.logger.Debug("[AGENT] token count unavailable", "err", err)
	}

	answer, err := a.llm.Complete(ctx, answerSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	a.logger.Info("[AGENT] answer generated", "took", time.Since(start))
	return answer, nil
}

// Paraphrase asks for up to n alternative phrasings of question. The result
// never contains the question itself or duplicates.
func (a *Agent) Paraphrase(ctx context.Context, question string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf("Rewrite the following question in %d different ways that would find the same information in a document.\nQuestion: %s", n, question)

	out, err := a.llm.Complete(ctx, paraphraseSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("paraphrase: %w", err)
	}
	return parseParaphrases(out, question, n), nil
}

func parseParaphrases(out, question string, n int) []string {
	seen := map[string]bool{normalize(question): true}
	var result []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(listMarkerRe.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"`)
		key := normalize(line)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, line)
		if len(result) == n {
			break
		}
	}
	return result
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CountTokens estimates the prompt size with the cl100k encoding.
func CountTokens(text string) (int, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
