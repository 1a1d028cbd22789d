// Package summarize produces extractive summaries with LexRank: sentences are
// ranked by eigenvector centrality in a cosine-similarity graph and the best
// ones are returned verbatim.
package summarize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// ErrUnsupportedLanguage is returned by NewEngine for languages without a tokenizer.
var ErrUnsupportedLanguage = errors.New("unsupported summary language")

// Order controls how selected sentences are arranged in the summary.
type Order string

const (
	// OrderDocument emits selected sentences in transcript order.
	OrderDocument Order = "document"
	// OrderRank emits selected sentences from most to least central.
	OrderRank Order = "rank"
)

const (
	DefaultThreshold = 0.1
	DefaultEpsilon   = 0.1
	maxIterations    = 10000
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Language  string
	Order     Order
	Threshold float64
	Epsilon   float64
}

type sentenceTokenizer interface {
	Tokenize(text string) []*sentences.Sentence
}

// Engine is safe for concurrent use; the tokenizer is read-only after load.
type Engine struct {
	tokenizer sentenceTokenizer
	order     Order
	threshold float64
	epsilon   float64
}

// NewEngine loads the sentence tokenizer for opts.Language.
func NewEngine(opts Options) (*Engine, error) {
	lang := strings.ToLower(strings.TrimSpace(opts.Language))
	if lang != "" && lang != "english" && lang != "en" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, opts.Language)
	}
	tok, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("load sentence tokenizer: %w", err)
	}

	e := &Engine{
		tokenizer: tok,
		order:     opts.Order,
		threshold: opts.Threshold,
		epsilon:   opts.Epsilon,
	}
	switch e.order {
	case "":
		e.order = OrderDocument
	case OrderDocument, OrderRank:
	default:
		return nil, fmt.Errorf("unknown summary order %q", opts.Order)
	}
	if e.threshold <= 0 {
		e.threshold = DefaultThreshold
	}
	if e.epsilon <= 0 {
		e.epsilon = DefaultEpsilon
	}
	return e, nil
}

// Sentences splits text into trimmed, non-empty sentences.
func (e *Engine) Sentences(text string) []string {
	var out []string
	for _, s := range e.tokenizer.Tokenize(text) {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Summarize returns up to count sentences of text joined by single spaces.
// Fewer sentences than count yields all of them; blank text yields "".
func (e *Engine) Summarize(text string, count int) (string, error) {
	if count < 1 {
		return "", fmt.Errorf("sentence count must be positive, got %d", count)
	}
	sents := e.Sentences(text)
	if len(sents) == 0 {
		return "", nil
	}
	picked := e.Select(sents, count)
	out := make([]string, len(picked))
	for i, idx := range picked {
		out[i] = sents[idx]
	}
	return strings.Join(out, " "), nil
}

// Select returns the indices of the count best sentences in output order.
func (e *Engine) Select(sents []string, count int) []int {
	ratings := Rate(sents, e.threshold, e.epsilon)

	idx := make([]int, len(sents))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return ratings[idx[a]] > ratings[idx[b]]
	})
	if count < len(idx) {
		idx = idx[:count]
	}
	if e.order == OrderDocument {
		sort.Ints(idx)
	}
	return idx
}
