// Package tokens provides token counting for threads whose providers do not
// report usage: a tiktoken-backed counter for OpenAI-family models and a
// crude character-based estimator for everything else.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/threadweave/threadweave/model"
)

// Counter counts tokens in text for a given model. The boolean reports
// whether the counter supports that model; callers fall back on false.
type Counter interface {
	Count(modelName, text string) (int, bool)
}

// Tiktoken counts tokens for OpenAI-family models using tiktoken encodings.
type Tiktoken struct {
	mu    sync.Mutex
	cache map[tokenizer.Encoding]tokenizer.Codec
}

var _ Counter = (*Tiktoken)(nil)

// NewTiktoken constructs a counter with an empty codec cache.
func NewTiktoken() *Tiktoken {
	return &Tiktoken{cache: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

func (t *Tiktoken) supports(modelName string) bool {
	lower := strings.ToLower(modelName)
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "text-embedding", "text-davinci"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func (t *Tiktoken) codec(modelName string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(modelName)); err == nil {
		return codec, nil
	}
	// Unknown but OpenAI-shaped model names fall back to the current default
	// encoding.
	encoding := tokenizer.O200kBase

	t.mu.Lock()
	defer t.mu.Unlock()
	if cached, ok := t.cache[encoding]; ok {
		return cached, nil
	}
	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}
	t.cache[encoding] = codec
	return codec, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(modelName, text string) (int, bool) {
	if !t.supports(modelName) {
		return 0, false
	}
	codec, err := t.codec(modelName)
	if err != nil {
		return 0, false
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, false
	}
	return len(ids), true
}

// Estimator approximates tokens as len(text)/4, the usual rule of thumb for
// English prose. It supports every model and is the fallback of last resort.
type Estimator struct{}

var _ Counter = Estimator{}

// Count implements Counter.
func (Estimator) Count(_, text string) (int, bool) {
	n := (len(text) + 3) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n, true
}

// Chain tries counters in order, falling through on unsupported models. The
// zero Chain estimates.
type Chain struct {
	counters []Counter
}

var _ Counter = (*Chain)(nil)

// NewChain builds a chain ending with the Estimator fallback.
func NewChain(counters ...Counter) *Chain {
	return &Chain{counters: append(counters, Estimator{})}
}

// Count implements Counter.
func (c *Chain) Count(modelName, text string) (int, bool) {
	for _, counter := range c.counters {
		if n, ok := counter.Count(modelName, text); ok {
			return n, true
		}
	}
	return Estimator{}.Count(modelName, text)
}

// CountMessages estimates total tokens over a normalized request, used when a
// provider omits usage.
func CountMessages(c Counter, modelName string, req model.Request) int {
	if c == nil {
		c = Estimator{}
	}
	var total int
	count := func(text string) {
		if text == "" {
			return
		}
		n, _ := c.Count(modelName, text)
		total += n
	}
	count(req.System)
	for _, msg := range req.Messages {
		count(msg.Content)
		for _, tc := range msg.ToolCalls {
			count(tc.Name)
			count(tc.Arguments)
		}
	}
	return total
}
