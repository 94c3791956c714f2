package engine

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used when none is specified.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts tokens with a lazily initialized tiktoken encoder.
// When the encoder cannot be initialized (offline BPE data, unknown encoding)
// it falls back to a rune-based estimate rather than failing the run.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the given tiktoken encoding.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TokenCounter{encoding: encoding}
}

// Count returns the token count of the text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens approximates BPE behavior: CJK text runs close to one token
// per rune, Latin text close to one token per four runes.
func estimateTokens(text string) int {
	runes := utf8.RuneCountInString(text)
	wide := 0
	for _, r := range text {
		if r >= 0x2E80 {
			wide++
		}
	}
	narrow := runes - wide
	return wide + (narrow+3)/4
}
