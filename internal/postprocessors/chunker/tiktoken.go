package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var loaderOnce sync.Once

// Tiktoken is a BPE tokenizer backed by an embedded encoding table.
type Tiktoken struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (for example cl100k_base) without
// network access.
func NewTiktoken(name string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", name, err)
	}
	return &Tiktoken{name: name, enc: enc}, nil
}

// Name returns the encoding name.
func (t *Tiktoken) Name() string {
	return t.name
}

// Encode returns the token ids for text. Special tokens are treated as text.
func (t *Tiktoken) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode returns the text for tokens.
func (t *Tiktoken) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
