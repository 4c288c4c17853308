//go:build onnx
// +build onnx

package embeddings

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/daulet/tokenizers"
)

// HFTokenizer wraps a HuggingFace tokenizer.json.
type HFTokenizer struct {
	tk        *tokenizers.Tokenizer
	maxLength int
}

// NewHFTokenizer loads tokenizer.json from path. maxLength > 0 truncates
// sequences (special tokens included) after encoding.
func NewHFTokenizer(path string, maxLength int) (*HFTokenizer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load tokenizer: %v", ErrModelNotLoaded, err)
	}
	return &HFTokenizer{tk: tk, maxLength: maxLength}, nil
}

// EncodeBatch encodes each sentence with special tokens. Padding configured
// inside tokenizer.json is stripped; the pipeline pads batches itself.
func (t *HFTokenizer) EncodeBatch(sentences []string) ([][]int64, error) {
	out := make([][]int64, len(sentences))
	for i, s := range sentences {
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: sentence %d is not valid UTF-8", ErrTokenizationFailed, i)
		}

		enc := t.tk.EncodeWithOptions(s, true, tokenizers.WithReturnAttentionMask())
		ids := make([]int64, 0, len(enc.IDs))
		for j, id := range enc.IDs {
			if j < len(enc.AttentionMask) && enc.AttentionMask[j] == 0 {
				break
			}
			ids = append(ids, int64(id))
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: sentence %d produced no tokens", ErrTokenizationFailed, i)
		}
		if t.maxLength > 1 && len(ids) > t.maxLength {
			last := ids[len(ids)-1]
			ids = append(ids[:t.maxLength-1], last)
		}
		out[i] = ids
	}
	return out, nil
}

// Close releases the native tokenizer.
func (t *HFTokenizer) Close() error {
	return t.tk.Close()
}
