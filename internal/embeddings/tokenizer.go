package embeddings

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer converts sentences into token-id sequences that include the
// model's special tokens. Sequences are returned unpadded.
type Tokenizer interface {
	EncodeBatch(sentences []string) ([][]int64, error)
}

// BERT special token ids used by SimpleTokenizer.
const (
	ClsTokenID int64 = 101
	SepTokenID int64 = 102

	simpleVocabStart = 1000
	simpleVocabSize  = 30000
)

// SimpleTokenizer is a whitespace tokenizer that hashes lowercased words into
// a BERT-sized id space. It needs no vocabulary file.
type SimpleTokenizer struct {
	MaxLength int
}

// NewSimpleTokenizer creates a simple tokenizer; maxLength <= 0 disables truncation.
func NewSimpleTokenizer(maxLength int) *SimpleTokenizer {
	return &SimpleTokenizer{MaxLength: maxLength}
}

// EncodeBatch tokenizes every sentence, failing the batch on the first bad one.
func (t *SimpleTokenizer) EncodeBatch(sentences []string) ([][]int64, error) {
	out := make([][]int64, len(sentences))
	for i, s := range sentences {
		ids, err := t.Encode(s)
		if err != nil {
			return nil, fmt.Errorf("sentence %d: %w", i, err)
		}
		out[i] = ids
	}
	return out, nil
}

// Encode tokenizes a single sentence as [CLS] words... [SEP].
func (t *SimpleTokenizer) Encode(s string) ([]int64, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrTokenizationFailed)
	}

	words := splitWords(s)
	ids := make([]int64, 0, len(words)+2)
	ids = append(ids, ClsTokenID)
	for _, w := range words {
		ids = append(ids, wordID(w))
	}
	if t.MaxLength > 2 && len(ids)+1 > t.MaxLength {
		ids = ids[:t.MaxLength-1]
	}
	ids = append(ids, SepTokenID)
	return ids, nil
}

// splitWords lowercases and splits on whitespace, emitting punctuation as
// separate words the way BERT pre-tokenization does.
func splitWords(s string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}

func wordID(w string) int64 {
	h := fnv.New32a()
	h.Write([]byte(w))
	return simpleVocabStart + int64(h.Sum32()%(simpleVocabSize-simpleVocabStart))
}
