//go:build onnx
// +build onnx

package embeddings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

const (
	sentenceHello     = "Hello world"
	sentenceEmbedding = "I am a sentence for which I would like to get its embedding."
	sentenceDifferent = "This is a completely different text that is not similar to the other documents."
	sentenceAnother   = "This is another completely different text that is not similar to the other documents."

	iphoneA = `The iPhone's Settings hold a treasure trove of features that can boost your device's security and efficiency, but finding them can be like looking for a needle in a haystack due to the overwhelming number of options. However, there's a shortcut for those ready to tap into their phone's hidden powers. Dive into the Settings, select "Accessibility," choose "Touch," and then scroll down to discover "Back Tap" at the bottom. This feature opens up a world of possibilities, allowing you to assign actions to "Double Tap" and "Triple Tap" on your iPhone's back, making it easier than ever to use your device to its fullest potential.`
	iphoneB = `Hidden within the iPhone's extensive Settings, a valuable feature awaits those seeking to enhance their device's security and functionality, often overshadowed by the sheer volume of options available. For users eager to unlock their iPhone's potential quickly, a simple journey into the Settings can reveal this secret. By heading to "Accessibility" and then "Touch," followed by a scroll to "Back Tap" at the menu's end, a new realm of customization unveils itself. This area offers "Double Tap" and "Triple Tap" options, empowering you to activate specific functions with just a few taps on the back of your iPhone.`
)

// SIMSCORE_TEST_MODEL_DIR must hold an all-MiniLM-L6-v2 export with
// tokenizer.json and onnx/model.onnx.
func loadMiniLM(t *testing.T) *SentenceTransformer {
	t.Helper()
	dir := os.Getenv("SIMSCORE_TEST_MODEL_DIR")
	if dir == "" {
		t.Skip("SIMSCORE_TEST_MODEL_DIR not set")
	}

	cfg := DefaultModelConfig()
	cfg.Backend = BackendONNX
	cfg.Tokenizer = TokenizerHuggingFace
	cfg.ModelPath = filepath.Join(dir, "onnx", "model.onnx")
	cfg.TokenizerPath = filepath.Join(dir, "tokenizer.json")

	svc, err := NewFactory(zap.NewNop()).CreateService(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc.Pipeline()
}

func TestMiniLMFixtures(t *testing.T) {
	p := loadMiniLM(t)
	ctx := context.Background()

	cases := []struct {
		name string
		a, b string
		want float64
		eps  float64
	}{
		{"ExactShort", sentenceHello, sentenceHello, 1.0, 1e-6},
		{"ExactSentence", sentenceEmbedding, sentenceEmbedding, 1.0, 1e-6},
		{"Similar", sentenceDifferent, sentenceAnother, 0.9923702, 1e-6},
		{"DiffLength", sentenceDifferent, sentenceEmbedding, 0.22324173, 1e-6},
		{"Long", iphoneA, iphoneB, 0.8881394, 1e-6},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			score, err := p.Similarity(ctx, tc.a, tc.b)
			if err != nil {
				t.Fatalf("Similarity failed: %v", err)
			}
			if !closeTo(float64(score), tc.want, tc.eps) {
				t.Errorf("Expected %f ± %g, got %f", tc.want, tc.eps, score)
			}
		})
	}
}

func TestMiniLMDiffLengthParity(t *testing.T) {
	p := loadMiniLM(t)
	ctx := context.Background()

	pair, err := p.Similarity(ctx, sentenceHello, sentenceEmbedding)
	if err != nil {
		t.Fatalf("Similarity failed: %v", err)
	}
	batch, err := p.SimilarityBatch(ctx, sentenceHello, sentenceEmbedding)
	if err != nil {
		t.Fatalf("SimilarityBatch failed: %v", err)
	}
	t.Logf("pairwise=%f batch=%f divergence=%f", pair, batch, pair-batch)
	if pair == batch {
		t.Error("Joint-batch score should diverge for sentences of different length")
	}
}
