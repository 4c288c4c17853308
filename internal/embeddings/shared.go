package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// TextHash returns the hex SHA-256 of text. The text is hashed as-is: the
// pipeline never trims or lowercases sentences.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies the embedding function a config produces: the model
// name plus a digest of every setting that changes the output vectors. Two
// configs share cached embeddings only when their fingerprints are equal.
func Fingerprint(config ModelConfig) string {
	parts := []string{
		config.Backend,
		config.Tokenizer,
		config.ModelPath,
		config.TokenizerPath,
		config.OutputName,
		config.HubRepo,
		config.HubRevision,
		config.Device,
		strconv.Itoa(config.HiddenSize),
		strconv.FormatInt(config.PadID, 10),
		strconv.Itoa(config.MaxLength),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return config.ModelName + "@" + hex.EncodeToString(sum[:8])
}

// UpdateStats folds one inference into stats. Callers hold the stats lock.
func UpdateStats(stats *ModelStats, sentences int, tokens int, duration time.Duration, success bool) {
	stats.TotalInferences++
	stats.LastInferenceTime = time.Now()

	if !success {
		stats.FailedRuns++
		stats.ErrorRate = float64(stats.FailedRuns) / float64(stats.TotalInferences)
		return
	}

	stats.SuccessfulRuns++
	stats.TotalSentences += int64(sentences)
	stats.TotalTokens += int64(tokens)

	// Update average inference time over successful runs
	totalDuration := time.Duration(stats.SuccessfulRuns-1) * stats.AvgInferenceTime
	stats.AvgInferenceTime = (totalDuration + duration) / time.Duration(stats.SuccessfulRuns)

	if stats.TotalSentences > 0 {
		stats.AvgTokensPerText = float64(stats.TotalTokens) / float64(stats.TotalSentences)
	}
	stats.ErrorRate = float64(stats.FailedRuns) / float64(stats.TotalInferences)
}
