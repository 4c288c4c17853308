package etl

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/segmentio/parquet-go"
)

// WriteResults writes per-pair results in the format implied by path
func WriteResults(path string, results []*PairResult) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	switch DetectFileFormat(path) {
	case FormatJSON:
		enc := json.NewEncoder(file)
		for _, r := range results {
			if r == nil {
				continue
			}
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("failed to write JSON result: %w", err)
			}
		}
		return nil

	case FormatParquet:
		writer := parquet.NewWriter(file, parquet.SchemaOf(new(PairResult)))
		for _, r := range results {
			if r == nil {
				continue
			}
			if err := writer.Write(r); err != nil {
				return fmt.Errorf("failed to write Parquet result: %w", err)
			}
		}
		return writer.Close()

	default:
		w := csv.NewWriter(file)
		header := []string{"index", "sentence1", "sentence2", "expected", "pairwise", "batch", "divergence", "error"}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, r := range results {
			if r == nil {
				continue
			}
			row := []string{
				strconv.Itoa(r.Index),
				r.Sentence1,
				r.Sentence2,
				formatOptional64(r.Expected),
				formatOptional32(r.Pairwise),
				formatOptional32(r.Batch),
				formatOptional32(r.Divergence),
				r.Error,
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV result: %w", err)
			}
		}
		w.Flush()
		return w.Error()
	}
}

func formatOptional32(v *float32) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(float64(*v), 'g', -1, 32)
}

func formatOptional64(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
