package etl

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

// ErrCorruptSource marks a read error the source cannot recover from.
var ErrCorruptSource = errors.New("dataset is corrupt")

// PairSource yields pair records until io.EOF
type PairSource interface {
	Next() (*PairRecord, error)
	Close() error
}

// OpenPairs opens a dataset file in the format implied by its extension
func OpenPairs(path string) (PairSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}

	var src PairSource
	switch DetectFileFormat(path) {
	case FormatParquet:
		src = newParquetSource(file)
	case FormatJSON:
		src = &jsonSource{file: file, decoder: json.NewDecoder(file)}
	default:
		src, err = newCSVSource(file)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return src, nil
}

type csvSource struct {
	file   *os.File
	reader *csv.Reader
	s1, s2 int
	score  int
}

// newCSVSource reads the header and locates sentence1, sentence2 and the
// optional score column.
func newCSVSource(file *os.File) (*csvSource, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	src := &csvSource{file: file, reader: reader, s1: -1, s2: -1, score: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "sentence1", "sentence_a", "text_a":
			src.s1 = i
		case "sentence2", "sentence_b", "text_b":
			src.s2 = i
		case "score", "similarity", "label":
			src.score = i
		}
	}
	if src.s1 < 0 || src.s2 < 0 {
		return nil, fmt.Errorf("CSV header %v lacks sentence1/sentence2 columns", header)
	}
	return src, nil
}

func (s *csvSource) Next() (*PairRecord, error) {
	row, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	if len(row) <= s.s1 || len(row) <= s.s2 {
		return nil, fmt.Errorf("CSV record has %d fields", len(row))
	}

	record := &PairRecord{Sentence1: row[s.s1], Sentence2: row[s.s2]}
	if s.score >= 0 && s.score < len(row) && strings.TrimSpace(row[s.score]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[s.score]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q: %w", row[s.score], err)
		}
		record.Score = &v
	}
	return record, nil
}

func (s *csvSource) Close() error { return s.file.Close() }

type parquetSource struct {
	file   *os.File
	reader *parquet.Reader
}

func newParquetSource(file *os.File) *parquetSource {
	return &parquetSource{file: file, reader: parquet.NewReader(file)}
}

func (s *parquetSource) Next() (*PairRecord, error) {
	var record PairRecord
	if err := s.reader.Read(&record); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %w", ErrCorruptSource, err)
	}
	return &record, nil
}

func (s *parquetSource) Close() error {
	return errors.Join(s.reader.Close(), s.file.Close())
}

// jsonSource reads concatenated JSON objects, one per line in practice
type jsonSource struct {
	file    *os.File
	decoder *json.Decoder
}

func (s *jsonSource) Next() (*PairRecord, error) {
	var record PairRecord
	if err := s.decoder.Decode(&record); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: failed to decode JSON record: %w", ErrCorruptSource, err)
	}
	return &record, nil
}

func (s *jsonSource) Close() error { return s.file.Close() }
