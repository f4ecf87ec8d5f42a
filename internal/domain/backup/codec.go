package backup

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrMalformedBackup covers every decode and shape failure.
	ErrMalformedBackup = errors.New("malformed backup")
	// ErrCapacityExceeded refuses exports above MaxRecords.
	ErrCapacityExceeded = errors.New("too many scores to export")
)

// MaxRecords caps one export so it fits on a single page.
const MaxRecords = 1000

// maxDecoded bounds the decompressed payload.
const maxDecoded = 4 << 20

// Record is the compact external form of one score.
type Record struct {
	Username string `json:"u"`
	Score    int64  `json:"s"`
}

type wireRecord struct {
	Username *string `json:"u"`
	Score    *int64  `json:"s"`
}

// Encode serialises records as JSON, gzips and base64-encodes the result.
func Encode(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress backup: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode and validates the payload strictly: an array of
// objects with exactly a non-empty string "u" and an integer "s", with unique
// usernames. Any failure wraps ErrMalformedBackup.
func Decode(payload string) ([]Record, error) {
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedBackup, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrMalformedBackup, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxDecoded+1))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrMalformedBackup, err)
	}
	if len(raw) > maxDecoded {
		return nil, fmt.Errorf("%w: payload larger than %d bytes", ErrMalformedBackup, maxDecoded)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var wire []wireRecord
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformedBackup, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after array", ErrMalformedBackup)
	}
	if wire == nil {
		return nil, fmt.Errorf("%w: expected an array", ErrMalformedBackup)
	}

	records := make([]Record, 0, len(wire))
	seen := make(map[string]bool, len(wire))
	for i, w := range wire {
		if w.Username == nil || w.Score == nil {
			return nil, fmt.Errorf("%w: record %d: both u and s are required", ErrMalformedBackup, i)
		}
		if *w.Username == "" {
			return nil, fmt.Errorf("%w: record %d: empty username", ErrMalformedBackup, i)
		}
		if seen[*w.Username] {
			return nil, fmt.Errorf("%w: record %d: duplicate username %q", ErrMalformedBackup, i, *w.Username)
		}
		seen[*w.Username] = true
		records = append(records, Record{Username: *w.Username, Score: *w.Score})
	}
	return records, nil
}
