// Package sniffer inspects delimited text before it is parsed. It picks the
// delimiter, reads the header row and fingerprints it.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/cloudflare/ahocorasick"
)

// Column names commonly seen in billing, HR and productivity exports.
var headerKeywords = []string{
	"amount", "cost", "price", "total", "value", "sum",
	"date", "created_at", "timestamp", "time",
	"description", "desc", "name", "title", "label", "service", "item",
	"department", "team", "project", "status", "vendor", "type", "category",
	"usage", "hours", "employee", "invoice", "account", "region",
}

var (
	keywordMatcher = ahocorasick.NewStringMatcher(headerKeywords)
	// Match keeps per-call state inside the matcher.
	matcherMu sync.Mutex
)

// candidate delimiters; earlier entries win ties
var delimiters = []rune{',', ';', '\t', '|'}

// FileConfig holds the detected configuration for a delimited file
type FileConfig struct {
	Delimiter    rune     // The field delimiter
	Headers      []string // Trimmed header names
	Fingerprint  string   // SHA256 of normalized headers
	KnownColumns []string // Header keywords recognised in the header row
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find a header line")
)

// DetectConfig analyzes a delimited file. The header is the first non-empty
// line.
func DetectConfig(data []byte) (*FileConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	line, ok := FirstNonEmptyLine(data)
	if !ok {
		return nil, ErrNoHeadersFound
	}

	delimiter := DetectDelimiter(line)

	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &FileConfig{
		Delimiter:    delimiter,
		Headers:      headers,
		Fingerprint:  Fingerprint(headers),
		KnownColumns: matchKeywords(line),
	}, nil
}

// FirstNonEmptyLine returns the first line that is not blank, with any UTF-8
// BOM and line terminator removed.
func FirstNonEmptyLine(data []byte) (string, bool) {
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) != "" {
			return line, true
		}
	}
	return "", false
}

// DetectDelimiter picks the candidate that occurs most often in the header
// line. A line without any candidate is treated as comma separated.
func DetectDelimiter(line string) rune {
	best := ','
	bestCount := 0
	for _, d := range delimiters {
		count := strings.Count(line, string(d))
		if count > bestCount {
			bestCount = count
			best = d
		}
	}
	return best
}

// Fingerprint creates a stable hash from header names so that repeated
// exports from the same tool can be recognised.
func Fingerprint(headers []string) string {
	// Normalize headers: lowercase, drop everything but letters and digits
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}

func matchKeywords(line string) []string {
	matcherMu.Lock()
	hits := keywordMatcher.Match([]byte(strings.ToLower(line)))
	matcherMu.Unlock()

	if len(hits) == 0 {
		return nil
	}
	found := make([]string, 0, len(hits))
	for _, i := range hits {
		found = append(found, headerKeywords[i])
	}
	return found
}
