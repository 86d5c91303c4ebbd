// Package symbols extracts ticker symbols from uploaded CSV or plain-text content.
package symbols

import (
	"encoding/csv"
	"errors"
	"math"
	"strconv"
	"strings"
)

// sampleSize is how many lines the dialect sniffer and header heuristic inspect.
const sampleSize = 20

// headerLabels are the column names recognised as holding symbols.
var headerLabels = map[string]bool{
	"symbol":  true,
	"symbols": true,
	"ticker":  true,
	"tickers": true,
}

// delimiters in order of preference when two are equally consistent.
var delimiters = []rune{',', '\t', ';', '|'}

// ErrNoDialect is returned when no delimiter can be chosen for the content.
var ErrNoDialect = errors.New("could not determine delimiter")

// Dialect describes how a CSV payload is delimited.
type Dialect struct {
	Delimiter rune
	// SingleColumn is set when the sample contains no delimiter at all.
	SingleColumn bool
}

// Extract returns the distinct uppercased symbols found in raw, in first-seen
// order. Structured CSV parsing is attempted first; if it fails the content is
// read as one symbol per line.
func Extract(raw string) []string {
	raw = strings.TrimPrefix(raw, "\ufeff")
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	found, err := extractStructured(raw)
	if err != nil {
		found = extractLines(raw)
	}
	return dedupe(found)
}

func extractStructured(raw string) ([]string, error) {
	dialect, err := Sniff(raw)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(raw))
	r.Comma = dialect.Delimiter
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// A single column has no other columns to vote with, so only a
	// recognised label marks a header there.
	header := symbolColumn(rows[0]) >= 0
	if !dialect.SingleColumn {
		header = hasHeader(rows)
	}

	col, start := 0, 0
	if header {
		start = 1
		if idx := symbolColumn(rows[0]); idx >= 0 {
			col = idx
		}
	}

	var out []string
	for _, row := range rows[start:] {
		if len(row) <= col {
			continue
		}
		if s := normalize(row[col]); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// extractLines treats every line as a symbol, skipping header leftovers.
func extractLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		s := normalize(line)
		if s == "" || strings.HasPrefix(strings.ToLower(s), "symbol") {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Sniff picks the delimiter whose per-line count is most consistent over the
// first lines of raw. Quoted sections are ignored when counting.
func Sniff(raw string) (Dialect, error) {
	lines := sampleLines(raw)
	if len(lines) == 0 {
		return Dialect{}, ErrNoDialect
	}

	best, bestScore := rune(0), 0.0
	seenAny := false
	for _, d := range delimiters {
		counts := make(map[int]int)
		for _, line := range lines {
			n := countUnquoted(line, d)
			if n > 0 {
				seenAny = true
			}
			counts[n]++
		}

		mode, freq := 0, 0
		for n, f := range counts {
			if f > freq || (f == freq && n > mode) {
				mode, freq = n, f
			}
		}
		if mode == 0 {
			continue
		}

		score := float64(freq) / float64(len(lines))
		if score >= 0.9 && score > bestScore {
			best, bestScore = d, score
		}
	}

	if best != 0 {
		return Dialect{Delimiter: best}, nil
	}
	if !seenAny {
		return Dialect{Delimiter: ',', SingleColumn: true}, nil
	}
	return Dialect{}, ErrNoDialect
}

func sampleLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == sampleSize {
			break
		}
	}
	return lines
}

func countUnquoted(line string, d rune) int {
	n, quoted := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

// hasHeader reports whether the first row looks like a header. A row naming a
// symbol column always counts; otherwise each column whose data cells share a
// kind (numeric, or a fixed length) votes on whether the first cell differs.
func hasHeader(rows [][]string) bool {
	if symbolColumn(rows[0]) >= 0 {
		return true
	}
	if len(rows) < 2 {
		return false
	}

	header := rows[0]
	kinds := make(map[int]cellKind)
	dropped := make(map[int]bool)

	for i, row := range rows[1:] {
		if i >= sampleSize {
			break
		}
		if len(row) != len(header) {
			continue
		}
		for col, cell := range row {
			if dropped[col] {
				continue
			}
			k := kindOf(cell)
			prev, ok := kinds[col]
			switch {
			case !ok:
				kinds[col] = k
			case prev != k:
				delete(kinds, col)
				dropped[col] = true
			}
		}
	}

	votes := 0
	for col, k := range kinds {
		h := kindOf(header[col])
		if k.numeric {
			if h.numeric {
				votes--
			} else {
				votes++
			}
			continue
		}
		if h.length != k.length {
			votes++
		} else {
			votes--
		}
	}
	return votes > 0
}

type cellKind struct {
	numeric bool
	length  int
}

func kindOf(cell string) cellKind {
	cell = strings.TrimSpace(cell)
	if f, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return cellKind{numeric: true}
	}
	return cellKind{length: len(cell)}
}

func symbolColumn(header []string) int {
	for i, cell := range header {
		if headerLabels[strings.ToLower(strings.TrimSpace(cell))] {
			return i
		}
	}
	return -1
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
