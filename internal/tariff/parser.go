package tariff

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	pdf "github.com/ledongthuc/pdf"

	"github.com/mtowater/waterbilling/internal/storage"
)

// Schedule is a parsed tariff schedule: the per-type two-tier rates published
// by the water office, usually as a PDF annex to a municipal ordinance.
type Schedule struct {
	Source    string
	FetchedAt time.Time
	Types     []storage.CustomerType
}

// ParsePDF opens a tariff schedule PDF at the given path, extracts text, and
// delegates to ParseText.
func ParsePDF(path string) (*Schedule, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	rc, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	s, err := ParseText(buf.String())
	if err != nil {
		return nil, err
	}
	s.Source = path
	return s, nil
}

// ParseText parses a plain-text representation of the tariff schedule and
// extracts one two-tier rate line per customer type using regex heuristics.
// Handles both the ordinance annex layout:
//
//	Residential      First 3 cu.m.  P15.00    Over 3 cu.m.  P12.00
//
// and the simpler tabular layout:
//
//	Commercial   25.00   20.00
func ParseText(text string) (*Schedule, error) {
	// Ordinance annex layout, minimum block and excess rate called out.
	annexRe := regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z /-]*?)\s+First\s+3\s+cu\.?m\.?\s+(?:P|Php\s*)?([0-9]+(?:\.[0-9]+)?)\s+(?:Over|Succeeding|Excess)(?:\s+3)?\s+cu\.?m\.?\s+(?:P|Php\s*)?([0-9]+(?:\.[0-9]+)?)\s*$`)
	// Tabular layout, type then the two per-unit rates.
	tableRe := regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z /-]*?)\s+(?:P|Php\s*)?([0-9]+\.[0-9]{2})\s+(?:P|Php\s*)?([0-9]+\.[0-9]{2})\s*$`)

	seen := make(map[string]bool)
	var types []storage.CustomerType

	collect := func(matches [][]string) {
		for _, m := range matches {
			name := strings.TrimSpace(m[1])
			if name == "" || isHeaderWord(name) || seen[strings.ToLower(name)] {
				continue
			}
			rate1, err1 := strconv.ParseFloat(m[2], 64)
			rate2, err2 := strconv.ParseFloat(m[3], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			seen[strings.ToLower(name)] = true
			types = append(types, storage.CustomerType{Type: name, Rate1: rate1, Rate2: rate2})
		}
	}

	collect(annexRe.FindAllStringSubmatch(text, -1))
	collect(tableRe.FindAllStringSubmatch(text, -1))

	if len(types) == 0 {
		return nil, fmt.Errorf("no rate lines found in tariff schedule")
	}

	return &Schedule{FetchedAt: time.Now().UTC(), Types: types}, nil
}

func isHeaderWord(s string) bool {
	switch strings.ToLower(s) {
	case "type", "classification", "category", "customer", "schedule", "rates", "tariff":
		return true
	}
	return false
}
