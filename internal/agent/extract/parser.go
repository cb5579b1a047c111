package extract

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	errx "github.com/pmo-platform/chatcore/internal/core/error"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

const (
	recDelim = "##"
	tupDelim = "<||>"
	endDelim = "<|COMPLETE|>"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024 // 64KB
	maxRecords    = 200       // maximum number of records to process
	maxTupleLen   = 4 * 1024  // 4KB per tuple
	maxValueLen   = 1024      // cap per extracted value
	maxErrSnippet = 200       // limit error snippet size
)

// Harvest is the parsed outcome of one extraction pass: the candidate
// field values plus per-record parse diagnostics.
type Harvest struct {
	Fields    map[string]extractedValue
	ParseErrs []string
	Truncated bool
}

type extractedValue struct {
	Value      string
	Confidence float64
}

func parseFloatInRange(s, name string, min, max float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse: %w", name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s invalid number", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s out of range", name)
	}
	return v, nil
}

func parseRawTuple(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("empty tuple")
	}
	if len(s) > maxTupleLen {
		return nil, fmt.Errorf("tuple too large")
	}

	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return nil, fmt.Errorf("invalid tuple parens")
	}
	inner := s[1 : len(s)-1]
	parts := strings.SplitN(inner, tupDelim, 4)
	if len(parts) < 4 {
		return nil, fmt.Errorf("invalid tuple parts")
	}
	return parts, nil
}

// ParseHarvest parses the model's delimited extraction output. The
// expected record shape is:
//
//	("field"<||>customer.name<||>John Smith<||>0.92)##
//	...<|COMPLETE|>
//
// Malformed records are skipped and reported; a single bad tuple never
// discards the rest of the batch.
func ParseHarvest(content string) (h *Harvest, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "extract_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("extract parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			h = nil
		}
	}()

	h = &Harvest{Fields: make(map[string]extractedValue)}

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "extract_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
		h.Truncated = true
	}
	if idx := strings.Index(content, endDelim); idx >= 0 {
		content = content[:idx]
	}

	addErr := func(msg string) {
		h.ParseErrs = append(h.ParseErrs, msg)
	}

	records := strings.Split(content, recDelim)
	processed := 0
	for _, rec := range records {
		if processed >= maxRecords {
			addErr("records capped")
			logx.Warn().
				Str("component", "extract_parser").
				Int("max_records", maxRecords).
				Msg("record processing capped")
			break
		}
		rec = strings.TrimSpace(rec)
		if rec == "" || rec == endDelim {
			continue
		}
		processed++

		parts, perr := parseRawTuple(rec)
		if perr != nil {
			addErr(fmt.Sprintf("bad_record: %s", safeSnippet(rec)))
			continue
		}

		kind := strings.Trim(strings.TrimSpace(parts[0]), `"`)
		if kind != "field" {
			addErr("unknown tuple type")
			continue
		}

		path := strings.TrimSpace(parts[1])
		if path == "" || !utf8.ValidString(path) || !validPath(path) {
			addErr("field: invalid path")
			continue
		}
		value := strings.TrimSpace(parts[2])
		if value == "" {
			// Empty values mean "no new information"; they are dropped
			// here so they can never clear an already-set field downstream.
			continue
		}
		if !utf8.ValidString(value) {
			addErr("field: invalid value utf8")
			continue
		}
		if len(value) > maxValueLen {
			value = value[:maxValueLen]
		}
		conf, cerr := parseFloatInRange(parts[3], "field.confidence", 0, 1)
		if cerr != nil {
			addErr("field: invalid confidence")
			continue
		}

		// Keep the highest-confidence value when the model repeats a path.
		if prev, ok := h.Fields[path]; ok && prev.Confidence >= conf {
			continue
		}
		h.Fields[path] = extractedValue{Value: value, Confidence: conf}
	}

	return h, nil
}

// validPath accepts dotted lowercase paths like customer.phone.
func validPath(p string) bool {
	if len(p) > 128 || !strings.Contains(p, ".") {
		return false
	}
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_':
		default:
			return false
		}
	}
	return true
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
