package pathway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/archon-ai/pathways/errors"
)

// numberedLine matches list entries of the form "1. item" or "2) item".
var numberedLine = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*)$`)

// fencedBlock extracts the body of a fenced code block.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Parse converts raw model output into the pathway's declared shape.
//
// Dispatch order: the pathway's custom parser when declared; list parsing for
// list-shaped pathways; permissive JSON extraction for JSON pathways; the raw
// string otherwise.
func Parse(raw string, pw *Pathway) (any, error) {
	if pw != nil && pw.Parser != nil {
		return pw.Parser(raw)
	}
	if pw != nil && pw.List {
		return ParseList(raw, pw.FormatFields()), nil
	}
	if pw != nil && pw.JSON {
		return ParseJSON(raw)
	}
	return raw, nil
}

// ParseList converts raw output to a list. Detection order: numbered list,
// numbered-object list (when fields are declared), comma-separated values,
// singleton wrapper. The result is always a non-nil slice for non-empty input.
func ParseList(raw string, fields []string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []string{}
	}

	numbered := numberedItems(trimmed)
	if len(numbered) > 0 {
		if len(fields) > 0 {
			records := make([]map[string]string, 0, len(numbered))
			for _, item := range numbered {
				records = append(records, splitRecord(item, fields))
			}
			return records
		}
		return numbered
	}

	if strings.Contains(trimmed, ",") && !strings.Contains(trimmed, "\n") {
		parts := strings.Split(trimmed, ",")
		items := make([]string, 0, len(parts))
		for _, part := range parts {
			if p := strings.TrimSpace(part); p != "" {
				items = append(items, p)
			}
		}
		return items
	}

	return []string{trimmed}
}

// numberedItems extracts the payloads of numbered lines, or nil when the text
// is not a numbered list.
func numberedItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			return nil
		}
		items = append(items, strings.TrimSpace(m[2]))
	}
	return items
}

// splitRecord maps one numbered-list item onto the declared field names.
// Values are separated by "|" or " - "; missing trailing fields are empty.
func splitRecord(item string, fields []string) map[string]string {
	var parts []string
	switch {
	case strings.Contains(item, "|"):
		parts = strings.Split(item, "|")
	case strings.Contains(item, " - "):
		parts = strings.Split(item, " - ")
	default:
		parts = []string{item}
	}

	record := make(map[string]string, len(fields))
	for i, field := range fields {
		if i < len(parts) {
			record[field] = strings.TrimSpace(parts[i])
		} else {
			record[field] = ""
		}
	}
	return record
}

// ParseJSON permissively extracts JSON from raw model output: fenced code
// blocks are unwrapped, surrounding prose is trimmed to the outermost object
// or array, and the remainder is parsed.
func ParseJSON(raw string) (any, error) {
	candidate := strings.TrimSpace(raw)

	if m := fencedBlock.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	if !strings.HasPrefix(candidate, "{") && !strings.HasPrefix(candidate, "[") {
		start := strings.IndexAny(candidate, "{[")
		if start >= 0 {
			end := strings.LastIndexAny(candidate, "}]")
			if end > start {
				candidate = candidate[start : end+1]
			}
		}
	}

	var value any
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		return nil, errors.New("pathway", "ParseJSON",
			fmt.Errorf("model output is not valid JSON: %w", err)).WithKind(errors.KindUpstream)
	}
	return value, nil
}
