package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// ParseJSON decodes model output. When the direct parse fails it tries
// RepairJSON once. repaired reports whether the repair path produced v.
// Numbers are kept as json.Number so values survive re-encoding unchanged.
func ParseJSON(content string) (v any, repaired bool, err error) {
	if v, err = decodeStrict(content); err == nil {
		return v, false, nil
	}
	fixed := RepairJSON(content)
	v, rerr := decodeStrict(fixed)
	if rerr != nil {
		return nil, false, common.ResponseFormatError("model output is not valid JSON", fmt.Errorf("%v; after repair: %w", err, rerr))
	}
	return v, true, nil
}

func decodeStrict(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

// RepairJSON applies best-effort fixes for common model output damage:
// Markdown code fences, prose around the JSON value, and stray commas before
// a closing bracket or after an opening one. Commas inside strings are left
// alone, so valid JSON is returned with the same meaning.
func RepairJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		s = outermostValue(strings.TrimSpace(stripFences(s)))
	}
	return dropStrayCommas(s)
}

func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	// drop the info string (```json)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if info := strings.TrimSpace(body[:nl]); !strings.ContainsAny(info, "{[") {
			body = body[nl+1:]
		}
	} else {
		body = strings.TrimPrefix(strings.TrimSpace(body), "json")
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

// outermostValue trims prose before the first opening bracket and after the
// matching last closing bracket.
func outermostValue(s string) string {
	open := strings.IndexAny(s, "{[")
	if open < 0 {
		return s
	}
	closer := byte('}')
	if s[open] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < open {
		return s[open:]
	}
	return s[open : end+1]
}

func dropStrayCommas(s string) string {
	out := make([]byte, 0, len(s))
	inString, escaped := false, false
	last := byte(0) // last significant byte written outside strings
	lastPos := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				last, lastPos = c, len(out)-1
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			if last == '{' || last == '[' || last == ',' || last == 0 {
				continue
			}
		case '}', ']':
			if last == ',' {
				out = append(out[:lastPos], out[lastPos+1:]...)
			}
		}
		out = append(out, c)
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			last, lastPos = c, len(out)-1
		}
	}
	return string(out)
}
