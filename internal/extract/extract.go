// Package extract recovers structured payloads from model responses.
//
// Models return JSON, markdown-fenced JSON, fenced code, or loosely marked
// file blocks depending on mood. Every extractor here is a total function
// returning a tagged Result; callers handle both arms explicitly instead of
// relying on errors for control flow.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Result is the outcome of one parse attempt: either a parsed value or the
// raw text that could not be parsed.
type Result struct {
	OK    bool
	Value string // parsed payload when OK
	Raw   string // original input, kept for diagnostics when !OK
}

// Parsed wraps a successfully extracted payload.
func Parsed(value string) Result { return Result{OK: true, Value: value} }

// Unparseable wraps input that no extraction arm could handle.
func Unparseable(raw string) Result { return Result{Raw: raw} }

// =============================================================================
// JSON EXTRACTION
// =============================================================================

// JSON extracts a JSON object from a model response. Ordered chain: the raw
// text as-is, then a ```json fenced block, then a bare fenced block, then the
// outermost {...} span. First valid arm wins.
func JSON(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Unparseable(text)
	}

	if isJSONObject(trimmed) {
		return Parsed(trimmed)
	}

	for _, lang := range []string{"json", ""} {
		if block, ok := fencedBlock(trimmed, lang); ok && isJSONObject(block) {
			return Parsed(block)
		}
	}

	// Outermost brace span: tolerates prose before/after the object.
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start != -1 && end > start {
		if candidate := trimmed[start : end+1]; isJSONObject(candidate) {
			return Parsed(candidate)
		}
	}

	return Unparseable(text)
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var v map[string]any
	return json.Unmarshal([]byte(s), &v) == nil
}

// =============================================================================
// CODE BLOCK EXTRACTION
// =============================================================================

// CodeBlock extracts the first fenced code block for the given language.
// Falls back to a bare ``` fence; returns Unparseable if no fence exists
// (callers decide whether raw text is acceptable source).
func CodeBlock(text, lang string) Result {
	if block, ok := fencedBlock(text, lang); ok {
		return Parsed(block)
	}
	if block, ok := fencedBlock(text, ""); ok {
		return Parsed(block)
	}
	return Unparseable(text)
}

// fencedBlock finds the first ```<lang> ... ``` block. An empty lang matches
// a bare fence.
func fencedBlock(text, lang string) (string, bool) {
	patterns := []string{
		"```" + lang + "\n",
		"```" + lang + "\r\n",
	}
	for _, pattern := range patterns {
		idx := strings.Index(text, pattern)
		if idx == -1 {
			continue
		}
		start := idx + len(pattern)
		end := strings.Index(text[start:], "```")
		if end == -1 {
			continue
		}
		return strings.TrimSpace(text[start : start+end]), true
	}
	return "", false
}

// =============================================================================
// FILE BLOCK EXTRACTION
// =============================================================================

// fileHeaderRe matches the path annotations models use ahead of a fenced
// block: "### FILE: path", "// file: path", "--- path ---".
var fileHeaderRe = regexp.MustCompile(`(?mi)^(?:#{1,4}\s*FILE:\s*|//\s*file:\s*|---\s*)([\w./\-]+\.\w+)(?:\s*---)?\s*$`)

// fencedFileRe matches fences that carry the path inline: ```go path/to/file.go
var fencedFileRe = regexp.MustCompile("(?m)^```\\w*[ \t]+([\\w./\\-]+\\.\\w+)[ \t]*$")

// Files extracts named source files from a model response. Recognized shapes,
// tried in order:
//
//  1. fences with inline paths:      ```go client.go
//  2. header lines before a fence:   ### FILE: client.go
//
// If neither matches but exactly one code block exists, it is returned under
// defaultName. Returns nil and false when nothing file-like can be recovered.
func Files(text, defaultName string) (map[string]string, bool) {
	files := make(map[string]string)

	// Arm 1: ```lang path fences.
	if locs := fencedFileRe.FindAllStringSubmatchIndex(text, -1); len(locs) > 0 {
		for _, loc := range locs {
			name := text[loc[2]:loc[3]]
			rest := text[loc[1]:]
			end := strings.Index(rest, "```")
			if end == -1 {
				continue
			}
			files[name] = strings.TrimLeft(strings.TrimSpace(rest[:end]), "\n")
		}
		if len(files) > 0 {
			return files, true
		}
	}

	// Arm 2: header line, then the next fenced block.
	if locs := fileHeaderRe.FindAllStringSubmatchIndex(text, -1); len(locs) > 0 {
		for i, loc := range locs {
			name := text[loc[2]:loc[3]]
			sectionEnd := len(text)
			if i+1 < len(locs) {
				sectionEnd = locs[i+1][0]
			}
			section := text[loc[1]:sectionEnd]
			if block, ok := anyFencedBlock(section); ok {
				files[name] = block
			} else if body := strings.TrimSpace(section); body != "" {
				files[name] = body
			}
		}
		if len(files) > 0 {
			return files, true
		}
	}

	// Arm 3: a single anonymous block becomes the default file.
	if defaultName != "" {
		if block, ok := anyFencedBlock(text); ok {
			return map[string]string{defaultName: block}, true
		}
	}

	return nil, false
}

var anyFenceRe = regexp.MustCompile("(?m)^```[\\w]*[ \t]*\r?\n")

// anyFencedBlock finds the first fenced block regardless of language tag.
func anyFencedBlock(text string) (string, bool) {
	loc := anyFenceRe.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	start := loc[1]
	end := strings.Index(text[start:], "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(text[start : start+end]), true
}
