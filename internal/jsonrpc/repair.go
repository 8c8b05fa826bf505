package jsonrpc

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RepairError reports that an argument blob could not be parsed even after
// every repair pass ran. The raw text is retained for logging.
type RepairError struct {
	Raw string
	Err error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("repair: %v", e.Err)
}

func (e *RepairError) Unwrap() error {
	return e.Err
}

var (
	nullGapRe       = regexp.MustCompile(`("[^"]*"\s*:)\s*,`)
	leadingDotRe    = regexp.MustCompile(`(:\s*)(-?)\.([0-9])`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	xmlParamRe      = regexp.MustCompile(`(?s)<parameter name="([^"]+)">(.*?)</parameter>`)
)

// Repair attempts to coerce a model-produced tool-argument blob into valid
// JSON. It tries, in order: raw parse, punctuation repair, Anthropic XML
// parameter extraction, and mixed JSON/XML merging. It returns the repaired
// JSON text, or a *RepairError if nothing worked.
func Repair(input string) (string, error) {
	if json.Valid([]byte(input)) {
		return input, nil
	}

	repaired := applyPunctuationRepairs(input)
	if json.Valid([]byte(repaired)) {
		return repaired, nil
	}

	stripped := stripTrailingXMLGarbage(repaired)
	if stripped != repaired && json.Valid([]byte(stripped)) {
		return stripped, nil
	}
	repaired = stripped

	if obj, ok := extractXMLParameters(repaired); ok {
		return obj, nil
	}

	if obj, ok := mergeMixedJSONAndXML(repaired); ok {
		return obj, nil
	}

	return "", &RepairError{Raw: input, Err: fmt.Errorf("could not repair argument JSON")}
}

// applyPunctuationRepairs fixes the common small-scale syntax errors models
// produce: empty values before a comma, decimals missing a leading zero, and
// trailing commas before a closing brace or bracket.
func applyPunctuationRepairs(s string) string {
	s = nullGapRe.ReplaceAllString(s, "$1null,")
	s = leadingDotRe.ReplaceAllString(s, "${1}${2}0.${3}")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return s
}

// stripTrailingXMLGarbage removes XML-tag debris trailing a syntactically
// complete JSON value, e.g. a stray `</parameter>` a model appended after
// closing its JSON.
func stripTrailingXMLGarbage(s string) string {
	trimmed := strings.TrimRight(s, " \t\r\n")
	idx := strings.LastIndex(trimmed, "</parameter>")
	if idx == -1 {
		return s
	}
	candidate := strings.TrimRight(trimmed[:idx], " \t\r\n")
	if json.Valid([]byte(candidate)) {
		return candidate
	}
	return s
}

// extractXMLParameters recognizes the Anthropic XML parameter form
// (<parameter name="k">v</parameter>...) and synthesizes a JSON object from
// it, inferring int/float/bool/null/string for each scalar.
func extractXMLParameters(s string) (string, bool) {
	matches := xmlParamRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return "", false
	}
	obj := make(map[string]any, len(matches))
	for _, m := range matches {
		obj[m[1]] = inferScalar(strings.TrimSpace(m[2]))
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// mergeMixedJSONAndXML handles a blob that begins with a JSON object prefix
// (possibly malformed) followed by XML parameter tags, merging both sources
// of key/value pairs into one object.
func mergeMixedJSONAndXML(s string) (string, bool) {
	xmlStart := strings.Index(s, "<parameter")
	if xmlStart == -1 {
		return "", false
	}
	jsonPrefix := strings.TrimSpace(s[:xmlStart])
	xmlSuffix := s[xmlStart:]

	obj := make(map[string]any)
	if jsonPrefix != "" {
		jsonPrefix = applyPunctuationRepairs(jsonPrefix)
		jsonPrefix = closeDangling(jsonPrefix)
		var prefixObj map[string]any
		if json.Unmarshal([]byte(jsonPrefix), &prefixObj) == nil {
			for k, v := range prefixObj {
				obj[k] = v
			}
		}
	}

	for _, m := range xmlParamRe.FindAllStringSubmatch(xmlSuffix, -1) {
		obj[m[1]] = inferScalar(strings.TrimSpace(m[2]))
	}

	if len(obj) == 0 {
		return "", false
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// closeDangling appends closing braces/brackets for an object prefix that
// was truncated mid-value, e.g. `{"path": "a.go"` missing its final `}`.
func closeDangling(s string) string {
	trimmed := strings.TrimRight(s, " \t\r\n,")
	open := strings.Count(trimmed, "{") - strings.Count(trimmed, "}")
	for i := 0; i < open; i++ {
		trimmed += "}"
	}
	return trimmed
}

// inferScalar converts an XML parameter's text content to the JSON-typed
// value it most likely represents.
func inferScalar(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	case "null", "":
		return nil
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
