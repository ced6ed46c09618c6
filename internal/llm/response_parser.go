package llm

import (
	"encoding/json"
	"strings"
)

// CleanLLMJSONResponse removes common formatting from LLM JSON responses.
// It handles:
// - Markdown code blocks (```json or ```)
// - XML-style tags (<tag>content</tag>)
// - Leading/trailing whitespace
func CleanLLMJSONResponse(response string) string {
	response = strings.TrimSpace(response)

	// Remove markdown code blocks
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	// Remove XML-style tags (e.g., <intent_result>content</intent_result>)
	response = extractFromXMLTags(response)

	return strings.TrimSpace(response)
}

// extractFromXMLTags removes the outermost XML-style tags from content.
// For example: "<tag>content</tag>" becomes "content"
// Handles attributes: "<tag attr="value">content</tag>" becomes "content"
func extractFromXMLTags(content string) string {
	openStart := strings.Index(content, "<")
	if openStart == -1 {
		return content
	}

	openEnd := strings.Index(content[openStart:], ">")
	if openEnd == -1 {
		return content
	}
	openEnd += openStart + 1

	openTagContent := content[openStart+1 : openEnd-1]
	spaceIdx := strings.Index(openTagContent, " ")
	var tagName string
	if spaceIdx == -1 {
		tagName = openTagContent
	} else {
		tagName = openTagContent[:spaceIdx]
	}

	closingTag := "</" + tagName + ">"
	closeStart := strings.Index(content, closingTag)

	if closeStart == -1 {
		return content
	}

	if closeStart > openEnd {
		return content[openEnd:closeStart]
	}

	return content
}

// ParseLLMJSONResponse parses a JSON response from an LLM, cleaning it first.
// Returns an error if parsing fails.
func ParseLLMJSONResponse(response string, target interface{}) error {
	cleaned := CleanLLMJSONResponse(response)
	if err := json.Unmarshal([]byte(cleaned), target); err == nil {
		return nil
	}
	return ExtractJSON(response, target)
}

// ExtractJSON extracts a JSON object from a response using flexible strategies.
// It tries:
// 1. Direct parse of cleaned response
// 2. Extract content between { and } braces
// Returns the parsed object or an error.
func ExtractJSON[T any](response string, target T) error {
	trimmed := strings.TrimSpace(response)

	// Strategy 1: Try direct parsing
	cleaned := CleanLLMJSONResponse(trimmed)
	if err := json.Unmarshal([]byte(cleaned), target); err == nil {
		return nil
	}

	// Strategy 2: Extract content between braces
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		snippet := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(snippet), target); err == nil {
			return nil
		}
	}

	return &JSONParseError{Response: response, Message: "could not parse JSON object"}
}

// ExtractCodeBlock returns the contents of the first fenced code block in an
// LLM response. A fence tagged with lang is preferred over an untagged one.
// Responses without any fence are returned trimmed.
func ExtractCodeBlock(response, lang string) string {
	trimmed := strings.TrimSpace(response)

	if lang != "" {
		if block, ok := extractFence(trimmed, "```"+lang); ok {
			return block
		}
	}
	if block, ok := extractFence(trimmed, "```"); ok {
		return block
	}
	return trimmed
}

func extractFence(content, fence string) (string, bool) {
	start := strings.Index(content, fence)
	if start == -1 {
		return "", false
	}

	rest := content[start+len(fence):]
	// Drop the remainder of the fence line (e.g. a language tag).
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	}

	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// JSONParseError represents an error that occurred while parsing LLM JSON response.
type JSONParseError struct {
	Response string
	Message  string
}

func (e *JSONParseError) Error() string {
	return e.Message + ": " + TruncateForError(e.Response, 200)
}

// TruncateForError truncates a string for error messages.
func TruncateForError(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
