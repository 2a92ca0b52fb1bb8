// Package prompt renders the embedded system preamble and search template.
package prompt

import (
	"embed"
	"fmt"
	"strconv"
	"strings"
)

//go:embed system.md
//go:embed query.md
var promptFS embed.FS

const (
	systemPromptPath = "system.md"
	queryPromptPath  = "query.md"

	citationGuideline = "7. Add numbered citations at the bottom in [1], [2] format"

	DefaultMaxResults = 5
)

var resultTypes = []string{"code", "docs", "mixed"}

// ValidResultType reports whether value is one of code, docs or mixed.
func ValidResultType(value string) bool {
	for _, rt := range resultTypes {
		if value == rt {
			return true
		}
	}
	return false
}

// System returns the preamble sent ahead of every conversation.
func System(citations bool) (string, error) {
	template, err := load(systemPromptPath)
	if err != nil {
		return "", err
	}
	guideline := ""
	if citations {
		guideline = citationGuideline
	}
	return strings.TrimSpace(strings.NewReplacer("{{citations}}", guideline).Replace(template)), nil
}

// Query wraps a user query in the result-type search template.
func Query(query, resultType string, maxResults int) (string, error) {
	if !ValidResultType(resultType) {
		return "", fmt.Errorf("invalid result type: %s (want one of %s)", resultType, strings.Join(resultTypes, ", "))
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	template, err := load(queryPromptPath)
	if err != nil {
		return "", err
	}
	replacer := strings.NewReplacer(
		"{{query}}", query,
		"{{result_type}}", resultType,
		"{{max_results}}", strconv.Itoa(maxResults),
	)
	return replacer.Replace(template), nil
}

func load(path string) (string, error) {
	data, err := promptFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
