package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tom-doerr/perplexity_search/internal/config"
	"github.com/tom-doerr/perplexity_search/internal/llm"
	"github.com/tom-doerr/perplexity_search/internal/prompt"
)

// readInput returns the query from the command line words, or from -F. A
// file given with -F has its trailing line break removed.
func readInput(args []string, inputFile string, stdin io.Reader) (string, error) {
	switch {
	case inputFile != "" && len(args) > 0:
		return "", errors.New("give the query either as arguments or with -F, not both")
	case inputFile == "" && len(args) == 0:
		return "", errors.New("no query given: pass it as arguments or with -F")
	case inputFile == "":
		return strings.Join(args, " "), nil
	}

	var (
		data []byte
		err  error
	)
	if inputFile == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(inputFile)
	}
	if err != nil {
		return "", fmt.Errorf("read query from %s: %w", queryFileName(inputFile), err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func queryFileName(inputFile string) string {
	if inputFile == "-" {
		return "stdin"
	}
	return inputFile
}

// buildQuery applies the result-type search template when one is configured.
// DuckDuckGo gets the bare query: its instant answers match on short terms.
func buildQuery(input string, cfg config.Config) (string, error) {
	if cfg.ResultType == "" {
		return input, nil
	}
	if selector, err := cfg.Selector(); err == nil && selector.Provider == llm.ProviderDuckDuckGo {
		return input, nil
	}
	return prompt.Query(input, cfg.ResultType, cfg.MaxResults)
}

// wantsInteractive reports whether no query was supplied, or -i was given.
func wantsInteractive(opts *Options, args []string) bool {
	return opts.Interactive || (len(args) == 0 && opts.InputFile == "")
}
