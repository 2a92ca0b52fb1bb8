package main

import (
	"os"

	"github.com/tom-doerr/perplexity_search/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
