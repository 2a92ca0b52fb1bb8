package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tom-doerr/perplexity_search/internal/config"
	"github.com/tom-doerr/perplexity_search/internal/render"
	"github.com/tom-doerr/perplexity_search/internal/update"
)

type Options struct {
	Config        string
	InputFile     string
	Interactive   bool
	NoStream      bool
	NoCitations   bool
	NoUpdateCheck bool
}

// app carries what the commands share. Tests replace newLineReader and
// updateRunner.
type app struct {
	v             *viper.Viper
	opts          *Options
	newLineReader func() (LineReader, error)
	updateRunner  update.Runner
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{v: viper.New(), newLineReader: newLinerReader})
}

func newRootCmd(a *app) *cobra.Command {
	a.opts = &Options{}
	v := a.v
	root := &cobra.Command{
		Use:   "plexsearch [query...]",
		Short: "plexsearch - search the web from your terminal with Perplexity",
		Long: `plexsearch sends a question to Perplexity (or OpenRouter, Ollama and
DuckDuckGo) and prints the answer as it streams in.

Run without a query to start an interactive conversation.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd, args)
		},
	}

	config.SetDefaults(v)

	flags := root.Flags()
	flags.String("model", config.DefaultModel, "model: sonar, sonar-pro, small, large, huge, ollama:<model>, openrouter:<model>, duckduckgo")
	flags.String("api-key", "", "API key (default $PERPLEXITY_API_KEY or $OPENROUTER_API_KEY)")
	flags.BoolVar(&a.opts.NoStream, "no-stream", false, "disable streaming output")
	flags.Bool("citations", true, "show numbered references below the answer")
	flags.BoolVar(&a.opts.NoCitations, "no-citations", false, "hide references")
	flags.String("result-type", "", "wrap the query in a search template: code, docs or mixed")
	flags.BoolVarP(&a.opts.Interactive, "interactive", "i", false, "start an interactive conversation")
	flags.StringVarP(&a.opts.InputFile, "file", "F", "", "query file, use -F- for stdin")
	flags.String("markdown-file", "", "save the conversation to this markdown file")
	flags.BoolVar(&a.opts.NoUpdateCheck, "no-update-check", false, "skip the check for a newer release")

	persistent := root.PersistentFlags()
	persistent.StringVar(&a.opts.Config, "config", "", "config file (default: ./plexsearch.yaml)")
	persistent.String("log-file", "", "write logs to this file")
	persistent.Bool("debug", false, "enable debug logging")

	for key, flag := range map[string]string{
		"model":         "model",
		"api_key":       "api-key",
		"citations":     "citations",
		"result_type":   "result-type",
		"markdown_file": "markdown-file",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	_ = v.BindPFlag("log_file", persistent.Lookup("log-file"))
	_ = v.BindPFlag("debug", persistent.Lookup("debug"))

	root.AddCommand(newVersionCmd())
	root.AddCommand(newUpdateCmd(a))
	return root
}

func (a *app) initConfig(cmd *cobra.Command) error {
	v := a.v
	if a.opts.Config != "" {
		v.SetConfigFile(a.opts.Config)
	} else {
		v.SetConfigName("plexsearch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/plexsearch")
	}

	v.SetEnvPrefix("PLEXSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return &config.ConfigurationError{Key: "config", Message: fmt.Sprintf("read config: %v", err)}
		}
	}

	flags := cmd.Flags()
	if f := flags.Lookup("no-stream"); f != nil && f.Changed && a.opts.NoStream {
		v.Set("stream", false)
	}
	if f := flags.Lookup("no-citations"); f != nil && f.Changed && a.opts.NoCitations {
		v.Set("citations", false)
	}
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return execute(NewRootCmd(), os.Stderr)
}

func execute(cmd *cobra.Command, stderr io.Writer) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, render.ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}
