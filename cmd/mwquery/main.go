// Command mwquery runs a continued MediaWiki API query and prints every
// result page as JSON.
//
//	mwquery --api https://en.wikipedia.org/w/api.php \
//		-p list=categorymembers -p cmtitle=Category:Soap -p cmlimit=max
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	mwapi "cgt.name/pkg/go-mwapi"
	"cgt.name/pkg/go-mwapi/params"
)

type options struct {
	config    string
	api       string
	userAgent string
	params    []string
	maxPages  int
	login     bool
	verbose   int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mwquery:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "mwquery",
		Short: "Run a continued MediaWiki API query",
		Long: `Runs action=query with the given parameters, following continuations,
and prints each result page as indented JSON.

Settings are read from the config file and MWAPI_* environment variables,
flags take precedence.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.config, "config", "c", "", "config file (YAML)")
	flags.StringVarP(&opts.api, "api", "a", "", "API endpoint URL")
	flags.StringVar(&opts.userAgent, "user-agent", "", "User-Agent header")
	flags.StringArrayVarP(&opts.params, "param", "p", nil, "query parameter key=value, repeat a key for multiple values")
	flags.IntVarP(&opts.maxPages, "max-pages", "n", 0, "stop after n pages (0 for all)")
	flags.BoolVar(&opts.login, "login", false, "log in with the configured credentials first")
	flags.CountVarP(&opts.verbose, "verbose", "v", "log requests (-vv for trace)")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := mwapi.LoadConfig(opts.config)
	if err != nil {
		return err
	}
	if opts.api != "" {
		cfg.APIURL = opts.api
	}
	if opts.userAgent != "" {
		cfg.UserAgent = opts.userAgent
	}

	level := zerolog.InfoLevel
	switch {
	case opts.verbose >= 2:
		level = zerolog.TraceLevel
	case opts.verbose == 1:
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	cfg.Logger = &logger

	p, err := parseParams(opts.params)
	if err != nil {
		return err
	}

	w, err := mwapi.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer w.Close()

	if opts.login {
		if cfg.Username == "" {
			return errors.New("--login needs a username in the config")
		}
		if err := w.Login(cfg.Username, cfg.Password); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	q := w.NewQuery(p)
	for q.Next() {
		raw, err := q.Resp().Marshal()
		if err != nil {
			return fmt.Errorf("encoding page %d: %w", q.Pages(), err)
		}
		var page bytes.Buffer
		if err := json.Indent(&page, raw, "", "  "); err != nil {
			return fmt.Errorf("encoding page %d: %w", q.Pages(), err)
		}
		fmt.Fprintln(out, page.String())
		if opts.maxPages > 0 && q.Pages() >= opts.maxPages {
			break
		}
	}
	return q.Err()
}

// parseParams turns key=value pairs into Args. A repeated key becomes a
// multi-value parameter.
func parseParams(pairs []string) (params.Args, error) {
	p := params.Args{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", pair)
		}
		switch prev := p[key].(type) {
		case nil:
			p[key] = value
		case string:
			p[key] = []string{prev, value}
		case []string:
			p[key] = append(prev, value)
		}
	}
	return p, nil
}
