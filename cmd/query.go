package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/csvquery/csvbrowse/internal/config"
	"github.com/csvquery/csvbrowse/internal/metacache"
	"github.com/csvquery/csvbrowse/internal/query"
	"github.com/csvquery/csvbrowse/internal/rowstream"
)

type queryOptions struct {
	page     int
	pageSize int
	search   string
	limit    int
	comma    string
	lazy     bool
}

func init() {
	var opts queryOptions

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run a one-shot query against a local file and print JSON",
	}
	queryCmd.PersistentFlags().StringVar(&opts.comma, "comma", "", "field separator, overrides csv.comma")
	queryCmd.PersistentFlags().BoolVar(&opts.lazy, "lazy-quotes", false, "tolerate bare quotes in fields")

	for _, sub := range []struct {
		use, short string
	}{
		{"describe", "Print the header row and row count"},
		{"rows", "Print one page of rows"},
		{"search", "Print rows containing --search text"},
		{"count", "Print the number of rows, or of rows containing --search text"},
	} {
		action := sub.use
		queryCmd.AddCommand(&cobra.Command{
			Use:   action + " <file>",
			Short: sub.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				ctx, cancel := handleSignals(c.Context())
				defer cancel()
				return runQuery(ctx, c.OutOrStdout(), action, args[0], opts)
			},
		})
	}

	queryCmd.PersistentFlags().IntVar(&opts.page, "page", 1, "page number (rows)")
	queryCmd.PersistentFlags().IntVar(&opts.pageSize, "page-size", 50, "rows per page (rows)")
	queryCmd.PersistentFlags().StringVar(&opts.search, "search", "", "case-insensitive text filter")
	queryCmd.PersistentFlags().IntVar(&opts.limit, "limit", 100, "maximum matches (search)")

	rootCmd.AddCommand(queryCmd)
}

func runQuery(ctx context.Context, out io.Writer, action, path string, opts queryOptions) error {
	logger := setupLogging("csvbrowse-cli", os.Stderr)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	csvCfg := cfg.CSV
	if opts.comma != "" {
		csvCfg.Comma = opts.comma
	}
	if opts.lazy {
		csvCfg.LazyQuotes = true
	}
	readOpts, err := csvCfg.ReaderOptions()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	cache := metacache.New(metacache.Config{})
	defer cache.Close()
	engine := query.NewEngine(rowstream.FileOpener{Dir: filepath.Dir(abs)}, cache,
		query.WithReaderOptions(readOpts),
		query.WithLogger(logger),
	)
	fileID := filepath.Base(abs)

	var result any
	switch action {
	case "describe":
		result, err = engine.Describe(ctx, fileID)
	case "rows":
		var rows []rowstream.Record
		rows, err = engine.GetPage(ctx, fileID, query.Params{Page: opts.page, PageSize: opts.pageSize, Search: opts.search})
		result = map[string]any{"rows": rows, "page": opts.page, "pageSize": opts.pageSize}
	case "search":
		var rows []rowstream.Record
		rows, err = engine.Search(ctx, fileID, opts.search, opts.limit)
		result = map[string]any{"results": rows, "count": len(rows)}
	case "count":
		var n int64
		n, err = engine.CountMatching(ctx, fileID, opts.search)
		result = map[string]any{"count": n}
	default:
		return fmt.Errorf("unknown query action %q", action)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
