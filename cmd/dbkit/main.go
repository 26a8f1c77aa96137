package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tordrt/dbkit"
	"github.com/tordrt/dbkit/internal/formatter"
	"github.com/tordrt/dbkit/internal/logger"
	"github.com/tordrt/dbkit/internal/query"
	"github.com/tordrt/dbkit/internal/schema"
)

type rootOptions struct {
	dbURL       string
	configPath  string
	verbose     bool
	exclude     []string
	metricsFile string
}

// openDB connects with the root options. Tests replace it.
var openDB = func(o *rootOptions) (*dbkit.DB, error) {
	opts := &dbkit.Options{}
	if o.verbose || o.configPath == "" {
		opts.Logger = logger.NewLogger(o.verbose)
	}
	if o.configPath != "" {
		return dbkit.OpenConfig(o.configPath, opts)
	}
	return dbkit.OpenURL(o.dbURL, opts)
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "dbkit",
		Short:        "Inspect and reconcile database schemas",
		Long:         `dbkit lists and describes the tables of a MySQL, PostgreSQL or SQLite database and creates or alters tables to match YAML schema definitions.`,
		SilenceUsage: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return writeMetrics(o.metricsFile)
		},
	}

	cmd.PersistentFlags().StringVar(&o.dbURL, "db-url", "", "Database URL (postgres://, mysql:// or sqlite://)")
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "Log debug output")
	cmd.PersistentFlags().StringSliceVarP(&o.exclude, "exclude", "x", nil, "Tables to leave out (comma-separated)")
	cmd.PersistentFlags().StringVar(&o.metricsFile, "metrics-file", "", "Write statement metrics to this file when done")

	cmd.AddCommand(newCreateCmd(o), newTablesCmd(o), newDescribeCmd(o), newReconcileCmd(o))
	return cmd
}

func newCreateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, o, func(ctx context.Context, d *dbkit.DB) error {
				if err := d.CreateDatabase(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), d.Handle().Message())
				return nil
			})
		},
	}
}

func newTablesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tables [pattern]",
		Short: "List the tables matching a LIKE pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return withDB(cmd, o, func(ctx context.Context, d *dbkit.DB) error {
				names, err := d.Tables(ctx, pattern)
				if err != nil {
					return fmt.Errorf("failed to list tables: %w", err)
				}
				for _, name := range filterExcluded(names, o.exclude) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

type describeOptions struct {
	output         string
	outputDir      string
	format         string
	splitThreshold int
}

func newDescribeCmd(o *rootOptions) *cobra.Command {
	do := &describeOptions{}
	cmd := &cobra.Command{
		Use:   "describe [table...]",
		Short: "Describe tables, all of them when none are named",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(formatter.Formats, do.format) {
				return fmt.Errorf("invalid format: %s (must be 'text' or 'markdown')", do.format)
			}
			if do.outputDir != "" && do.output != "" {
				return fmt.Errorf("cannot use both --output-dir and --output flags")
			}
			return withDB(cmd, o, func(ctx context.Context, d *dbkit.DB) error {
				return describe(ctx, cmd.OutOrStdout(), d, args, o, do)
			})
		},
	}

	cmd.Flags().StringVarP(&do.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&do.outputDir, "output-dir", "d", "", "Output directory for multi-file output")
	cmd.Flags().StringVarP(&do.format, "format", "f", "text", "Output format: text or markdown")
	cmd.Flags().IntVar(&do.splitThreshold, "split-threshold", 0, "Split into multiple files when table count exceeds this (requires --output-dir)")
	return cmd
}

func describe(ctx context.Context, out io.Writer, d *dbkit.DB, tables []string, o *rootOptions, do *describeOptions) error {
	if len(tables) == 0 {
		var err error
		if tables, err = d.Tables(ctx, ""); err != nil {
			return fmt.Errorf("failed to list tables: %w", err)
		}
	}
	defs, err := d.Describe(ctx, filterExcluded(tables, o.exclude)...)
	if err != nil {
		return fmt.Errorf("failed to describe tables: %w", err)
	}

	if do.outputDir != "" && (do.splitThreshold == 0 || len(defs) > do.splitThreshold) {
		if err := formatter.NewMultiFileFormatter(do.outputDir, do.format).Format(defs); err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		return nil
	}

	if do.output != "" {
		f, err := os.Create(do.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	if do.format == "markdown" {
		err = formatter.NewMarkdownFormatter(out).Format(defs)
	} else {
		err = formatter.NewTextFormatter(out).Format(defs)
	}
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}

type diffFormatter interface {
	FormatDiff(table string, d schema.Diff) error
}

func newReconcileCmd(o *rootOptions) *cobra.Command {
	var (
		allowDrops bool
		dryRun     bool
		format     string
	)
	cmd := &cobra.Command{
		Use:   "reconcile <schema.yaml>...",
		Short: "Create or alter tables to match their definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var defs []*dbkit.Definition
			for _, path := range args {
				loaded, err := dbkit.LoadSchemaFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				defs = append(defs, loaded...)
			}

			out := cmd.OutOrStdout()
			return withDB(cmd, o, func(ctx context.Context, d *dbkit.DB) error {
				if dryRun {
					var f diffFormatter = formatter.NewTextFormatter(out)
					if format == "markdown" {
						f = formatter.NewMarkdownFormatter(out)
					}
					changes, err := d.Plan(ctx, defs)
					for _, c := range changes {
						_ = f.FormatDiff(c.Table, c.Diff)
					}
					if err != nil {
						return fmt.Errorf("failed to plan schema changes: %w", err)
					}
					return nil
				}

				changes, err := d.Reconcile(ctx, defs, allowDrops)
				for _, c := range changes {
					_, _ = fmt.Fprintf(out, "%s: %s, %s\n", c.Table, c.Outcome, c.Message)
				}
				if err != nil {
					return fmt.Errorf("failed to reconcile schema: %w", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&allowDrops, "drops", false, "Drop columns and indexes that are not declared")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the changes without applying them")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Dry run output format: text or markdown")
	return cmd
}

func withDB(cmd *cobra.Command, o *rootOptions, fn func(context.Context, *dbkit.DB) error) error {
	switch {
	case o.dbURL == "" && o.configPath == "":
		return fmt.Errorf("one of --db-url or --config must be specified")
	case o.dbURL != "" && o.configPath != "":
		return fmt.Errorf("only one of --db-url or --config can be specified")
	}

	d, err := openDB(o)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := d.Close(ctx); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to close database connection: %v\n", err)
		}
	}()
	return fn(ctx, d)
}

func writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	query.MustRegisterMetrics(reg)
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func filterExcluded(tables, excludeList []string) []string {
	if len(excludeList) == 0 {
		return tables
	}

	excludeSet := make(map[string]bool)
	for _, name := range excludeList {
		excludeSet[strings.TrimSpace(name)] = true
	}

	filtered := make([]string, 0, len(tables))
	for _, table := range tables {
		if !excludeSet[table] {
			filtered = append(filtered, table)
		}
	}
	return filtered
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
