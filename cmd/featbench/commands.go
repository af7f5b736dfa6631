package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/featbench/internal/bench"
	"github.com/ironsheep/featbench/internal/config"
	"github.com/ironsheep/featbench/internal/httpapi"
	"github.com/ironsheep/featbench/internal/logging"
	"github.com/ironsheep/featbench/internal/server"
	"github.com/ironsheep/featbench/internal/suite"
	"github.com/ironsheep/featbench/internal/watch"
)

type rootFlags struct {
	configPath string
	dataset    string
	suite      string
	logLevel   string
	logFormat  string
	noStore    bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:          "featbench",
		Short:        "Compute and cache feature detector results over an image dataset",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return f.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "config file (default: $FEATBENCH_CONFIG or ./featbench.yaml)")
	pf.StringVarP(&f.dataset, "dataset", "d", "", "dataset directory")
	pf.StringVarP(&f.suite, "suite", "s", "", "detector suite file")
	pf.StringVar(&f.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, disabled)")
	pf.StringVar(&f.logFormat, "log-format", "", "log format (json, console)")
	pf.BoolVar(&f.noStore, "no-store", false, "disable the persistent result store")

	root.AddCommand(
		newRunCmd(f),
		newServeCmd(f),
		newWatchCmd(f),
		newDetectorsCmd(),
		newStoreCmd(f),
		newVersionCmd(),
	)
	return root
}

// load layers configuration and applies command line overrides.
func (f *rootFlags) load(cmd *cobra.Command) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.dataset != "" {
		cfg.Dataset.Path = f.dataset
	}
	if f.suite != "" {
		cfg.Suite.Path = f.suite
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if f.noStore {
		cfg.Store.Enabled = false
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	f.cfg = cfg
	return nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// ignoreCanceled treats shutdown by signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newRunCmd(f *rootFlags) *cobra.Command {
	var (
		asJSON      bool
		failOnError bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one computation pass and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(f.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.cache.ComputeAll(ctx)
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), report, a.cache.Entries(), asJSON); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if failOnError && !report.OK() {
				return errFailures
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero if any detector failed")
	return cmd
}

func newServeCmd(f *rootFlags) *cobra.Command {
	var withHTTP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache over MCP on stdio",
		Long: `Serve the cache over the MCP protocol on stdin/stdout.

Logs go to stderr. With --http the HTTP API and Prometheus metrics are
served on http.addr as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(f.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(a.cache, server.WithSuiteLoader(a.loadSuite), server.WithVersion(Version))

			g, gctx := errgroup.WithContext(ctx)
			serveCtx, cancelServe := context.WithCancel(gctx)
			defer cancelServe()
			g.Go(func() error {
				defer cancelServe()
				return srv.Serve(serveCtx, cmd.InOrStdin(), cmd.OutOrStdout())
			})
			if withHTTP {
				g.Go(func() error {
					return httpapi.New(a.cache).ListenAndServe(serveCtx, f.cfg.HTTP.Addr)
				})
			}
			return ignoreCanceled(g.Wait())
		},
	}
	cmd.Flags().BoolVar(&withHTTP, "http", false, "also serve the HTTP API and metrics")
	return cmd
}

func newWatchCmd(f *rootFlags) *cobra.Command {
	var withHTTP bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Recompute whenever the dataset or the suite changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(f.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			w, err := watch.New(a.cache, watch.Config{
				DatasetDir: a.dataset.Root(),
				SuitePath:  f.cfg.Suite.Path,
				Loader:     a.loadSuite,
				Debounce:   f.cfg.Watch.Debounce,
				OnReport: func(r *bench.Report) {
					_ = printReport(out, r, a.cache.Entries(), false)
				},
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return w.Run(gctx) })
			if withHTTP {
				g.Go(func() error {
					return httpapi.New(a.cache).ListenAndServe(gctx, f.cfg.HTTP.Addr)
				})
			}
			return ignoreCanceled(g.Wait())
		},
	}
	cmd.Flags().BoolVar(&withHTTP, "http", false, "also serve the HTTP API and metrics")
	return cmd
}

func newDetectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detectors",
		Short: "List the detector types a suite can use",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range suite.DefaultRegistry().Types() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newStoreCmd(f *rootFlags) *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect or clear the persistent result store",
	}
	storeCmd.AddCommand(
		&cobra.Command{
			Use:   "count",
			Short: "Print the number of stored result sets",
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openStore(f.cfg.Store)
				if err != nil {
					return err
				}
				defer s.Close()
				n, err := s.Count()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "purge [detector]",
			Short: "Delete stored results of one detector, or of all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openStore(f.cfg.Store)
				if err != nil {
					return err
				}
				defer s.Close()
				detector := ""
				if len(args) == 1 {
					detector = args[0]
				}
				n, err := s.Purge(cmd.Context(), detector)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d result sets\n", n)
				return nil
			},
		},
	)
	return storeCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "featbench %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}

// printReport writes report as indented JSON or as a table of entries.
func printReport(w io.Writer, report *bench.Report, entries []bench.EntryInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*bench.Report
			Detectors []bench.EntryInfo `json:"detectors"`
		}{report, entries})
	}

	status := make(map[string]string, len(entries))
	for _, n := range report.CacheHits {
		status[n] = "cached"
	}
	for _, n := range report.Restored {
		status[n] = "restored"
	}
	for _, n := range report.Recomputed {
		status[n] = "computed"
	}
	for _, f := range report.Failures {
		status[f.Detector] = "FAILED: " + f.Message
	}

	fmt.Fprintf(w, "dataset %s (%d inputs, signature %s", report.Dataset, report.Inputs, report.DatasetSignature.Short())
	if report.DatasetReloaded {
		fmt.Fprint(w, ", reloaded")
	}
	fmt.Fprintf(w, ") in %s\n", report.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DETECTOR\tFRAMES\tDESC\tSIGNATURE\tSTATUS")
	for _, e := range entries {
		desc := "-"
		if e.DescriptorDim > 0 {
			desc = fmt.Sprint(e.DescriptorDim)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Name, e.Frames, desc, e.Signature.Short(), strings.TrimSpace(status[e.Name]))
	}
	return tw.Flush()
}
