package cli

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fkmap/internal/config"
	"fkmap/internal/export"
	"fkmap/internal/grpcserver"
	"fkmap/internal/pipeline"
	"fkmap/internal/storage"
)

// NewRootCmd creates the root Cobra command. pipe may be any job queue; main
// passes a *pipeline.Pipeline.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe pipelineClient) *cobra.Command {
	return newCommand(NewRoot(pipe, cfg, log, store))
}

func newCommand(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fkmap",
		Short: "fkmap builds a spatial-variation map over Gray-Scott parameter runs",
		Long: `fkmap scans a directory of Gray-Scott simulation GIFs, computes a spatial
variation score per run, caches the resulting (f, k, variation) table and
exports it for plotting and interactive exploration.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newBuildCmd(root))
	rootCmd.AddCommand(newExportCmd(root))
	rootCmd.AddCommand(newNearestCmd(root))
	rootCmd.AddCommand(newResizeCmd(root))
	rootCmd.AddCommand(newPlotCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newBuildCmd(root *Root) *cobra.Command {
	var (
		noCache   bool
		refresh   bool
		cachePath string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "build [image_directory]",
		Short: "Build or load the (f, k, variation) table",
		Long: `Scan the image directory, compute the spatial variation of every matching
GIF and store the table in the cache artifact. An existing artifact is reused
unless --refresh is given; --no-cache neither reads nor writes it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				Type:    pipeline.JobBuild,
				Options: map[string]any{"refresh": refresh, "source": "cli"},
			}
			if noCache {
				job.Options["useCache"] = false
			}
			if len(args) > 0 {
				job.InputPath = args[0]
			}
			if cachePath != "" {
				job.Options["cache"] = cachePath
			}
			if workers > 0 {
				job.Options["workers"] = workers
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			printMeta(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore the cache artifact entirely")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "rebuild even when the cache artifact exists")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache artifact path (default from config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "metric workers (default from config)")
	return cmd
}

func newExportCmd(root *Root) *cobra.Command {
	var (
		formats []string
		shape   string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the table as CSV, JSON, Wolfram Language or web data",
		Long: `Write the table in one or more formats. Without --output each format goes
to its default file name under paths.output_dir.

Examples:
  fkmap export --format csv
  fkmap export --format wl --shape list -o fk.wl
  fkmap export --format csv --format json --format web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(formats) == 0 {
				formats = []string{string(export.FormatCSV)}
			}
			if output != "" && len(formats) > 1 {
				return fmt.Errorf("--output needs exactly one --format, got %d", len(formats))
			}
			for _, name := range formats {
				format, err := export.ParseFormat(name)
				if err != nil {
					return err
				}
				job := pipeline.Job{
					Type:    pipeline.JobExport,
					Output:  output,
					Options: map[string]any{"format": string(format), "source": "cli"},
				}
				if shape != "" {
					job.Options["shape"] = shape
				}
				res, err := root.enqueueAndWait(cmd.Context(), job)
				if err != nil {
					return fmt.Errorf("export %s: %w", format, err)
				}
				printMeta(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&formats, "format", nil, "output format (csv|json|wl|web), repeatable")
	cmd.Flags().StringVar(&shape, "shape", "", "Wolfram output shape (list|association)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}

func newNearestCmd(root *Root) *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "nearest <f> <k>",
		Short: "Print the run closest to a parameter point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid f %q: %w", args[0], err)
			}
			k, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid k %q: %w", args[1], err)
			}

			if remote != "" {
				c, err := grpcserver.Dial(remote)
				if err != nil {
					return err
				}
				defer c.Close()
				_, row, err := c.Nearest(cmd.Context(), f, k)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), row.Path)
				return nil
			}

			ds, _, err := root.loadServed(cmd.Context())
			if err != nil {
				return err
			}
			path, ok := ds.Nearest(f, k)
			if !ok {
				return fmt.Errorf("dataset is empty")
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "query a running gRPC server at this address")
	return cmd
}

func newResizeCmd(root *Root) *cobra.Command {
	var (
		output    string
		size      int
		frames    int
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "resize [image_directory]",
		Short: "Downsample GIFs for web preview",
		Long: `Write a smaller copy of every GIF in the directory: frames are scaled to
--size square and every n-th frame is kept so at most --frames remain.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				Type:    pipeline.JobResize,
				Output:  output,
				Options: map[string]any{"overwrite": overwrite, "source": "cli"},
			}
			if len(args) > 0 {
				job.InputPath = args[0]
			}
			if size > 0 {
				job.Options["width"] = size
				job.Options["height"] = size
			}
			if frames > 0 {
				job.Options["frames"] = frames
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			printMeta(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	cmd.Flags().IntVar(&size, "size", 0, "output width and height in pixels")
	cmd.Flags().IntVar(&frames, "frames", 0, "maximum frames kept")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing outputs")
	return cmd
}

func newPlotCmd(root *Root) *cobra.Command {
	var (
		output        string
		width, height int
	)

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render the variation map as a PNG scatter plot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{Type: pipeline.JobPlot, Output: output, Options: map[string]any{"source": "cli"}}
			if width > 0 {
				job.Options["width"] = width
			}
			if height > 0 {
				job.Options["height"] = height
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			printMeta(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output PNG")
	cmd.Flags().IntVar(&width, "width", 0, "image width")
	cmd.Flags().IntVar(&height, "height", 0, "image height")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the table over HTTP and gRPC",
		Long: `Load the table and serve lookups, exports and job submission over HTTP,
with nearest-neighbor lookup also available over gRPC. With --watch the cache
artifact is reloaded whenever it is rewritten and websocket clients on /ws are
notified.

Examples:
  fkmap serve --addr :8080
  fkmap serve --addr :8080 --grpc-addr :9090 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server", "addr", opts.addr, "grpc_addr", opts.grpcAddr, "watch", opts.watch)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", root.cfg.Server.Addr, "HTTP listen address")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC listen address, empty to disable")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "reload the cache artifact when it changes")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "no jobs recorded")
				return nil
			}
			for _, rec := range recs {
				line := fmt.Sprintf("%s  %-7s %-9s %s", rec.ID, rec.JobType, rec.Status, humanize.Time(rec.CreatedAt))
				if rec.CompletedAt != nil && rec.StartedAt != nil {
					line += fmt.Sprintf("  took %s", rec.CompletedAt.Sub(*rec.StartedAt).Round(time.Millisecond))
				}
				if rec.Error != "" {
					line += "  error: " + rec.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show")
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fkmap %s (%s, decoder %s)\n", Version, runtime.Version(), root.cfg.Processing.Decoder)
		},
	}
}
