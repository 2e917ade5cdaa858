package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/upc-lookup/internal/app"
	"github.com/tphakala/upc-lookup/internal/buildinfo"
	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/lookup"
	"github.com/tphakala/upc-lookup/internal/product"
)

// Command creates the command that enriches every UPC listed in a CSV file.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "batch <file.csv>",
		Short: "Enrich the UPCs listed in a CSV file",
		Long:  "Read the upc column of a CSV file and queue every valid UPC that is not already cached, then wait for the queue to drain.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("error opening %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			parsed, err := product.ReadUPCColumn(f)
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), settings, build)
			if err != nil {
				return err
			}
			deadline := settings.WebServer.ShutdownTimeout
			if deadline <= 0 {
				deadline = conf.DefaultShutdownDeadline
			}
			defer func() { _ = a.Close(deadline) }()
			a.Start(cmd.Context())

			return run(cmd.Context(), a.Service, parsed, !noWait, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return after queueing instead of waiting for jobs to finish")
	return cmd
}

func run(ctx context.Context, svc *lookup.Service, parsed *product.UPCBatch, wait bool, w io.Writer) error {
	toQueue, ignored := svc.SplitCached(ctx, parsed.Valid)
	res := svc.EnqueueBatch(toQueue)

	_, _ = fmt.Fprintf(w, "UPCs in file:       %d\n", parsed.Total)
	_, _ = fmt.Fprintf(w, "queued:             %d\n", res.Queued)
	_, _ = fmt.Fprintf(w, "already processing: %d\n", res.AlreadyProcessing)
	_, _ = fmt.Fprintf(w, "already cached:     %d\n", ignored)
	_, _ = fmt.Fprintf(w, "invalid:            %d\n", parsed.Invalid)
	if res.Rejected > 0 {
		_, _ = fmt.Fprintf(w, "rejected:           %d\n", res.Rejected)
	}

	if !wait || res.Queued == 0 {
		return nil
	}

	start := time.Now()
	if err := svc.Wait(ctx); err != nil {
		return err
	}
	stats := svc.QueueStats()
	_, _ = fmt.Fprintf(w, "completed %d, failed %d in %s\n", stats.Completed, stats.Failed, time.Since(start).Truncate(time.Millisecond))
	return nil
}
