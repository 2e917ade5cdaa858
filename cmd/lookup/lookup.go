package lookup

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/upc-lookup/internal/app"
	"github.com/tphakala/upc-lookup/internal/buildinfo"
	"github.com/tphakala/upc-lookup/internal/conf"
	"github.com/tphakala/upc-lookup/internal/lookup"
	"github.com/tphakala/upc-lookup/internal/product"
)

type output struct {
	*product.Record
	Cached bool `json:"cached"`
}

// Command creates the command that resolves a single UPC from the shell.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var cacheOnly bool

	cmd := &cobra.Command{
		Use:   "lookup <upc>",
		Short: "Look up a single UPC",
		Long:  "Resolve a UPC through the cache, fetching it upstream and storing its images on a miss. The record is printed as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upc, err := product.NormalizeUPC(args[0])
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), settings, build)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(5 * time.Second) }()

			return run(cmd.Context(), a.Service, upc, cacheOnly, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&cacheOnly, "cache-only", false, "Only consult the cache, never the upstream API")
	return cmd
}

func run(ctx context.Context, svc *lookup.Service, upc string, cacheOnly bool, w io.Writer) error {
	var out output
	if cacheOnly {
		rec, err := svc.CachedRecord(ctx, upc)
		if err != nil {
			return err
		}
		out = output{Record: rec, Cached: true}
	} else {
		res, err := svc.Lookup(ctx, upc)
		if err != nil {
			return err
		}
		out = output{Record: res.Record, Cached: res.Cached}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
