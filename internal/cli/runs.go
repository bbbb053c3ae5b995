package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txexport/internal/core/domain"
	"github.com/vietddude/txexport/internal/infra/storage/postgres"
)

var (
	runsAddress string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent export runs recorded in Postgres",
	Run:   runRuns,
}

func init() {
	runsCmd.Flags().StringVarP(&runsAddress, "address", "a", "", "only show runs of this wallet")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("database.url is not configured")
		os.Exit(1)
	}

	address := ""
	if runsAddress != "" {
		var err error
		address, err = domain.NormalizeAddress(runsAddress)
		if err != nil {
			slog.Error("Invalid address", "error", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	runs, err := postgres.NewExportRepo(db).ListRuns(ctx, address, runsLimit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tADDRESS\tSTATUS\tBATCHES\tRECORDS\tSTARTED\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Address, r.Status, r.Batches, r.Records,
			r.StartedAt.Format(time.RFC3339), r.Error.String)
	}
	_ = w.Flush()
}
