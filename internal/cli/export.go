package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/txexport/internal/control"
)

var exportAddress string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the transfer history of a wallet to CSV",
	Run:   runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportAddress, "address", "a", "", "wallet address (0x...)")
	_ = exportCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewApp(ctx, control.FromAppConfig(cfg))
	if err != nil {
		slog.Error("Failed to initialize exporter", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Received signal, shutting down...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	app.Start(ctx)
	_, runErr := app.Run(ctx, exportAddress)
	interrupted := runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() != nil

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	shutdownErr := app.Shutdown(shutdownCtx)

	if runErr != nil && !interrupted {
		slog.Error("Export failed", "address", exportAddress, "error", runErr)
		os.Exit(1)
	}
	if shutdownErr != nil {
		slog.Error("Error during shutdown", "error", shutdownErr)
		os.Exit(1)
	}
	if interrupted {
		slog.Info("Export interrupted, buffered results flushed")
	}
}
