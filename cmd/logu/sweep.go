package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tresgarza/log-u/internal/database"
	"github.com/tresgarza/log-u/internal/service"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark overdue active QR codes as expired",
	Long: `Sweep moves every active QR code past its expiration to expired.
Reads and scans already expire codes lazily; the sweep only keeps stored
state and reports current.`,
	RunE: runSweep,
}

var sweepEvery time.Duration

func init() {
	sweepCmd.Flags().DurationVar(&sweepEvery, "every", 0, "Repeat the sweep at this interval until interrupted (0 runs once)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	db, err := database.NewDB(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	svc := service.New(db.Conn, service.WithLogger(logger))
	if sweepEvery <= 0 {
		n, err := svc.ExpireOverdue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d QR codes\n", n)
		return nil
	}

	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		if _, err := svc.ExpireOverdue(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
