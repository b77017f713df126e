// Command checkoutd serves the checkout API and runs the reconciliation
// sweeps that keep checkout sessions moving.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var envFiles []string
	rootCmd := &cobra.Command{
		Use:           "checkoutd",
		Short:         "Checkout and subscription provisioning service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files loaded before reading the environment")

	rootCmd.AddCommand(serveCmd(&envFiles))
	rootCmd.AddCommand(migrateCmd(&envFiles))
	rootCmd.AddCommand(sweepCmd(&envFiles))
	rootCmd.AddCommand(plansCmd(&envFiles))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
