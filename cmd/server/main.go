package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastql/server/internal/infrastructure/config"
	"github.com/fastql/server/internal/infrastructure/logging"
	"github.com/fastql/server/internal/server"
	"github.com/fastql/server/internal/version"
)

const shutdownTimeout = 15 * time.Second

var (
	envFile string
	port    string
	host    string
	dev     bool
)

var rootCmd = &cobra.Command{
	Use:   "fastql",
	Short: "Browser terminal for Oracle SQLcl",
	Long: `fastql serves a browser terminal bound to a SQLcl process per
connection. Toolbar commands such as SPOOL and START get their filesystem
side effects applied before the line reaches SQLcl.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Version)
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	rootCmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides PORT)")
	rootCmd.Flags().StringVar(&host, "host", "", "bind host (overrides HOST)")
	rootCmd.Flags().BoolVar(&dev, "dev", false, "development logging (overrides LOG_DEV)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	applyFlags(cmd)

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	logger.Info("Starting FaStQL", zap.String("version", version.Version))

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Prepare(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	return nil
}

// applyFlags copies explicitly set flags into the environment so they win
// over both the dotenv file and inherited variables.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		os.Setenv("PORT", port)
	}
	if flags.Changed("host") {
		os.Setenv("HOST", host)
	}
	if flags.Changed("dev") {
		os.Setenv("LOG_DEV", fmt.Sprint(dev))
	}
}
