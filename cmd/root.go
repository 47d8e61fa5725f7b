package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aeternum-health/dispatch/app"
	"github.com/aeternum-health/dispatch/config"
	"github.com/aeternum-health/dispatch/infra/logger"
)

var (
	cfgPath   string
	serveAddr string
)

var rootCmd = &cobra.Command{
	Use:          "dispatch",
	Short:        "Emergency call intake and ambulance dispatch",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch API, matcher and location feed",
	RunE:  serve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the yaml or json configuration")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides api.addr")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the command line.
func Execute() error { return rootCmd.Execute() }

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.API.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.New("serve").Errorf("close: %v", cerr)
		}
	}()
	return svc.Run(ctx)
}
