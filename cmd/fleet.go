package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aeternum-health/dispatch/app"
	"github.com/aeternum-health/dispatch/config"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/registry"
)

var fleetStatus string

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet related commands",
}

var fleetLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered ambulances",
	RunE:  runFleetLs,
}

var fleetImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Register ambulances from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFleetImport,
}

func init() {
	fleetLsCmd.Flags().StringVar(&fleetStatus, "status", "", "only list ambulances in this status")
	fleetCmd.AddCommand(fleetLsCmd, fleetImportCmd)
	rootCmd.AddCommand(fleetCmd)
}

func openRegistry(ctx context.Context) (registry.Registry, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Backend != config.StoragePostgres {
		return nil, nil, fmt.Errorf("fleet commands need the postgres storage backend")
	}
	reg, _, pool, err := app.Stores(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return reg, pool.Close, nil
}

func runFleetLs(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	reg, closeFn, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	fleet, err := reg.List(ctx, registry.Filter{Status: model.AmbulanceStatus(fleetStatus)})
	if err != nil {
		return err
	}
	return printFleet(cmd.OutOrStdout(), fleet)
}

func printFleet(w io.Writer, fleet []model.Ambulance) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVEHICLE\tKIND\tSTATUS\tCALL\tLOCATION")
	for _, a := range fleet {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.VehicleNumber, a.Kind, a.Status, a.CurrentCallID, a.Location.Coordinates)
	}
	return tw.Flush()
}

// readFleet decodes a list of ambulances; the format follows the extension.
func readFleet(path string) ([]model.Ambulance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fleet []model.Ambulance
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fleet)
	case ".json":
		err = json.Unmarshal(data, &fleet)
	default:
		return nil, fmt.Errorf("unsupported fleet format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return fleet, nil
}

func importFleet(ctx context.Context, reg registry.Registry, fleet []model.Ambulance, w io.Writer) error {
	var errs []error
	for _, a := range fleet {
		created, err := reg.Register(ctx, a)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.ID, err))
			continue
		}
		fmt.Fprintf(w, "registered %s (%s)\n", created.ID, created.VehicleNumber)
	}
	return errors.Join(errs...)
}

func runFleetImport(cmd *cobra.Command, args []string) error {
	fleet, err := readFleet(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	reg, closeFn, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return importFleet(ctx, reg, fleet, cmd.OutOrStdout())
}
