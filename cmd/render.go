package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/fieldmap/internal/model"
	"github.com/sells-group/fieldmap/internal/reconcile"
	"github.com/sells-group/fieldmap/internal/surface"
)

// renderReport is what render prints: the pass that drew the map and the
// resulting surface.
type renderReport struct {
	Pass    reconcile.PassStats `json:"pass" yaml:"pass"`
	Stats   model.MapStats      `json:"estadisticas_mapa" yaml:"estadisticas_mapa"`
	Surface surface.Snapshot    `json:"surface" yaml:"surface"`
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Draw the filtered dataset and print the map surface",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initSession(ctx, cmd, "", false)
		if err != nil {
			return err
		}
		defer s.Close()

		pass, err := s.Load(ctx, selectionFromFlags(cmd))
		if err != nil {
			return err
		}

		snap, err := s.Map.Snapshot()
		if err != nil {
			return err
		}
		if withSources, _ := cmd.Flags().GetBool("sources"); !withSources {
			snap.Sources = map[string]json.RawMessage{}
		}

		format, _ := cmd.Flags().GetString("format")
		return writeOutput(os.Stdout, format, renderReport{
			Pass:    pass,
			Stats:   s.Dataset().Stats,
			Surface: snap,
		})
	},
}

func init() {
	addFilterFlags(renderCmd)
	renderCmd.Flags().String("format", "json", "output format: json or yaml")
	renderCmd.Flags().Bool("sources", false, "include source GeoJSON (json output only)")
	rootCmd.AddCommand(renderCmd)
}
