package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fieldmap/internal/events"
	"github.com/sells-group/fieldmap/internal/format"
	"github.com/sells-group/fieldmap/internal/model"
)

var topProductsCmd = &cobra.Command{
	Use:   "top-products",
	Short: "Rank the products sold in a zone or on a route",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		zone, _ := cmd.Flags().GetString("zona")
		route, _ := cmd.Flags().GetString("ruta")
		if (zone == "") == (route == "") {
			return eris.New("top-products: exactly one of --zona or --ruta is required")
		}

		s, err := initSession(ctx, cmd, "", true)
		if err != nil {
			return err
		}
		defer s.Close()

		var res events.TopProductsReady
		if zone != "" {
			res, err = s.ZoneProducts(ctx, model.ID(zone), zone)
		} else {
			res, err = s.RouteProducts(ctx, model.ID(route))
		}
		if err != nil {
			return err
		}

		if out, _ := cmd.Flags().GetString("format"); out != "" && out != "table" {
			return writeOutput(os.Stdout, out, res)
		}
		formatTopProducts(os.Stdout, format.Default(), res)
		return nil
	},
}

func init() {
	addFilterFlags(topProductsCmd)
	topProductsCmd.Flags().String("zona", "", "zone id, code or name")
	topProductsCmd.Flags().String("ruta", "", "route id")
	topProductsCmd.Flags().String("format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(topProductsCmd)
}
