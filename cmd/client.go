package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/fieldmap/internal/format"
	"github.com/sells-group/fieldmap/internal/model"
)

var clientCmd = &cobra.Command{
	Use:   "client <route-detail-id>",
	Short: "Show the sales detail of one client visit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := initSession(ctx, cmd, "", true)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := s.ClientDetail(ctx, model.ID(args[0]))
		if err != nil {
			return err
		}
		for _, line := range p.Lines(format.Default()) {
			_, _ = fmt.Fprintln(os.Stdout, line)
		}
		return nil
	},
}

func init() {
	addFilterFlags(clientCmd)
	rootCmd.AddCommand(clientCmd)
}
