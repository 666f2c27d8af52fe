package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/fieldmap/internal/format"
	"github.com/sells-group/fieldmap/internal/model"
)

var playbackCmd = &cobra.Command{
	Use:   "playback <route-id>",
	Short: "Replay a route's visits stop by stop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := initSession(ctx, cmd, "", true)
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := s.OpenRoute(ctx, model.ID(args[0]))
		if err != nil {
			return err
		}
		defer s.Playback.Close()

		steps, _ := cmd.Flags().GetInt("steps")
		f := format.Default()
		formatStop(os.Stdout, f, v)
		for i := 1; v.CanNext && (steps <= 0 || i < steps); i++ {
			if v, err = s.Playback.Next(ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout)
			formatStop(os.Stdout, f, v)
		}
		return nil
	},
}

func init() {
	addFilterFlags(playbackCmd)
	playbackCmd.Flags().Int("steps", 0, "max stops to print (0 = all)")
	rootCmd.AddCommand(playbackCmd)
}
