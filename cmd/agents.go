package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents and their last known positions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initSession(ctx, cmd, "", false)
		if err != nil {
			return err
		}
		defer s.Close()

		if roster, _ := cmd.Flags().GetBool("roster"); roster {
			agents, err := s.API.Agents(ctx)
			if err != nil {
				return eris.Wrap(err, "agents roster")
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tVENDEDOR")
			for _, a := range agents {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", a.ID, a.FullName)
			}
			return w.Flush()
		}

		positions, err := s.API.AgentPositions(ctx)
		if err != nil {
			return eris.Wrap(err, "agents positions")
		}
		if len(positions) == 0 {
			fmt.Fprintln(os.Stderr, "No agent positions found.")
			return nil
		}
		formatAgents(os.Stdout, positions, time.Now().In(cfg.Agents.Location()))
		return nil
	},
}

func init() {
	agentsCmd.Flags().Bool("roster", false, "list the agent roster instead of positions")
	rootCmd.AddCommand(agentsCmd)
}
