package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fieldmap/internal/api"
	"github.com/sells-group/fieldmap/internal/filter"
)

var unvisitedCmd = &cobra.Command{
	Use:   "unvisited",
	Short: "List planned clients that were not visited in a period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := initSession(ctx, cmd, "", false)
		if err != nil {
			return err
		}
		defer s.Close()

		sel := selectionFromFlags(cmd)
		from, to, err := filter.Range(sel, time.Now().In(cfg.Agents.Location()))
		if err != nil {
			return err
		}
		agentID := ""
		if len(sel.AgentIDs) > 0 {
			agentID = sel.AgentIDs[0]
		}

		clients, err := s.API.UnvisitedClients(ctx, api.UnvisitedQuery{From: from, To: to, AgentID: agentID})
		if err != nil {
			return eris.Wrap(err, "unvisited clients")
		}
		if len(clients) == 0 {
			fmt.Fprintln(os.Stderr, "No unvisited clients found.")
			return nil
		}
		formatUnvisited(os.Stdout, clients)
		return nil
	},
}

func init() {
	addFilterFlags(unvisitedCmd)
	rootCmd.AddCommand(unvisitedCmd)
}
