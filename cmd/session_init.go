package main

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fieldmap/internal/filter"
	"github.com/sells-group/fieldmap/internal/session"
)

// initSession validates the config and builds a session. When load is true
// the dataset for the command's filter flags is fetched and drawn. Callers
// should defer s.Close().
func initSession(ctx context.Context, cmd *cobra.Command, mode string, load bool) (*session.Session, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	s, err := session.New(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "init session")
	}
	if !load {
		return s, nil
	}
	if _, err := s.Load(ctx, selectionFromFlags(cmd)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// addFilterFlags registers the period and agent filter flags.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("periodo", string(filter.PeriodToday), "period: hoy, ayer, esta_semana, semana_pasada, este_mes, mes_pasado, fecha_especifica, rango_fechas")
	cmd.Flags().String("fecha", "", "date for fecha_especifica (YYYY-MM-DD)")
	cmd.Flags().String("desde", "", "range start for rango_fechas (YYYY-MM-DD)")
	cmd.Flags().String("hasta", "", "range end for rango_fechas (YYYY-MM-DD)")
	cmd.Flags().String("vendedor", filter.AllAgents, "agent name")
	cmd.Flags().String("vendedor-ids", "", "comma-separated agent ids (overrides --vendedor)")
}

// selectionFromFlags reads the filter flags registered by addFilterFlags.
func selectionFromFlags(cmd *cobra.Command) filter.Selection {
	period, _ := cmd.Flags().GetString("periodo")
	date, _ := cmd.Flags().GetString("fecha")
	from, _ := cmd.Flags().GetString("desde")
	to, _ := cmd.Flags().GetString("hasta")
	agent, _ := cmd.Flags().GetString("vendedor")
	ids, _ := cmd.Flags().GetString("vendedor-ids")

	return filter.Selection{
		Period:   filter.Period(period),
		Date:     date,
		From:     from,
		To:       to,
		Agent:    agent,
		AgentIDs: filter.SplitIDs(ids),
	}
}

// writeOutput encodes v as indented JSON or YAML.
func writeOutput(out io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unknown output format %q (json or yaml)", format)
	}
}
