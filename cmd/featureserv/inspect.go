package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/koustreak/featureserv/internal/database/postgres"
	"github.com/koustreak/featureserv/internal/metadata"
	"github.com/koustreak/featureserv/internal/service"
)

func newInspectCmd(configPath *string) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "inspect <schema|schema.table> [layer]",
		Short: "Print the service or layer document a client would see",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			layer := ""
			if len(args) == 2 {
				layer = args[1]
			}
			return inspect(cmd.Context(), cmd.OutOrStdout(), *configPath, args[0], layer, metadata.ServerKind(kind))
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(metadata.FeatureServer), "FeatureServer or MapServer")
	return cmd
}

func inspect(ctx context.Context, out io.Writer, configPath, id, layer string, kind metadata.ServerKind) error {
	if kind != metadata.FeatureServer && kind != metadata.MapServer {
		return fmt.Errorf("unknown service kind %q", kind)
	}
	cfg, _, err := setup(configPath)
	if err != nil {
		return err
	}
	target, err := service.ParseTarget(id)
	if err != nil {
		return err
	}

	pools := postgres.NewRegistry()
	defer pools.Close()
	db, err := pools.Get(ctx, databaseConfig(cfg))
	if err != nil {
		return err
	}
	svc := service.New(db, cfg.Service)

	var doc any
	if layer == "" {
		doc, err = svc.ServiceInfo(ctx, target, kind)
	} else {
		doc, err = svc.LayerInfo(ctx, target, kind, layer)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
