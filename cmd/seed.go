package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zapbi/zapbi/internal/bootstrap"
	"github.com/zapbi/zapbi/internal/store/pg"
)

func seedCmd() *cobra.Command {
	opts := bootstrap.DefaultSeedOptions()
	tenant := opts.TenantID.String()

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Provision demo data for local development",
		Long:  "Writes a sample config file if none exists and inserts a demo channel instance, authorized contact, dataset binding and model doc. Existing rows are never overwritten.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tid, err := uuid.Parse(tenant)
			if err != nil {
				return fmt.Errorf("invalid tenant UUID: %w", err)
			}
			opts.TenantID = tid

			path := resolveConfigPath()
			if wrote, err := bootstrap.EnsureConfigFile(path); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			} else if wrote {
				fmt.Printf("created %s\n", path)
			}

			dsn, err := resolveDSN()
			if err != nil {
				return err
			}
			db, err := pg.OpenDB(dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			created, err := bootstrap.SeedDemo(ctx, db, opts)
			for _, c := range created {
				fmt.Printf("created %s\n", c)
			}
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Println("nothing to do, demo rows already present")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Phone, "phone", opts.Phone, "phone to authorize")
	cmd.Flags().StringVar(&tenant, "tenant", tenant, "tenant UUID")
	cmd.Flags().StringVar(&opts.InstanceName, "instance", opts.InstanceName, "channel instance name")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", opts.Endpoint, "messaging gateway base URL")
	return cmd
}
