package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"trustroom/internal/config"
	"trustroom/internal/db"
	"trustroom/internal/engine"
	"trustroom/internal/identity"
	"trustroom/internal/migrate"
)

func migrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver == config.DriverSQLite && status {
				conn, err := db.Open(db.Config{Workspace: cfg.Store.Workspace})
				if err != nil {
					return err
				}
				defer conn.Close()
				applied, latest, err := migrate.Status(ctx, conn)
				if err != nil {
					return err
				}
				fmt.Printf("sqlite schema at version %d of %d (%s)\n", applied, latest, db.Path(cfg.Store.Workspace))
				return nil
			}
			_, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			closeStore()
			fmt.Printf("%s store migrated\n", cfg.Store.Driver)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "report the sqlite schema version without migrating")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Config file helpers"}
	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok:", configPath())
			return nil
		},
	})
	return c
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every committed change to a case: creation, step toggles and confirmations, wakes and buyer updates.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail <case-id>",
		Short: "Show the latest audit events of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ localCaller) error {
				evts, err := e.AuditTrail(ctx, args[0], n)
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "At", "Actor", "Action", "Detail"})
				for _, evt := range evts {
					detail, _ := json.Marshal(evt.Detail)
					tw.AppendRow(table.Row{evt.ID, evt.TS.Format(time.DateTime), string(evt.ActorKind) + ":" + evt.Reference, evt.Action, string(detail)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	return cmd
}

func tokenCmd() *cobra.Command {
	c := &cobra.Command{Use: "token", Short: "Bearer token helpers for local testing"}
	var userID, role, txID string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := identity.Mint(cfg.Auth.JWTSecret, userID, role, txID, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	mint.Flags().StringVar(&userID, "user", "", "user id")
	mint.Flags().StringVar(&role, "role", "", "role claim (agent, buyer or empty)")
	mint.Flags().StringVar(&txID, "tx", "", "transaction id claim")
	mint.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = mint.MarkFlagRequired("user")
	c.AddCommand(mint)
	return c
}
