package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"trustroom/internal/config"
	"trustroom/internal/domain"
)

func propertyCmd() *cobra.Command {
	c := &cobra.Command{Use: "property", Short: "Manage listings consumers can open cases on"}
	c.AddCommand(propertyAddCmd())
	c.AddCommand(propertyShowCmd())
	return c
}

func propertyAddCmd() *cobra.Command {
	var p domain.Property
	cmd := &cobra.Command{
		Use:   "add <MH-id>",
		Short: "Register a listing or update it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.ID = strings.TrimSpace(args[0])
			if !strings.HasPrefix(p.ID, "MH-") {
				return fmt.Errorf("listing id must look like MH-<digits>, got %q", p.ID)
			}
			p.UpdatedAt = time.Now().UTC()
			return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, store caseStore) error {
				if err := store.UpsertProperty(ctx, p); err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(p)
				}
				fmt.Printf("Registered %s (%s), trust %s\n", p.ID, p.Title, enabledText(p.TrustEnabled))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&p.Title, "title", "", "listing title")
	cmd.Flags().StringVar(&p.AgentID, "agent", "", "listing agent user id")
	cmd.Flags().StringVar(&p.AgentName, "agent-name", "", "agent display name")
	cmd.Flags().StringVar(&p.AgentCompany, "agent-company", "", "agent company")
	cmd.Flags().BoolVar(&p.TrustEnabled, "trust", true, "allow consumers to open trust cases")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func propertyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <MH-id>",
		Short: "Show a listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, store caseStore) error {
				p, err := store.GetProperty(ctx, args[0])
				if err != nil {
					return fmt.Errorf("listing %s: %w", args[0], err)
				}
				if wantJSON() {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"ID", p.ID},
					{"Title", p.Title},
					{"Agent", fmt.Sprintf("%s %s (%s)", p.AgentID, p.AgentName, p.AgentCompany)},
					{"Trust", enabledText(p.TrustEnabled)},
					{"Updated", p.UpdatedAt.Format(time.DateTime)},
				})
				tw.Render()
				return nil
			})
		},
	}
}

func enabledText(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
