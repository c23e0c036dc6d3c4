package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"trustroom/internal/domain"
	"trustroom/internal/engine"
)

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage trust cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseToggleCmd())
	c.AddCommand(caseConfirmCmd())
	c.AddCommand(caseWakeCmd())
	c.AddCommand(caseBuyerInfoCmd())
	c.AddCommand(caseStartCmd())
	c.AddCommand(caseMineCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var in engine.CreateCaseInput
	var propertyID, propertyTitle string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a trust case for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.PropertyID = optionalString(propertyID)
			in.PropertyTitle = optionalString(propertyTitle)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				created, err := e.CreateCase(ctx, in, caller.system())
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(created)
				}
				printCase(created.Case)
				fmt.Printf("\nGuest link: %s (expires %s)\n", created.Link.Path, created.Link.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.CaseName, "name", "", "case name")
	cmd.Flags().StringVar(&in.AgentID, "agent", "", "agent user id")
	cmd.Flags().StringVar(&in.AgentName, "agent-name", "", "agent display name")
	cmd.Flags().StringVar(&in.AgentCompany, "agent-company", "", "agent company")
	cmd.Flags().StringVar(&propertyID, "property-id", "", "property id")
	cmd.Flags().StringVar(&propertyTitle, "property-title", "", "property title")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				view, err := e.GetCase(ctx, args[0], caller.system())
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(view)
				}
				printCase(view.Case)
				return nil
			})
		},
	}
}

func caseListCmd() *cobra.Command {
	var in engine.ListInput
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an agent's cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st := domain.Status(status)
				in.Status = &st
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				views, err := e.ListCases(ctx, in, caller.system())
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Step", "Buyer", "Updated"})
				for _, v := range views {
					step := fmt.Sprintf("%d %s", v.Case.CurrentStep, domain.StepNames[v.Case.CurrentStep-1])
					tw.AppendRow(table.Row{v.Case.ID, v.Case.CaseName, v.Case.Status, step, v.Buyer.FullText, v.Case.UpdatedAt.Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.AgentID, "agent", "", "agent user id")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&in.Limit, "limit", 0, "page size (default 50)")
	cmd.Flags().IntVar(&in.Offset, "offset", 0, "page offset")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func caseStartCmd() *cobra.Command {
	var in engine.StartCaseInput
	cmd := &cobra.Command{
		Use:   "start <MH-id>",
		Short: "Open a case on a listing for an anonymous consumer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.PropertyID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				started, err := e.StartCase(ctx, in, caller.system())
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(started)
				}
				fmt.Printf("Case %s opened for %s\nGuest link: %s (expires %s)\n",
					started.CaseID, started.BuyerName, started.Link.Path, started.Link.ExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.UserName, "name", "", "buyer display name (anonymous when empty)")
	return cmd
}

func caseMineCmd() *cobra.Command {
	var in engine.MyCasesInput
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List a buyer's open cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				cases, err := e.ListMyCases(ctx, in, caller.system())
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Property", "Agent", "Status", "Step", "Updated"})
				for _, c := range cases {
					tw.AppendRow(table.Row{c.ID, c.PropertyTitle, c.AgentName, c.Status, fmt.Sprintf("%d %s", c.CurrentStep, c.StepName), c.UpdatedAt.Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.BuyerID, "buyer", "", "buyer user id")
	cmd.Flags().IntVar(&in.Limit, "limit", 0, "page size (default 50)")
	cmd.Flags().IntVar(&in.Offset, "offset", 0, "page offset")
	_ = cmd.MarkFlagRequired("buyer")
	return cmd
}

func stepArgs(args []string) (string, int, error) {
	step, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, fmt.Errorf("step must be a number: %w", err)
	}
	return args[0], step, nil
}

func caseToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <case-id> <step>",
		Short: "Flip a step's done flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, step, err := stepArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				// Toggling is agent-only, so the operator acts as the case agent.
				view, err := e.GetCase(ctx, id, caller.system())
				if err != nil {
					return err
				}
				creds, err := caller.agent(view.Case.AgentID)
				if err != nil {
					return err
				}
				tc, err := e.ToggleStepDone(ctx, id, step, creds)
				if err != nil {
					return err
				}
				return printCaseOrJSON(tc)
			})
		},
	}
}

func caseConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <case-id> <step>",
		Short: "Confirm a done step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, step, err := stepArgs(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				tc, err := e.ConfirmStep(ctx, id, step, caller.system())
				if err != nil {
					return err
				}
				return printCaseOrJSON(tc)
			})
		},
	}
}

func caseWakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wake <case-id>",
		Short: "Wake a dormant case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				res, err := e.WakeCase(ctx, args[0], caller.system())
				if err != nil {
					return err
				}
				if wantJSON() {
					return printJSON(res)
				}
				fmt.Printf("%s: %s -> %s at %s\n", res.CaseID, res.PreviousStatus, res.Status, res.WokenAt.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func caseBuyerInfoCmd() *cobra.Command {
	var in engine.BuyerInfoInput
	cmd := &cobra.Command{
		Use:   "buyer-info <case-id>",
		Short: "Record buyer contact details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.CaseID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, caller localCaller) error {
				tc, err := e.CompleteBuyerInfo(ctx, in, caller.system())
				if err != nil {
					return err
				}
				return printCaseOrJSON(tc)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "buyer name")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "buyer mobile (09xxxxxxxx)")
	cmd.Flags().StringVar(&in.Email, "email", "", "buyer email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func printCaseOrJSON(tc domain.TrustCase) error {
	if wantJSON() {
		return printJSON(tc)
	}
	printCase(tc)
	return nil
}

func printCase(tc domain.TrustCase) {
	fmt.Printf("%s  %s  [%s] v%d\n", tc.ID, tc.CaseName, tc.Status, tc.Version)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Step", "Done", "Confirmed", "Date"})
	for _, s := range tc.Steps {
		date := ""
		if s.Date != nil {
			date = s.Date.Format(time.DateTime)
		}
		marker := ""
		if s.Number == tc.CurrentStep {
			marker = " <"
		}
		tw.AppendRow(table.Row{s.Number, s.Name + marker, s.Done, s.Confirmed, date})
	}
	tw.Render()
}
