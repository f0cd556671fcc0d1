package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"solardesk/internal/app"
	"solardesk/internal/domain"
	"solardesk/internal/engine"
	"solardesk/internal/view"
)

// filterFlags mirrors the dashboard filter controls.
type filterFlags struct {
	company string
	stage   string
	minKW   float64
	maxKW   float64
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.company, "company", "", "panel company (or all)")
	cmd.Flags().StringVar(&f.stage, "stage", "", "installation stage (or all)")
	cmd.Flags().Float64Var(&f.minKW, "min-kw", 0, "minimum system size in kW")
	cmd.Flags().Float64Var(&f.maxKW, "max-kw", 0, "maximum system size in kW")
}

func (f *filterFlags) state(cmd *cobra.Command) (domain.FilterState, error) {
	fs := domain.FilterState{PanelCompany: f.company}
	if cmd.Flags().Changed("min-kw") {
		v := f.minKW
		fs.MinKW = &v
	}
	if cmd.Flags().Changed("max-kw") {
		v := f.maxKW
		fs.MaxKW = &v
	}
	if f.stage != "" && f.stage != domain.FilterAll {
		s, err := domain.ParseStage(f.stage)
		if err != nil {
			return fs, err
		}
		fs.Stage = s
	}
	return fs, nil
}

func customerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}
	cmd.AddCommand(customerListCmd())
	cmd.AddCommand(customerShowCmd())
	cmd.AddCommand(customerCreateCmd())
	cmd.AddCommand(customerStageCmd())
	cmd.AddCommand(customerDocCmd())
	return cmd
}

func customerListCmd() *cobra.Command {
	var f filterFlags
	var query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List customers",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := f.state(cmd)
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				customers, err := env.Engine.Customers(ctx, fs, query)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(customers)
				}
				if badges := view.ActiveFilters(fs); len(badges) > 0 {
					labels := make([]string, 0, len(badges))
					for _, b := range badges {
						labels = append(labels, b.Label)
					}
					fmt.Println(mutedStyle.Render("filters: " + strings.Join(labels, ", ")))
				}
				printCustomers(customers)
				return nil
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringVarP(&query, "query", "q", "", "search by name, phone or kW")
	return cmd
}

func printCustomers(customers []domain.Customer) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Phone", "System", "kW", "Company", "Stage"})
	for _, c := range customers {
		tw.AppendRow(table.Row{c.ID, c.Name, c.Phone, c.SystemType, view.FormatKW(c.KWSize), c.PanelCompany, c.Stage})
	}
	tw.Render()
}

func customerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a customer with tasks, documents and timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				c, err := env.Engine.Customer(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Println(titleStyle.Render(c.Name))
				fmt.Printf("%s  %s  %s kW %s (%s)\n", c.Phone, c.Email, view.FormatKW(c.KWSize), c.SystemType, c.PanelCompany)
				fmt.Printf("Stage: %s\n", c.Stage)
				if c.Notes != "" {
					fmt.Printf("Notes: %s\n", c.Notes)
				}
				fmt.Println(headerStyle.Render("Tasks"))
				printTasks(c.Tasks)
				fmt.Println(headerStyle.Render("Documents"))
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Size", "Uploaded"})
				for _, d := range c.Documents {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Type, humanize.Bytes(uint64(d.Size)), relTimestamp(d.UploadedAt)})
				}
				tw.Render()
				fmt.Println(headerStyle.Render("Timeline"))
				for _, ev := range c.Timeline {
					fmt.Printf("  %s %s\n", mutedStyle.Render(relTimestamp(ev.Timestamp)), ev.Action)
				}
				return nil
			})
		},
	}
}

func relTimestamp(v string) string {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return v
	}
	return humanize.Time(ts)
}

func customerCreateCmd() *cobra.Command {
	var opts engine.CustomerCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				opts.ActorID = viper.GetString("actor-id")
				c, err := env.Engine.CreateCustomer(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Created customer %s (%s)\n", c.ID, c.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "customer id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "customer name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Address, "address", "", "site address")
	cmd.Flags().StringVar(&opts.SystemType, "system-type", "DCR", "DCR or Non-DCR")
	cmd.Flags().Float64Var(&opts.KWSize, "kw", 0, "system size in kW")
	cmd.Flags().StringVar(&opts.PanelCompany, "company", "", "panel company")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "initial stage")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func customerStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <id> <stage>",
		Short: "Move a customer to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				c, err := env.Engine.SetStage(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("%s is now at %s\n", c.Name, c.Stage)
				return nil
			})
		},
	}
}

func customerDocCmd() *cobra.Command {
	var opts engine.DocumentOptions
	cmd := &cobra.Command{
		Use:   "doc <customer-id>",
		Short: "Record an uploaded document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				opts.CustomerID = args[0]
				opts.ActorID = viper.GetString("actor-id")
				d, err := env.Engine.AddDocument(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Recorded %s (%s)\n", d.Name, humanize.Bytes(uint64(d.Size)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "document name")
	cmd.Flags().StringVar(&opts.Type, "type", "", "document type")
	cmd.Flags().Int64Var(&opts.Size, "size", 0, "size in bytes")
	cmd.Flags().StringVar(&opts.URL, "url", "", "document location")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search customers by name, phone, company or kW",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				hits, err := env.Engine.Search(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(hits)
				}
				if len(hits) == 0 {
					fmt.Println(mutedStyle.Render(fmt.Sprintf("no customers match %q", args[0])))
					return nil
				}
				printCustomers(hits)
				return nil
			})
		},
	}
}
