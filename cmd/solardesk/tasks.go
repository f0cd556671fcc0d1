package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"solardesk/internal/app"
	"solardesk/internal/domain"
	"solardesk/internal/engine"
	"solardesk/internal/view"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskCreateCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var sortBy string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.ParseSortKey(sortBy)
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				tasks, err := env.Engine.Tasks(ctx, key)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", "deadline", "deadline or priority")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var deadline string
	var in time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case deadline != "":
				d, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("invalid --deadline: %w", err)
				}
				opts.Deadline = d
			case in > 0:
				opts.Deadline = time.Now().Add(in)
			default:
				return fmt.Errorf("--deadline or --in is required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				opts.ActorID = viper.GetString("actor-id")
				t, err := env.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Created task %s for %s\n", t.ID, t.CustomerName)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.CustomerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "medium", "high, medium or low")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "stage the task belongs to")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().DurationVar(&in, "in", 0, "deadline relative to now, e.g. 36h")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func dashboardCmd() *cobra.Command {
	var f filterFlags
	var drop []string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show stats and task panels",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := f.state(cmd)
			if err != nil {
				return err
			}
			for _, key := range drop {
				fs = view.RemoveFilter(fs, key)
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				d, err := env.Engine.Dashboard(ctx, fs)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Println(titleStyle.Render(env.Config.Business.Name))
				for _, b := range d.ActiveFilters {
					fmt.Println(mutedStyle.Render("filter " + b.Key + ": " + b.Label))
				}
				printStats(d.Stats)
				fmt.Println(headerStyle.Render(fmt.Sprintf("Today (%d)", len(d.TodayTasks))))
				printTasks(d.TodayTasks)
				fmt.Println(overdueStyle.Render(fmt.Sprintf("Overdue (%d)", len(d.OverdueTasks))))
				printTasks(d.OverdueTasks)
				fmt.Println(headerStyle.Render(fmt.Sprintf("High priority (%d)", len(d.HighPriorityTasks))))
				printTasks(d.HighPriorityTasks)
				return nil
			})
		},
	}
	f.bind(cmd)
	cmd.Flags().StringSliceVar(&drop, "clear", nil, "drop a filter badge: panel_company, min_kw or stage")
	return cmd
}

func printStats(s domain.DashboardStats) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Customers", "Completed", "Pending KSEB", "Pending MNRE", "Total kW"})
	tw.AppendRow(table.Row{s.TotalCustomers, s.CompletedInstallations, s.PendingKSEB, s.PendingMNRE, view.FormatKW(s.TotalKW)})
	tw.Render()
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summary report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				r, err := env.Engine.Reports(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				printStats(r.DashboardStats)
				fmt.Printf("Average system size: %.1f kW\n", r.AvgSystemSize)
				return nil
			})
		},
	}
}
