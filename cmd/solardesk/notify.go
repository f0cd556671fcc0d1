package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"solardesk/internal/app"
	"solardesk/internal/notify"
	"solardesk/internal/source"
	solardesksdk "solardesk/sdk/go"
)

func consentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Deadline alert consent",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored consent decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd.Context(), nil, func(ctx context.Context, env *app.Env, n *app.Notifications) error {
				c, err := n.Consent.CurrentConsent(ctx)
				if err != nil {
					return err
				}
				seen, err := n.Consent.PromptSeen(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"consent": c, "prompt_seen": seen})
				}
				fmt.Printf("Consent: %s (prompt seen: %v)\n", c, seen)
				return nil
			})
		},
	})
	for _, d := range []notify.Decision{notify.DecisionGranted, notify.DecisionDenied, notify.DecisionDismissed} {
		cmd.AddCommand(consentDecisionCmd(d))
	}
	return cmd
}

func consentDecisionCmd(d notify.Decision) *cobra.Command {
	use := "dismiss"
	switch d {
	case notify.DecisionGranted:
		use = "grant"
	case notify.DecisionDenied:
		use = "deny"
	}
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Record %s as the answer to the consent prompt", d),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotifications(cmd.Context(), nil, func(ctx context.Context, env *app.Env, n *app.Notifications) error {
				c, err := n.Decide(ctx, d)
				if err != nil {
					return err
				}
				fmt.Printf("Consent: %s\n", c)
				return nil
			})
		},
	}
}

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Deadline alerts",
	}
	cmd.AddCommand(notifyRunCmd())
	return cmd
}

func notifyRunCmd() *cobra.Command {
	var remote string
	var assumeConsent, once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the deadline scheduler until interrupted",
		Long: `Polls tasks on the configured interval and alerts once per task whose deadline
falls within the lookahead window. With --remote, tasks come from a SolarDesk API
server and the last snapshot is kept while the server is unreachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var src notify.TaskSource
			var rs *source.Remote
			logger := newLogger()
			if remote != "" {
				rs = source.NewRemote(solardesksdk.New(remote), logger)
				src = rs
			}
			return withNotifications(cmd.Context(), src, func(ctx context.Context, env *app.Env, n *app.Notifications) error {
				if assumeConsent {
					n.Scheduler.Consent = notify.StaticConsent(notify.ConsentGranted)
					n.NoPrompt = true
				}
				if once {
					return runOnce(ctx, n)
				}
				st := n.Scheduler.Status()
				logger.Printf("notify: checking every %s for deadlines within %s", st.Interval, st.Lookahead)
				<-n.Start(ctx)
				st = n.Scheduler.Status()
				if st.LastCycle != nil {
					logger.Printf("notify: stopped; last cycle %s, %d tasks alerted", humanize.Time(*st.LastCycle), st.Notified)
				}
				if rs != nil && !rs.Online() {
					logger.Printf("notify: %s was unreachable at shutdown", remote)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "SolarDesk API base URL to read tasks from")
	cmd.Flags().BoolVar(&assumeConsent, "assume-consent", false, "treat consent as granted for this run")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

// runOnce drives the scheduler through exactly one cycle.
func runOnce(ctx context.Context, n *app.Notifications) error {
	if c, err := n.Scheduler.Consent.CurrentConsent(ctx); err != nil {
		return err
	} else if c != notify.ConsentGranted {
		return fmt.Errorf("deadline alerts need consent (current: %s); run `solardesk consent grant` or pass --assume-consent", c)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tick := make(chan struct{})
	n.Scheduler.NewTicker = func(d time.Duration) notify.Ticker {
		close(tick)
		return notify.NewRealTicker(d)
	}
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = n.Scheduler.Run(ctx)
	}()
	select {
	case <-tick:
	case <-done:
	}
	cancel()
	<-done
	if runErr != nil {
		return runErr
	}
	st := n.Scheduler.Status()
	if st.State != notify.StateStopped {
		return fmt.Errorf("scheduler did not run: state %s", st.State)
	}
	fmt.Printf("Alerted %d tasks\n", st.Notified)
	return nil
}

func withNotifications(ctx context.Context, src notify.TaskSource, fn func(context.Context, *app.Env, *app.Notifications) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		n, err := app.NewNotifications(env, src, newLogger())
		if err != nil {
			return err
		}
		return fn(ctx, env, n)
	})
}
