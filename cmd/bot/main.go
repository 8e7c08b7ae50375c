package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"mindfulbot/internal/app"
	"mindfulbot/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "mindfulbot",
		Short:         "Telegram bot that sends a daily meditation reminder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot (default when no subcommand is given)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), cfgPath)
			},
		},
		newRemindersCmd(&cfgPath),
	)
	return root
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
	defer c()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func newRemindersCmd(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "List each onboarded user's next reminder without sending anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := app.Upcoming(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tTIME\tTIMEZONE\tACTIVE\tNEXT")
			for _, u := range list {
				next := u.Next.Format("2006-01-02 15:04 MST")
				if u.Error != "" {
					next = "invalid: " + u.Error
				} else if !u.Active {
					next = "paused"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", u.UserID, u.ReminderTime, u.Timezone, u.Active, next)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
