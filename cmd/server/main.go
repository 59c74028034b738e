package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/XXueTu/graph_automation/client"
	"github.com/XXueTu/graph_automation/domain/trigger"
	"github.com/XXueTu/graph_automation/domain/workflow"
	"github.com/XXueTu/graph_automation/engine"
	"github.com/XXueTu/graph_automation/infrastructure/actions"
	"github.com/XXueTu/graph_automation/types"
)

var (
	configPath string
	serverURL  string
	timeout    time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "automation",
		Short:        "Workflow automation engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "url", getEnvOrDefault("AUTOMATION_URL", "http://localhost:8080"), "automation server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(newServeCmd(), newValidateCmd(), newPublishCmd(), newRunsCmd(), newTickCmd())
	return root
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run workers, date ticks and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := engine.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := engine.NewEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", getEnvOrDefault("AUTOMATION_CONFIG", ""), "YAML config file")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow definition file (JSON or YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			def, err := workflow.ParseDefinition(data)
			if err != nil {
				return err
			}
			errs := workflow.Validate(def, workflow.WithActionTypes([]string{
				actions.TypeNotification, actions.TypeWebhook, actions.TypeFieldUpdate, actions.TypeStatusChange,
			}))
			if len(errs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d nodes)\n", def.ID, len(def.Nodes))
				return nil
			}
			for _, se := range errs {
				fmt.Fprintln(cmd.OutOrStdout(), se.Error())
			}
			return fmt.Errorf("%s: %d validation errors", args[0], len(errs))
		},
	}
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish a workflow definition to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			def, err := newClient().PublishWorkflow(cmd.Context(), data)
			if err != nil {
				return err
			}
			return printJSON(cmd, def)
		},
	}
}

func newRunsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect and manage workflow runs"}

	var opts client.ListOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	list.Flags().StringVar(&opts.Status, "status", "", "filter by status")
	list.Flags().StringVar(&opts.WorkflowID, "workflow", "", "filter by workflow id")
	list.Flags().IntVar(&opts.Limit, "limit", 50, "page size")
	list.Flags().IntVar(&opts.Offset, "offset", 0, "page offset")

	runs.AddCommand(list,
		runCommand("get <run-id>", "Show a run", func(ctx context.Context, c *client.Client, id string) (interface{}, error) {
			return c.GetRun(ctx, id)
		}),
		runCommand("records <run-id>", "Show the node execution records of a run", func(ctx context.Context, c *client.Client, id string) (interface{}, error) {
			return c.GetRecords(ctx, id)
		}),
		runCommand("cancel <run-id>", "Cancel a run", func(ctx context.Context, c *client.Client, id string) (interface{}, error) {
			return c.CancelRun(ctx, id)
		}),
		runCommand("retry <run-id>", "Retry a failed run from its failed node", func(ctx context.Context, c *client.Client, id string) (interface{}, error) {
			return c.RetryRun(ctx, id)
		}),
	)
	return runs
}

func runCommand(use, short string, fn func(context.Context, *client.Client, string) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := fn(cmd.Context(), newClient(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newTickCmd() *cobra.Command {
	var (
		at     string
		window time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Send a date tick to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tick := trigger.Tick{Window: types.Duration(window)}
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				tick.Now = parsed
			}
			result, err := newClient().Tick(cmd.Context(), tick)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "tick time in RFC3339, defaults to server time")
	cmd.Flags().DurationVar(&window, "window", trigger.DefaultTickWindow, "date trigger window")
	return cmd
}

func newClient() *client.Client {
	return client.NewClient(serverURL, timeout)
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
