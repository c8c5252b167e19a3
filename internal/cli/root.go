// Package cli implements mcphostctl, the command line front end for the
// mcphost control API.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kandev/mcphost/internal/agent/api"
	"github.com/kandev/mcphost/internal/agent/client"
	"github.com/kandev/mcphost/internal/common/config"
	"github.com/kandev/mcphost/internal/common/logger"
)

type options struct {
	addr   string
	output string
}

// NewRootCommand builds the mcphostctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	defaults := config.Defaults()

	root := &cobra.Command{
		Use:   "mcphostctl",
		Short: "Control the AKS MCP agent managed by mcphost",
		Long: `mcphostctl talks to a running mcphost over its local control API to
start, stop and inspect the AKS MCP agent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newPrinter(opts.output); err != nil {
				return err
			}
			return nil
		},
	}

	addr := defaults.Control.Addr()
	if env := os.Getenv(config.EnvPrefix + "_CONTROL_ADDR"); env != "" {
		addr = env
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", addr, "address of the mcphost control API")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(
		commandCmd(opts, "start", "Start the agent", (*client.Client).Start),
		commandCmd(opts, "stop", "Stop the agent", (*client.Client).Stop),
		commandCmd(opts, "restart", "Restart the agent with the current configuration", (*client.Client).Restart),
		commandCmd(opts, "toggle", "Start the agent if it is stopped, stop it otherwise", (*client.Client).Toggle),
		askCmd(opts),
		statusCmd(opts),
		outputCmd(opts),
		historyCmd(opts),
		eventsCmd(opts),
	)
	return root
}

// Execute runs mcphostctl and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func (o *options) client() *client.Client {
	return client.NewClient(o.addr, logger.Nop())
}

func commandCmd(opts *options, name, short string, call func(*client.Client, context.Context) (*api.CommandResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(opts.client(), cmd.Context())
			if err != nil {
				return err
			}
			p, _ := newPrinter(opts.output)
			return p.command(cmd.OutOrStdout(), resp)
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the agent is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			p, _ := newPrinter(opts.output)
			return p.command(cmd.OutOrStdout(), resp)
		},
	}
}

func askCmd(opts *options) *cobra.Command {
	var req api.AskRequest
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Print a prompt for an MCP client, scoped to a cluster if given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Ask(cmd.Context(), req)
			if err != nil {
				return err
			}
			p, _ := newPrinter(opts.output)
			return p.command(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&req.Cluster, "cluster", "", "AKS cluster name")
	cmd.Flags().StringVarP(&req.ResourceGroup, "resource-group", "g", "", "resource group of the cluster")
	cmd.Flags().BoolVar(&req.Start, "start", false, "start the agent if it is not running")
	return cmd
}

func outputCmd(opts *options) *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "output",
		Short: "Show recent agent output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Output(cmd.Context(), tail)
			if err != nil {
				return err
			}
			p, _ := newPrinter(opts.output)
			return p.output(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 100, "number of lines to show (0 for all)")
	return cmd
}

func historyCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent agent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			p, _ := newPrinter(opts.output)
			return p.history(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of runs to show (0 for all)")
	return cmd
}

func eventsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow lifecycle events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _ := newPrinter(opts.output)
			return opts.client().StreamEvents(cmd.Context(), func(msg api.StreamMessage) error {
				return p.stream(cmd.OutOrStdout(), msg)
			})
		},
	}
}
