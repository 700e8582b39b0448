package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/fleetd/pkg/client"
	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/report"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const ctlTimeout = 30 * time.Second

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().String("server", "http://127.0.0.1:8080", "Coordination server URL")
}

func ctlClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	return client.NewClient(server, "", client.WithRetry(1, time.Second))
}

var sendCmd = &cobra.Command{
	Use:   "send HOST COMMAND",
	Short: "Queue a command (run, report, shutdown) for a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := args[0]
		command := types.Command(strings.ToUpper(args[1]))
		if !command.Valid() {
			return fmt.Errorf("command must be run, report or shutdown")
		}

		ctx, cancel := context.WithTimeout(context.Background(), ctlTimeout)
		defer cancel()
		if err := ctlClient(cmd).Enqueue(ctx, host, command); err != nil {
			return err
		}
		fmt.Printf("✓ %s queued for %s\n", command, host)
		return nil
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents and their last status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), ctlTimeout)
		defer cancel()
		agents, err := ctlClient(cmd).ListAgents(ctx)
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Host", "Status", "Since"})
		for _, a := range agents {
			tw.AppendRow(table.Row{a.Hostname, a.Status, a.Date.Local().Format(time.RFC3339)})
		}
		tw.Render()
		return nil
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports HOST",
	Short: "Show the reports a host sent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), ctlTimeout)
		defer cancel()
		reports, err := ctlClient(cmd).ListReports(ctx, args[0])
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Date", "Reason", "Revision", "Changed", "Modules", "Error"})
		for _, r := range reports {
			row := table.Row{r.Date.Local().Format(time.RFC3339), r.Reason, "", "", "", ""}
			if snap, err := report.Decode(r.Content); err == nil {
				row[2] = snap.Revision
				row[3] = snap.Changed
				row[4] = len(snap.Modules)
				row[5] = snap.Error
			}
			tw.AppendRow(row)
		}
		tw.Render()
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events [HOST]",
	Short: "Follow agent status, report and command events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		host := ""
		if len(args) == 1 {
			host = args[0]
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return ctlClient(cmd).Events(ctx, host, func(ev events.Event) {
			fmt.Printf("%s  %-18s %-12s %s\n",
				ev.Timestamp.Local().Format(time.RFC3339), ev.Type, ev.Host, ev.Message)
		})
	},
}

func init() {
	addServerFlag(eventsCmd)
	addServerFlag(sendCmd)
	addServerFlag(agentsCmd)
	addServerFlag(reportsCmd)
}
