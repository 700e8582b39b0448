package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compile and print the plan for a role",
	Long: `Sync the configuration repository and compile the plan for a role
without touching the host. Compilation errors are reported exactly as a run
would report them.`,
	RunE: runPlan,
}

func init() {
	hostname, _ := os.Hostname()

	f := planCmd.Flags()
	f.String("hostname", hostname, "Host whose properties are used")
	f.String("role", "", "Role to compile (required)")
	f.String("repo-path", "/var/lib/fleetd/checkout", "Local checkout of the configuration repository")
	f.String("repo-url", "", "Git URL to clone into --repo-path")
	f.String("repo-branch", "main", "Git branch to follow")
	f.Bool("targets", false, "Also list every target file")
}

func runPlan(cmd *cobra.Command, args []string) error {
	// Bound here rather than in init so they do not clash with agent's
	for key, flag := range map[string]string{
		"hostname":          "hostname",
		"role":              "role",
		"repository.path":   "repo-path",
		"repository.url":    "repo-url",
		"repository.branch": "repo-branch",
	} {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}

	role := viper.GetString("role")
	if role == "" {
		return fmt.Errorf("--role is required")
	}

	p, err := newReconciler().Plan(context.Background(), role)
	if err != nil {
		return err
	}

	fmt.Printf("Role %s at revision %s\n\n", p.Role, p.Revision)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Module", "Kind", "Variant", "Files", "Packages", "Services", "Container"})
	for i, cm := range p.Modules {
		m := cm.Module
		var pkgs []string
		for _, req := range m.Packages {
			pkgs = append(pkgs, req.String())
		}
		for _, name := range m.Purge {
			pkgs = append(pkgs, "-"+name)
		}
		image := ""
		if m.Container != nil {
			image = m.Container.Ref()
		}
		tw.AppendRow(table.Row{
			i + 1,
			m.Name,
			m.Kind,
			cm.Variant.Name,
			len(m.Files),
			strings.Join(pkgs, " "),
			strings.Join(m.Services, " "),
			image,
		})
	}
	tw.Render()

	if targets, _ := cmd.Flags().GetBool("targets"); targets {
		fmt.Println()
		for _, t := range p.Targets() {
			fmt.Println(t)
		}
	}
	return nil
}
