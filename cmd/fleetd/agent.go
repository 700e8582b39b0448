package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetd/pkg/agent"
	"github.com/cuemby/fleetd/pkg/api"
	"github.com/cuemby/fleetd/pkg/client"
	"github.com/cuemby/fleetd/pkg/container"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/plan"
	"github.com/cuemby/fleetd/pkg/reconciler"
	"github.com/cuemby/fleetd/pkg/repository"
	"github.com/cuemby/fleetd/pkg/runtime"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the host agent",
	Long: `Run the fleetd agent on this host.

With --once the agent performs a single convergence run and exits with a
non-zero status if it failed. Otherwise it long-polls the coordination
server and acts on RUN, REPORT and SHUTDOWN commands.

Examples:
  # Converge once from a local checkout
  fleetd agent --once --role web --repo-path /srv/fleet

  # Follow a git branch and wait for commands
  fleetd agent --role web --server http://fleet:8080 \
    --repo-url https://git.example.com/fleet.git --repo-branch prod`,
	RunE: runAgent,
}

func init() {
	hostname, _ := os.Hostname()

	f := agentCmd.Flags()
	f.String("hostname", hostname, "Host identity reported to the server")
	f.String("role", "", "Role to converge (required)")
	f.String("server", "http://127.0.0.1:8080", "Coordination server URL")
	f.String("repo-path", "/var/lib/fleetd/checkout", "Local checkout of the configuration repository")
	f.String("repo-url", "", "Git URL to clone into --repo-path (empty uses the directory as-is)")
	f.String("repo-branch", "main", "Git branch to follow")
	f.Bool("once", false, "Run a single convergence pass and exit")
	f.String("lock", agent.DefaultLockPath, "Host lock file")
	f.Duration("poll-timeout", client.DefaultPollTimeout, "Long-poll window requested from the server")
	f.Duration("backoff", agent.DefaultBackoff, "Wait after a failed poll")
	f.String("env-dir", container.DefaultEnvDir, "Directory holding container environment files")
	f.String("containerd-socket", runtime.DefaultSocketPath, "containerd socket")
	f.String("metrics-addr", "", "Serve /health, /ready and /metrics on this address")

	for key, flag := range map[string]string{
		"hostname":          "hostname",
		"role":              "role",
		"server":            "server",
		"repository.path":   "repo-path",
		"repository.url":    "repo-url",
		"repository.branch": "repo-branch",
		"once":              "once",
		"lock":              "lock",
		"poll-timeout":      "poll-timeout",
		"backoff":           "backoff",
		"env-dir":           "env-dir",
		"containerd.socket": "containerd-socket",
		"metrics-addr":      "metrics-addr",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

// newReconciler wires the convergence run from configuration
func newReconciler() *reconciler.Reconciler {
	runner := system.NewExecRunner()

	var repo repository.Repository
	if url := viper.GetString("repository.url"); url != "" {
		repo = repository.NewGit(url, viper.GetString("repository.branch"), viper.GetString("repository.path"), runner)
	} else {
		repo = repository.NewLocal(viper.GetString("repository.path"), runner)
	}

	socket := viper.GetString("containerd.socket")
	return reconciler.NewReconciler(reconciler.Config{
		Hostname:   viper.GetString("hostname"),
		Repository: repo,
		Registry:   plan.DefaultRegistry(),
		EnvDir:     viper.GetString("env-dir"),
		Runner:     runner,
		Runtime: func(ctx context.Context) (container.Runtime, error) {
			return runtime.NewContainerdRuntime(runtime.Options{SocketPath: socket})
		},
	})
}

func runAgent(cmd *cobra.Command, args []string) error {
	role := viper.GetString("role")
	if role == "" {
		return fmt.Errorf("--role is required")
	}
	hostname := viper.GetString("hostname")
	if hostname == "" {
		return fmt.Errorf("--hostname is required")
	}

	logger := log.WithComponent("main")

	if addr := viper.GetString("metrics-addr"); addr != "" {
		if !viper.GetBool("once") {
			metrics.SetCritical("controller")
		}
		go func() {
			if err := api.NewHealthServer(nil).Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
			}
		}()
	}

	ctl := client.NewClient(viper.GetString("server"), hostname,
		client.WithPollTimeout(viper.GetDuration("poll-timeout")))

	a := agent.New(agent.Config{
		Hostname: hostname,
		Role:     role,
		Once:     viper.GetBool("once"),
		LockPath: viper.GetString("lock"),
		Backoff:  viper.GetDuration("backoff"),
	}, ctl, newReconciler())

	// The lock is released when Run returns, so signals cancel ctx
	// rather than exiting the process directly
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err := a.Run(ctx)
	logger.Info().Dur("uptime", time.Since(start)).Msg("Agent stopped")
	return err
}
