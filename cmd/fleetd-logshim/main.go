// Command fleetd-logshim is spawned by containerd for containers declared
// with syslog logging. It reads the task's stdout and stderr from file
// descriptors 3 and 4 and forwards each line to syslog.
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/cuemby/fleetd/pkg/runtime"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "fleetd-logshim",
	Short:        "Forward container output to syslog",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		address, _ := cmd.Flags().GetString("address")
		tag, _ := cmd.Flags().GetString("tag")
		format, _ := cmd.Flags().GetString("format")

		if tag == "" {
			tag = os.Getenv("CONTAINER_ID")
		}

		fwd, err := runtime.DialSyslog(address, tag, format)
		if err != nil {
			return err
		}
		defer fwd.Close()

		stdout := os.NewFile(3, "CONTAINER_STDOUT")
		stderr := os.NewFile(4, "CONTAINER_STDERR")
		ready := os.NewFile(5, "CONTAINER_WAIT")

		// containerd blocks task start until the ready pipe is closed
		if err := ready.Close(); err != nil {
			return fmt.Errorf("failed to signal ready: %w", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = fwd.Forward(stdout, runtime.SeverityInfo)
		}()
		go func() {
			defer wg.Done()
			_ = fwd.Forward(stderr, runtime.SeverityErr)
		}()
		wg.Wait()
		return nil
	},
}

func init() {
	rootCmd.Flags().String("address", runtime.DefaultSyslogAddress, "Syslog endpoint (udp:// or tcp://)")
	rootCmd.Flags().String("tag", "", "Syslog tag, defaults to the container id")
	rootCmd.Flags().String("format", "rfc5424", "Syslog format (rfc5424, rfc3164)")
}
