package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fount/internal/logging"
)

var version = "dev"

func main() {
	var debug bool

	if err := logging.Configure(logging.LevelWarn, false); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "fount",
		Short:         "Realtime document gateway for RethinkDB",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	root.AddCommand(serveCmd(&debug))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
