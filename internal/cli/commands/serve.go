package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pvfs/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve [PATH]",
	Short: "Export a directory over SMB2",
	Long: `Serves share.path (or PATH) as an SMB2 share until interrupted.

Only one server may run per state directory.

Examples:
  # Serve the configured share
  pvfs serve

  # Serve /srv/data as "data" on port 445
  pvfs serve /srv/data --name data --listen 0.0.0.0:445`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

var (
	serveListen  string
	serveMetrics string
	serveName    string
	serveRO      bool
)

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "SMB listen address (overrides server.listen)")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics", "", "Prometheus listen address (overrides server.metrics_listen)")
	serveCmd.Flags().StringVarP(&serveName, "name", "n", "", "share name (overrides share.name)")
	serveCmd.Flags().BoolVar(&serveRO, "read-only", false, "export the share read-only")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		s.Share.Path = args[0]
	}
	if serveListen != "" {
		s.Server.Listen = serveListen
	}
	if serveMetrics != "" {
		s.Server.MetricsListen = serveMetrics
	}
	if serveName != "" {
		s.Share.Name = serveName
	}
	if serveRO {
		s.Share.ReadOnly = true
	}
	if err := s.Validate(); err != nil {
		return err
	}
	daemon.SetupLogging(s.Logging.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(s)
	go func() {
		select {
		case <-d.Ready():
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s as share %q\n", s.Share.Path, s.Server.Listen, s.Share.Name)
		case <-ctx.Done():
		}
	}()
	return d.Run(ctx)
}
