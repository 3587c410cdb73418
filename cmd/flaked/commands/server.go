package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/limnc/flaked/app"
	"github.com/limnc/flaked/errors"
	"github.com/limnc/flaked/logger"
	"github.com/limnc/flaked/server"
	"github.com/limnc/flaked/version"
)

// ServerCmd runs the engine and the HTTP API.
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Run the scheduler and its HTTP API",
	Long: `Start the scheduler with every job in the configuration and serve the
control API. The configuration file is watched and the jobs are rebuilt when it
changes. SIGINT or SIGTERM shuts down gracefully, waiting for running jobs.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
)

func init() {
	ServerCmd.Flags().StringVar(&serverHost, "host", "127.0.0.1", "Address to bind")
	ServerCmd.Flags().IntVar(&serverPort, "port", 8000, "Port to listen on")
}

func runServer(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	a.Start()

	srv := server.New(a, logger.ComponentLogger("server"))
	addr := net.JoinHostPort(serverHost, strconv.Itoa(serverPort))
	pterm.Info.Printf("%s listening on http://%s (config %s)\n", version.Get().String(), addr, a.Store.Path())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(addr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		_ = a.Shutdown(app.ShutdownTimeout)
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- errors.CombineErrors(srv.Stop(), a.Shutdown(app.ShutdownTimeout))
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
