package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/velo-dev/velo/internal/config"
	"github.com/velo-dev/velo/internal/dev"
	"github.com/velo-dev/velo/internal/runtime"
)

func devCmd() *cobra.Command {
	var (
		port int
		host string
		mode string
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server with live reload.

The server watches the route tree, rebuilds the render manifest when
files are added or removed, and refreshes connected browsers on every
change.

Examples:
  velo dev
  velo dev --port=8080
  velo dev --host=0.0.0.0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(port, host, mode)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to run on (default from velo.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from velo.json)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "development", "Environment mode (.env.<mode>)")

	return cmd
}

func runDev(port int, host, mode string) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Dev.Port = port
	}
	if host != "" {
		cfg.Dev.Host = host
	}

	server := dev.NewServer(dev.ServerOptions{
		Config:   cfg,
		Loader:   runtime.NewLoader(cfg.Dir()),
		Renderer: &runtime.Renderer{},
		Mode:     mode,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return server.Start(ctx)
}
