package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-gateway/internal/server"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the gateway as an HTTP API. The server exposes submission,
status, query and download endpoints under /api/v1, plus /health and
Prometheus metrics under /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	addr := cfg.ListenAddr
	if serveAddress != "" {
		addr = serveAddress
	}

	srv := server.NewServer(&server.Config{
		Address:      addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		Debug:        cfg.Debug,
	}, client)

	fmt.Printf("Listening on %s\n", addr)
	return srv.Run()
}
