package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dyslexiview/dyslexiview/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local control server",
	Long: `Start a local web server that controls recording, lists recordings,
plays them and forwards images for extraction. Open it in a browser for a
simple page, or script it through its JSON endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if !cmd.Flags().Changed("port") && cfg.Control.Port != "" {
			port = cfg.Control.Port
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		srv := server.New(svc, configPath, port)
		slog.Info("dyslexiview control server starting", "port", port, "config", configPath)

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
