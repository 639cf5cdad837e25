package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/kpalign/internal/config"
	"github.com/MeKo-Tech/kpalign/internal/pointsio"
	"github.com/MeKo-Tech/kpalign/internal/server"
	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/utils"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pairing session server",
	Long: `Start an HTTP and WebSocket server hosting one pairing session.

The server provides the following endpoints:
  POST /images/{side}             - Load an image (raw body or multipart "image")
  GET  /panels/{side}/{panel}.png - Render the nav or detail panel
  GET  /points, POST /points      - Read or replace the confirmed pairs
  GET  /transform?from=left       - Fit and return the homography
  GET  /result                    - Session result after finish or cancel
  GET  /state                     - Session snapshot
  GET  /ws                        - Control channel (clicks, wheel, align, ...)
  GET  /feed/{side}               - Live binary image frames, latest wins
  GET  /health, GET /metrics

Examples:
  kpalign serve
  kpalign serve --left a.png --right b.png --points pts.txt
  kpalign serve --host 0.0.0.0 --port 3000`,
	RunE: runServe,
}

// serverConfig builds the server configuration from cfg and flag overrides.
func serverConfig(cmd *cobra.Command, cfg *config.Config) (server.Config, int, error) {
	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	corsOrigin := cfg.Server.CORSOrigin
	if cmd.Flags().Changed("cors-origin") {
		corsOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	maxUploadSize := cfg.Server.MaxUploadMB
	if cmd.Flags().Changed("max-upload-size") {
		maxUploadSize, _ = cmd.Flags().GetInt("max-upload-size")
	}
	maxFrameSize := cfg.Feed.MaxFrameMB
	if cmd.Flags().Changed("max-frame-size") {
		maxFrameSize, _ = cmd.Flags().GetInt("max-frame-size")
	}
	timeout := cfg.Server.TimeoutSec
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetInt("timeout")
	}
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if cmd.Flags().Changed("shutdown-timeout") {
		shutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}

	if port < 1 || port > 65535 {
		return server.Config{}, 0, fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", port)
	}

	opts, err := cfg.ToSessionOptions()
	if err != nil {
		return server.Config{}, 0, err
	}
	opts.Logger = slog.Default()

	return server.Config{
		Host:        host,
		Port:        port,
		CORSOrigin:  corsOrigin,
		MaxUploadMB: int64(maxUploadSize),
		MaxFrameMB:  int64(maxFrameSize),
		TimeoutSec:  timeout,
		Session:     opts,
		NavSize:     viewport.Size{Width: cfg.View.NavWidth, Height: cfg.View.NavHeight},
		DetailSize:  viewport.Size{Width: cfg.View.DetailWidth, Height: cfg.View.DetailHeight},
	}, shutdownTimeout, nil
}

// preload loads the images and points given on the command line.
func preload(ctx context.Context, cmd *cobra.Command, srv *server.Server) error {
	return srv.Controller().Do(ctx, func(sess *session.Session) error {
		for _, sd := range []session.Side{session.Left, session.Right} {
			path, _ := cmd.Flags().GetString(sd.String())
			if path == "" {
				continue
			}
			img, _, err := utils.LoadImage(path)
			if err != nil {
				return err
			}
			if err := sess.LoadImage(sd, img); err != nil {
				return err
			}
		}
		if path, _ := cmd.Flags().GetString("points"); path != "" {
			left, right, err := pointsio.LoadPoints(path)
			if err != nil {
				return err
			}
			pairs := make([]session.Pair, len(left))
			for i := range left {
				pairs[i] = session.Pair{Left: left[i], Right: right[i]}
			}
			sess.SetPairs(pairs)
		}
		return nil
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	serverCfg, shutdownTimeout, err := serverConfig(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	if err := preload(ctx, cmd, srv); err != nil {
		return err
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	// No read or write timeouts: WebSocket connections are long-lived.
	httpServer := &http.Server{
		Addr:              serverCfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting kpalign server", "addr", serverCfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("max-frame-size", 16, "maximum live feed frame size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("left", "", "image to load on the left side at startup")
	serveCmd.Flags().String("right", "", "image to load on the right side at startup")
	serveCmd.Flags().String("points", "", "points file to load at startup")
}
