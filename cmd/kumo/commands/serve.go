package commands

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mangatek/kumo/internal/logger"
	"github.com/mangatek/kumo/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scraper HTTP API",
	Long: `Start the HTTP API. Endpoints:

  GET /manga-list?sort=views&page=1   catalog listing
  GET /manga/{slug}                   series detail and chapter list
  GET /reader/{slug}/{chapter}        chapter page images
  GET /reader/from-url?url=...        resolve a full site URL to a chapter
  GET /healthz                        liveness probe`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default :8000)")
	_ = viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		logError("%v", err)
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		logError("%v", err)
		return err
	}
	defer engine.Close()

	srv := server.New(server.Config{
		Addr:          cfg.ListenAddr,
		BaseHost:      cfg.Hosts[0],
		RatePerMinute: cfg.RatePerMinute,
	}, engine)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logError("%v", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
