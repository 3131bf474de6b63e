package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mangatek/kumo/internal/fetch"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a single page and print the HTML",
	Long: `Fetch one page through the full strategy chain and print the final
HTML to stdout. Useful for probing what the upstream currently serves
and which strategy gets through.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringSlice("strategy", nil, "restrict to specific strategies (lightweight, rendering, solver)")
	fetchCmd.Flags().Duration("timeout", 0, "overall budget for this fetch (default from config)")
	fetchCmd.Flags().Bool("meta", false, "print fetch metadata as JSON instead of the HTML")
	fetchCmd.Flags().Bool("debug-snippet", false, "attach an HTML snippet to failure output")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	names, _ := cmd.Flags().GetStringSlice("strategy")
	var strategies []fetch.Strategy
	for _, n := range names {
		strategies = append(strategies, fetch.Strategy(n))
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	debug, _ := cmd.Flags().GetBool("debug-snippet")

	start := time.Now()
	res, err := engine.Fetch(ctx, fetch.Request{
		URL:        args[0],
		Timeout:    timeout,
		Strategies: strategies,
		Debug:      debug,
	})
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(fe)
		}
		logError("%v", err)
		return err
	}

	if meta, _ := cmd.Flags().GetBool("meta"); meta {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"url":         args[0],
			"strategy":    res.Strategy,
			"host":        res.BaseHost,
			"cached":      res.Cached,
			"bytes":       len(res.HTML),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}

	fmt.Println(res.HTML)
	return nil
}
