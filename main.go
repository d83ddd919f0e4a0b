package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/pkg/browser"

	"github.com/onllm-dev/tracemoe/internal/agent"
	"github.com/onllm-dev/tracemoe/internal/api"
	"github.com/onllm-dev/tracemoe/internal/config"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Command {
	case config.CommandVersion:
		fmt.Printf("tracemoe v%s\n", version)
		return nil
	case config.CommandHelp:
		printHelp()
		return nil
	}

	// Parse log level
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn("Invalid configuration value", "detail", w)
	}
	logger.Debug("Configuration loaded", "config", cfg.String())

	client := api.NewClient(logger,
		api.WithBaseURL(cfg.BaseURL),
		api.WithToken(cfg.Token),
		api.WithTimeout(cfg.Timeout),
		api.WithUserAgent("tracemoe/"+version),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cfg.Command {
	case config.CommandSearch:
		return runSearch(ctx, client, cfg, os.Stdout)
	case config.CommandMe:
		return runMe(ctx, client, os.Stdout)
	case config.CommandWatch:
		return runWatch(ctx, client, cfg, logger)
	}
	return fmt.Errorf("unknown command %q", cfg.Command)
}

func runSearch(ctx context.Context, client *api.Client, cfg *config.Config, out io.Writer) error {
	image, err := os.ReadFile(cfg.Args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	var opts []api.SearchOption
	if cfg.Filter != 0 {
		opts = append(opts, api.WithFilter(cfg.Filter))
	}

	resp, err := client.Search(ctx, image, opts...)
	if err != nil {
		var rl *api.RateLimitError
		if errors.As(err, &rl) {
			return fmt.Errorf("rate limited: %s", rl.Message)
		}
		return err
	}

	if len(resp.Docs) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIMILARITY\tTITLE\tAT\tANILIST\tFILE")
	for _, doc := range resp.Docs {
		title := doc.DisplayTitle()
		if doc.IsAdult {
			title += " [18+]"
		}
		fmt.Fprintf(tw, "%.2f%%\t%s\t%s\t%s\t%s\n",
			doc.Similarity*100, title, doc.Timestamp(), doc.AniListURL(), doc.Filename)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nSearched %d frames (cache hit: %v). Limit %d (resets in %s), quota %d (resets in %s).\n",
		resp.RawDocsCount, resp.CacheHit,
		resp.Limit.Limit, resp.Limit.ResetIn(),
		resp.Quota.Quota, resp.Quota.ResetIn(),
	)

	if cfg.Open {
		best := resp.Best()
		if !browserAvailable() {
			fmt.Fprintf(out, "Best match: %s\n", best.AniListURL())
			return nil
		}
		if err := browser.OpenURL(best.AniListURL()); err != nil {
			return fmt.Errorf("failed to open browser: %w", err)
		}
	}
	return nil
}

func runMe(ctx context.Context, client *api.Client, out io.Writer) error {
	me, err := client.Me(ctx)
	if err != nil {
		return err
	}

	account := "anonymous"
	if me.UserID != nil {
		account = fmt.Sprintf("user %d", *me.UserID)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Account:\t%s (%s)\n", account, me.Email)
	fmt.Fprintf(tw, "Limit:\t%d / %d\tresets in %s\n", me.Limit.Limit, me.UserLimit.UserLimit, me.Limit.ResetIn())
	fmt.Fprintf(tw, "Quota:\t%d / %d\tresets in %s\n", me.Quota.Quota, me.UserQuota.UserQuota, me.Quota.ResetIn())
	fmt.Fprintf(tw, "Quota used:\t%.1f%%\n", me.QuotaUsagePercent())
	return tw.Flush()
}

func runWatch(ctx context.Context, client *api.Client, cfg *config.Config, logger *slog.Logger) error {
	ag := agent.New(client, cfg.WatchInterval, cfg.QuotaWarn, logger)
	ag.SetOnLowQuota(func(me *api.Me) {
		fmt.Fprintf(os.Stderr, "\a%d searches left in quota (resets in %s)\n", me.Quota.Quota, me.Quota.ResetIn())
	})

	logger.Info("Starting quota watch", "base_url", client.BaseURL(), "token", config.RedactToken(cfg.Token))
	if err := ag.Run(ctx); err != nil {
		return fmt.Errorf("agent error: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

func printHelp() {
	fmt.Println("tracemoe - find the anime scene an image was taken from")
	fmt.Println()
	fmt.Println("Usage: tracemoe [OPTIONS] COMMAND")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  search IMAGE       Search for the scene in IMAGE")
	fmt.Println("  me                 Show search limit and quota")
	fmt.Println("  watch              Poll quota until interrupted")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version          Print version and exit")
	fmt.Println("  --help             Print this help message")
	fmt.Println("  --token TOKEN      API token")
	fmt.Println("  --base-url URL     API base URL (default: https://trace.moe/api)")
	fmt.Println("  --timeout SEC      Request timeout in seconds (default: 30)")
	fmt.Println("  --interval SEC     Watch polling interval in seconds (default: 60)")
	fmt.Println("  --filter ID        Only match this AniList ID")
	fmt.Println("  --open             Open the best match on AniList")
	fmt.Println("  --debug            Log requests and responses")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  TRACEMOE_TOKEN           API token")
	fmt.Println("  TRACEMOE_BASE_URL        API base URL")
	fmt.Println("  TRACEMOE_TIMEOUT         Request timeout in seconds")
	fmt.Println("  TRACEMOE_WATCH_INTERVAL  Watch polling interval in seconds")
	fmt.Println("  TRACEMOE_QUOTA_WARN      Quota usage percent that triggers a warning (default: 80)")
	fmt.Println("  TRACEMOE_LOG_LEVEL       Log level: debug, info, warn, error")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  tracemoe search frame.jpg")
	fmt.Println("  tracemoe search --filter 100977 --open frame.jpg")
	fmt.Println("  tracemoe --token abc123 me")
}
