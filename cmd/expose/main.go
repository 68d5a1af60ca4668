package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/expose/internal/config"
	"github.com/jmerrifield20/expose/internal/health"
	"github.com/jmerrifield20/expose/internal/metrics"
	"github.com/jmerrifield20/expose/internal/shipconn"
	"github.com/jmerrifield20/expose/internal/webhooks"
	"github.com/jmerrifield20/expose/pkg/cite"
	"github.com/jmerrifield20/expose/pkg/expose"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	v       = viper.New()
	cfg     *config.Config
	logger  = zap.NewNop()
)

func main() {
	defer func() { _ = logger.Sync() }()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "expose",
	Short: "Publish channel posts from your ship to the clearweb",
	Long: `expose manages which posts your ship serves publicly through its %expose agent.

Posts are addressed in short form or as full cite paths:

  chat/~zod/general/170.141.184           (kind/host/channel/post-id)
  /1/chan/chat/~zod/general/msg/170.141.184

Connection settings come from flags, the environment (SHIP_URL, SHIP_NAME,
SHIP_CODE), a .env file in the working directory, or ~/.expose/config.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger, err = config.NewLogger(cfg.LogLevel)
		return err
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.expose/config.yaml)")
	config.BindFlags(v, pf)

	rootCmd.AddCommand(canonicalCmd)
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(hideCmd)
	rootCmd.AddCommand(eagerCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(versionCmd)
}

// newService builds an authenticated expose service from cfg.
func newService(ctx context.Context, forPoke bool) (*expose.Service, error) {
	return shipconn.Open(ctx, cfg, logger, forPoke)
}

func writeJSON(val any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}

// ── canonical / url / inspect ────────────────────────────────────────────────

var canonicalCmd = &cobra.Command{
	Use:   "canonical <address> [address] ...",
	Short: "Print the full cite path of each address",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, addr := range args {
			p, err := cite.ToCanonical(addr)
			if err != nil {
				return err
			}
			fmt.Println(p)
		}
		return nil
	},
}

var urlCmd = &cobra.Command{
	Use:   "url <address> [address] ...",
	Short: "Print the public URL each address is served at once exposed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		for _, addr := range args {
			u, err := cite.PublicURL(addr, cfg.ShipURL)
			if err != nil {
				return err
			}
			fmt.Println(u)
		}
		return nil
	},
}

var inspectFormat string

var inspectCmd = &cobra.Command{
	Use:   "inspect <address>",
	Short: "Break an address into kind, host, channel and post id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := cite.Parse(args[0])
		if err != nil {
			return err
		}
		if inspectFormat == "json" {
			return writeJSON(map[string]string{
				"kind":       p.Kind.String(),
				"type":       p.Kind.TypeLabel(),
				"host":       p.Host,
				"channel":    p.Channel,
				"id":         p.ItemID,
				"canonical":  p.String(),
				"simplified": p.Simplified(),
				"url_path":   p.URLPath(),
			})
		}
		fmt.Printf("Kind:       %s (%s)\n", p.Kind, p.Kind.TypeLabel())
		fmt.Printf("Host:       %s\n", p.Host)
		fmt.Printf("Channel:    %s\n", p.Channel)
		fmt.Printf("Post ID:    %s\n", p.ItemID)
		fmt.Printf("Canonical:  %s\n", p.String())
		fmt.Printf("Simplified: %s\n", p.Simplified())
		fmt.Printf("URL path:   /expose%s\n", p.URLPath())
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format: text or json")
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listFormat string
	listURLs   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every exposed post",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx, false)
		if err != nil {
			return err
		}
		paths, err := svc.List(ctx)
		if err != nil {
			return fmt.Errorf("list exposed: %w", err)
		}

		type row struct {
			Cite string `json:"cite"`
			URL  string `json:"url,omitempty"`
		}
		rows := make([]row, len(paths))
		for i, p := range paths {
			rows[i] = row{Cite: p}
			if listURLs && cite.IsCanonical(p) {
				rows[i].URL, _ = svc.PublicURL(p)
			}
		}

		if listFormat == "json" {
			return writeJSON(rows)
		}
		if len(rows) == 0 {
			fmt.Println("Nothing exposed.")
			return nil
		}
		for _, r := range rows {
			if r.URL != "" {
				fmt.Printf("%s\t%s\n", r.Cite, r.URL)
			} else {
				fmt.Println(r.Cite)
			}
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listFormat, "format", "text", "Output format: text or json")
	listCmd.Flags().BoolVar(&listURLs, "urls", false, "Also print the public URL of each post")
}

// ── check ────────────────────────────────────────────────────────────────────

// checkRow holds the outcome of a single exposure check.
type checkRow struct {
	idx     int
	addr    string
	exposed bool
	err     error
}

var checkFormat string

var checkCmd = &cobra.Command{
	Use:   "check <address> [address] ...",
	Short: "Report whether posts are currently exposed",
	Long: `check asks the ship whether each post is exposed.

Multiple addresses are checked concurrently and displayed as a table:

  expose check chat/~zod/general/170 diary/~zod/blog/171`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "Output format: text or json")
}

func runCheck(cmd *cobra.Command, args []string) error {
	// Validate all addresses up-front.
	for _, addr := range args {
		if _, err := cite.ToCanonical(addr); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	svc, err := newService(ctx, false)
	if err != nil {
		return err
	}

	resultsCh := make(chan checkRow, len(args))
	for i, addr := range args {
		go func() {
			ok, err := svc.IsExposed(ctx, addr)
			resultsCh <- checkRow{idx: i, addr: addr, exposed: ok, err: err}
		}()
	}

	// Collect in input order.
	ordered := make([]checkRow, len(args))
	for range args {
		r := <-resultsCh
		ordered[r.idx] = r
	}

	if checkFormat == "json" {
		type jsonRow struct {
			Cite    string `json:"cite"`
			Exposed bool   `json:"exposed"`
			Error   string `json:"error,omitempty"`
		}
		rows := make([]jsonRow, len(ordered))
		for i, r := range ordered {
			canonical, _ := cite.ToCanonical(r.addr)
			rows[i] = jsonRow{Cite: canonical, Exposed: r.exposed}
			if r.err != nil {
				rows[i].Error = r.err.Error()
			}
		}
		return writeJSON(rows)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CITE\tEXPOSED\tERROR")
	var failed int
	for _, r := range ordered {
		canonical, _ := cite.ToCanonical(r.addr)
		if r.err != nil {
			failed++
			fmt.Fprintf(w, "%s\t\t%s\n", canonical, r.err)
			continue
		}
		fmt.Fprintf(w, "%s\t%t\t\n", canonical, r.exposed)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(ordered))
	}
	return nil
}

// ── show / hide ──────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show <address> [address] ...",
	Short: "Expose posts on the clearweb",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx, true)
		if err != nil {
			return err
		}
		for _, addr := range args {
			if err := svc.Expose(ctx, addr); err != nil {
				return fmt.Errorf("expose %q: %w", addr, err)
			}
			u, _ := svc.PublicURL(addr)
			fmt.Printf("✓ Exposed %s\n", u)
		}
		return nil
	},
}

var hideCmd = &cobra.Command{
	Use:   "hide <address> [address] ...",
	Short: "Withdraw exposed posts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newService(ctx, true)
		if err != nil {
			return err
		}
		for _, addr := range args {
			if err := svc.Hide(ctx, addr); err != nil {
				return fmt.Errorf("hide %q: %w", addr, err)
			}
			canonical, _ := cite.ToCanonical(addr)
			fmt.Printf("✓ Hidden %s\n", canonical)
		}
		return nil
	},
}

// ── eager ────────────────────────────────────────────────────────────────────

var eagerCmd = &cobra.Command{
	Use:       "eager <on|off>",
	Short:     "Toggle pre-fetching of pinned posts from other ships",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch strings.ToLower(args[0]) {
		case "on", "true", "yes":
			enabled = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}

		ctx := cmd.Context()
		svc, err := newService(ctx, true)
		if err != nil {
			return err
		}
		if err := svc.SetEagerMode(ctx, enabled); err != nil {
			return fmt.Errorf("set eager mode: %w", err)
		}
		fmt.Printf("✓ Eager mode %s\n", map[bool]string{true: "on", false: "off"}[enabled])
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyFormat   string
	verifyWatch    bool
	verifyInterval time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Fetch the public URL of every exposed post and report failures",
	Long: `verify lists the exposed posts and requests each public URL, reporting
any that are not served with a 2xx status.

With --watch it keeps probing every --interval and reports posts that stay
unreachable for three consecutive rounds. When webhook_url is configured
(env WEBHOOK_URL) each such post, and its later recovery, is also posted
there as a post.unreachable or post.recovered event, signed with
webhook_secret when one is set.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
	verifyCmd.Flags().BoolVar(&verifyWatch, "watch", false, "Keep probing until interrupted")
	verifyCmd.Flags().DurationVar(&verifyInterval, "interval", 5*time.Minute, "Time between rounds with --watch")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := newService(ctx, false)
	if err != nil {
		return err
	}

	checker := health.New(svc, health.Config{
		CheckInterval: verifyInterval,
		ProbeTimeout:  cfg.Timeout,
	}, logger)
	checker.SetMetricsRecord(metrics.RecordProbe)

	if verifyWatch {
		var notifier *webhooks.Notifier
		if cfg.WebhookURL != "" {
			notifier = webhooks.New(cfg.WebhookURL, cfg.WebhookSecret, logger)
			notifier.SetMetricsRecorder(metrics.RecordWebhookDelivery)
		}
		notify := func(ctx context.Context, event string, r health.Result, failCount int) {
			if notifier == nil {
				return
			}
			payload := map[string]string{"path": r.Path, "url": r.URL}
			if failCount > 0 {
				payload["fail_count"] = strconv.Itoa(failCount)
			}
			if err := notifier.Notify(ctx, event, payload); err != nil {
				logger.Error("webhook", zap.String("event", event), zap.Error(err))
			}
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		checker.SetDegraded(func(ctx context.Context, r health.Result, n int) {
			fmt.Fprintf(os.Stderr, "✗ %s unreachable (%d checks): %s\n", r.Path, n, r.URL)
			notify(ctx, webhooks.EventPostUnreachable, r, n)
		})
		checker.SetRecovered(func(ctx context.Context, r health.Result) {
			fmt.Fprintf(os.Stderr, "✓ %s reachable again\n", r.Path)
			notify(ctx, webhooks.EventPostRecovered, r, 0)
		})
		logger.Info("watching exposed posts", zap.Duration("interval", verifyInterval))
		checker.Start(ctx)
		return nil
	}

	results, err := checker.CheckAll(ctx)
	if err != nil {
		return fmt.Errorf("list exposed: %w", err)
	}
	if verifyFormat == "json" {
		return writeJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("Nothing exposed.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CITE\tSTATUS\tURL")
	var failed int
	for _, r := range results {
		status := strconv.Itoa(r.Status)
		if r.Error != "" {
			status = r.Error
		}
		if !r.OK {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Path, status, r.URL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d exposed posts are not reachable", failed, len(results))
	}
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the expose CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("expose %s\n", version)
	},
}
