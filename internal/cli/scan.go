package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0x6d61/xssprobe/internal/analysis"
	"github.com/0x6d61/xssprobe/internal/config"
	"github.com/0x6d61/xssprobe/internal/detector"
	"github.com/0x6d61/xssprobe/internal/dispatch"
	"github.com/0x6d61/xssprobe/internal/engine"
	"github.com/0x6d61/xssprobe/internal/fingerprint"
	"github.com/0x6d61/xssprobe/internal/notify"
	"github.com/0x6d61/xssprobe/internal/observability"
	"github.com/0x6d61/xssprobe/internal/payload"
	"github.com/0x6d61/xssprobe/internal/report"
	"github.com/0x6d61/xssprobe/internal/scope"
	"github.com/0x6d61/xssprobe/internal/session"
	"github.com/0x6d61/xssprobe/internal/transport"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a target URL for XSS vulnerabilities",
		Long: `Scan fetches the target page, discovers its injection points and probes
every in-scope point with context-aware payload variants.

Flags override the matching configuration keys.`,
		RunE: runScan,
	}

	f := cmd.Flags()

	// Target flags
	f.StringP("url", "u", "", "Target URL (e.g., http://target.com/search?q=1)")
	f.String("method", "GET", "HTTP method (GET, POST)")
	f.StringP("data", "d", "", "POST data (e.g., q=1&page=2)")
	f.String("cookie", "", "Cookie string (e.g., PHPSESSID=abc123)")
	f.StringArrayP("header", "H", nil, "Extra header (repeatable, e.g., -H 'X-Custom: value')")
	f.Bool("force-ssl", false, "Force HTTPS")
	f.Bool("include-subdomains", false, "Derive the scope from the registrable domain of --url")

	// Connection flags
	f.String("proxy", "", "Proxy URL (http://host:port or socks5://host:port)")
	f.Duration("timeout", 0, "Request timeout (transport.timeout)")
	f.Bool("random-agent", false, "Use random User-Agent")
	f.Bool("fallback-beacon", false, "Fall back to a load-only beacon when a request fails")

	// Detection flags
	f.IntP("threads", "t", 0, "Injection points probed concurrently (scan.concurrency)")
	f.String("vuln-class", "", "Payload class: reflected, dom, stored (detection.vuln_class)")
	f.Bool("links", false, "Also probe same-host links found on the page (scan.links)")

	// Output flags
	f.StringP("output", "o", "", "Output file path (report.output)")
	f.StringP("format", "f", "", "Output format: text, json (report.format)")
	f.String("webhook", "", "Webhook URL for vulnerability notifications (notify.webhook_url)")
	f.String("store", "", "SQLite store for scan records and findings (notify.store_path)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (metrics.addr)")

	return cmd
}

// runScan is the scan command handler. It wires up the full pipeline:
// transport -> dispatcher -> detector -> scanner -> sinks -> report.
func runScan(cmd *cobra.Command, args []string) error {
	status := cmd.ErrOrStderr()
	fmt.Fprintln(status, "[!] Legal disclaimer: Usage of xssprobe for attacking targets without prior mutual consent is illegal.")

	// ------------------------------------------------------------------ //
	// 1. Read flags and configuration
	// ------------------------------------------------------------------ //
	targetURL, _ := cmd.Flags().GetString("url")
	if targetURL == "" {
		return fmt.Errorf("target URL is required (use --url or -u)")
	}

	method, _ := cmd.Flags().GetString("method")
	data, _ := cmd.Flags().GetString("data")
	cookieStr, _ := cmd.Flags().GetString("cookie")
	rawHeaders, _ := cmd.Flags().GetStringArray("header")
	forceSSL, _ := cmd.Flags().GetBool("force-ssl")
	includeSubdomains, _ := cmd.Flags().GetBool("include-subdomains")
	verbose, _ := cmd.Flags().GetInt("verbose")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.InitializeLogger(cfg.Logger)
	defer observability.Sync()

	// ------------------------------------------------------------------ //
	// 2. Normalize URL and method
	// ------------------------------------------------------------------ //
	if forceSSL {
		targetURL = strings.Replace(targetURL, "http://", "https://", 1)
		if !strings.HasPrefix(targetURL, "https://") {
			targetURL = "https://" + targetURL
		}
	}
	method = strings.ToUpper(method)
	if data != "" && method == http.MethodGet {
		method = http.MethodPost
	}

	headers := mergeMaps(cfg.Transport.Headers, parseHeaders(rawHeaders))
	cookies := mergeMaps(cfg.Transport.Cookies, parseCookieString(cookieStr))

	// ------------------------------------------------------------------ //
	// 3. Transport client
	// ------------------------------------------------------------------ //
	client, err := newClient(cfg.Transport, logger)
	if err != nil {
		return err
	}

	// ------------------------------------------------------------------ //
	// 4. Context (CTRL+C cancels the scan gracefully)
	// ------------------------------------------------------------------ //
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	// ------------------------------------------------------------------ //
	// 5. Metrics endpoint (optional)
	// ------------------------------------------------------------------ //
	reg := prometheus.NewRegistry()
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics, reg, logger)
		defer stop()
		fmt.Fprintf(status, "[*] Metrics: http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}

	// ------------------------------------------------------------------ //
	// 6. Scope
	// ------------------------------------------------------------------ //
	sc, err := buildScope(cfg.Scope, targetURL, includeSubdomains)
	if err != nil {
		return err
	}

	// ------------------------------------------------------------------ //
	// 7. Store and sinks
	// ------------------------------------------------------------------ //
	scanID := uuid.New().String()
	var store session.Store
	if cfg.Notify.StorePath != "" {
		s, err := session.NewSQLiteStore(cfg.Notify.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open store %q: %w", cfg.Notify.StorePath, err)
		}
		defer s.Close()
		store = s

		if prev, err := store.Load(ctx, targetURL); err == nil && prev != nil {
			fmt.Fprintf(status, "[*] Previous scan %s of this target found %d vulnerable point(s)\n",
				prev.ID, prev.Vulnerable)
		}
	}
	sink := buildSink(cfg.Notify, store, scanID, logger)

	// ------------------------------------------------------------------ //
	// 8. Build scanner
	// ------------------------------------------------------------------ //
	scanner := buildScanner(client, cfg, logger,
		[]dispatch.Option{dispatch.WithMetrics(reg)},
		engine.WithScope(sc.Check),
		engine.WithSink(sink),
	)

	if verbose > 0 {
		scanner.SetProgressCallback(func(msg string) {
			fmt.Fprintf(status, "[*] %s\n", msg)
		})
		fmt.Fprintf(status, "[*] Target: %s\n", targetURL)
		fmt.Fprintf(status, "[*] Method: %s\n", method)
		fmt.Fprintf(status, "[*] Payload class: %s\n", cfg.Detection.VulnClass)
		if cfg.Transport.Proxy != "" {
			fmt.Fprintf(status, "[*] Proxy: %s\n", cfg.Transport.Proxy)
		}
	}

	// ------------------------------------------------------------------ //
	// 9. Build ScanTarget
	// ------------------------------------------------------------------ //
	target := engine.ScanTarget{
		URL:     targetURL,
		Method:  method,
		Headers: headers,
		Body:    data,
		Cookies: cookies,
	}
	if data != "" {
		if _, hasContentType := headers["Content-Type"]; !hasContentType {
			target.ContentType = "application/x-www-form-urlencoded"
		}
	}

	// ------------------------------------------------------------------ //
	// 10. Run scan
	// ------------------------------------------------------------------ //
	fmt.Fprintf(status, "[*] Starting scan against: %s\n", targetURL)

	result, err := scanner.Scan(ctx, target)
	if err != nil {
		if errors.Is(err, engine.ErrOutOfScope) {
			return fmt.Errorf("scan refused: %w", err)
		}
		return fmt.Errorf("scan error: %w", err)
	}

	// ------------------------------------------------------------------ //
	// 11. Save to store
	// ------------------------------------------------------------------ //
	if store != nil {
		if err := store.Save(ctx, session.RecordFrom(scanID, result)); err != nil {
			logger.Warn("scan record not saved", zap.String("scan_id", scanID), zap.Error(err))
		}
	}

	// ------------------------------------------------------------------ //
	// 12. Generate report
	// ------------------------------------------------------------------ //
	return writeReport(ctx, cfg.Report, verbose, result, cmd.OutOrStdout())
}

// applyScanFlags copies explicitly set flags over cfg.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("proxy") {
		cfg.Transport.Proxy, _ = f.GetString("proxy")
	}
	if f.Changed("timeout") {
		cfg.Transport.Timeout, _ = f.GetDuration("timeout")
	}
	if f.Changed("random-agent") {
		cfg.Transport.RandomUserAgent, _ = f.GetBool("random-agent")
	}
	if f.Changed("fallback-beacon") {
		cfg.Transport.FallbackBeacon, _ = f.GetBool("fallback-beacon")
	}
	if f.Changed("threads") {
		cfg.Scan.Concurrency, _ = f.GetInt("threads")
	}
	if f.Changed("vuln-class") {
		class, _ := f.GetString("vuln-class")
		cfg.Detection.VulnClass = strings.ToLower(class)
	}
	if f.Changed("links") {
		cfg.Scan.Links, _ = f.GetBool("links")
	}
	if f.Changed("output") {
		cfg.Report.Output, _ = f.GetString("output")
	}
	if f.Changed("format") {
		format, _ := f.GetString("format")
		cfg.Report.Format = strings.ToLower(format)
	}
	if f.Changed("webhook") {
		cfg.Notify.WebhookURL, _ = f.GetString("webhook")
	}
	if f.Changed("store") {
		cfg.Notify.StorePath, _ = f.GetString("store")
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = f.GetString("metrics-addr")
	}
}

// --------------------------------------------------------------------------
// Scanner wiring helpers
// --------------------------------------------------------------------------

// newClient creates the transport client, wrapped in the beacon fallback
// when enabled.
func newClient(tc config.TransportConfig, logger *zap.Logger) (transport.Client, error) {
	client, err := transport.NewClient(transport.ClientOptions{
		Timeout:            tc.Timeout,
		ProxyURL:           tc.Proxy,
		FollowRedirects:    tc.FollowRedirects,
		InsecureSkipVerify: tc.InsecureSkipVerify,
		RandomUserAgent:    tc.RandomUserAgent,
		MaxRPS:             tc.MaxRPS,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	if tc.FallbackBeacon {
		return transport.WithFallback(client, transport.NewImageBeacon(&http.Client{Timeout: tc.Timeout})), nil
	}
	return client, nil
}

// buildScanner creates an engine.Scanner wired with all real
// implementations: the environment fingerprinter, the context classifier,
// the payload generator for the configured class, the result analyzer and
// page discovery. The detector's dispatcher sends through client.
func buildScanner(client transport.Client, cfg *config.Config, logger *zap.Logger, dispatchOpts []dispatch.Option, opts ...engine.ScannerOption) *engine.Scanner {
	dispatchOpts = append([]dispatch.Option{dispatch.WithLogger(logger)}, dispatchOpts...)
	dispatcher := dispatch.New(client, cfg.Dispatch, dispatchOpts...)

	det := engine.NewDetector(dispatcher,
		engine.WithFingerprinter(fingerprint.New(cfg.Detection.Frameworks, logger).Fingerprint),
		engine.WithClassifier(detector.NewClassifier(logger).Classify),
		engine.WithGenerator(buildGenerator(cfg.Detection, logger)),
		engine.WithSegmenter(payload.SegmentBody),
		engine.WithAnalyzer(analysis.New(logger,
			analysis.WithThreshold(cfg.Detection.Threshold),
			analysis.WithWindow(cfg.Detection.Window),
		).Analyze),
		engine.WithDetectorLogger(logger),
	)

	opts = append([]engine.ScannerOption{
		engine.WithDiscoverer(buildDiscoverer(cfg.Scan)),
		engine.WithGlobals(detector.PageGlobals),
		engine.WithLogger(logger),
	}, opts...)
	return engine.NewScanner(client, det, &engine.ScanConfig{Concurrency: cfg.Scan.Concurrency}, opts...)
}

// buildGenerator selects the base payload of the configured class for each
// point's context and expands it into variants. Sequences the detected
// server is known to reject are blacklisted.
func buildGenerator(dc config.DetectionConfig, logger *zap.Logger) engine.GenerateFunc {
	catalog := payload.DefaultCatalog()
	gen := payload.NewGenerator(logger)
	class := payload.VulnClass(dc.VulnClass)
	return func(p engine.InjectionPoint, c engine.Context, env engine.Environment) []engine.Variant {
		base, ok := catalog.Select(class, c)
		if !ok {
			return nil
		}
		return gen.Generate(base, c, env, payload.Options{
			Token:         p.Token,
			MinConfidence: dc.MinConfidence,
			Combine:       dc.CombineTransforms,
			Blacklist:     fingerprint.Blacklist(env.Server),
		})
	}
}

func buildDiscoverer(sc config.ScanConfig) engine.DiscoverFunc {
	opts := detector.DiscoverOptions{
		Parameters:   sc.Parameters,
		Forms:        sc.Forms,
		HiddenInputs: sc.HiddenInputs,
		PseudoStatic: sc.PseudoStatic,
		Links:        sc.Links,
	}
	return func(page engine.Page, base engine.ScanTarget) []engine.InjectionPoint {
		return detector.Discover(page, base, opts)
	}
}

// buildScope returns the configured allow-list, or one derived from
// targetURL when the configuration lists no targets.
func buildScope(sc config.ScopeConfig, targetURL string, includeSubdomains bool) (*scope.Scope, error) {
	if len(sc.Targets) > 0 {
		return scope.New(sc.Targets), nil
	}
	t, err := scope.TargetFor(targetURL, includeSubdomains)
	if err != nil {
		return nil, err
	}
	return scope.New([]scope.Target{t}), nil
}

// buildSink fans vulnerable verdicts out to the webhook and the store,
// whichever are configured.
func buildSink(nc config.NotifyConfig, store session.Store, scanID string, logger *zap.Logger) *notify.Multi {
	var sinks []engine.Sink
	if nc.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(nc.WebhookURL, nc.Timeout, logger))
	}
	if store != nil {
		sinks = append(sinks, session.Recorder(store, scanID))
	}
	return notify.NewMulti(logger, sinks...)
}

// serveMetrics exposes reg over HTTP until the returned function is called.
func serveMetrics(mc config.MetricsConfig, reg *prometheus.Registry, logger *zap.Logger) func() {
	path := mc.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: mc.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", mc.Addr), zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// writeReport renders result to rc.Output, or to stdout when unset.
func writeReport(ctx context.Context, rc config.ReportConfig, verbose int, result *engine.ScanResult, stdout io.Writer) error {
	reporter, err := report.New(rc.Format, report.Options{Verbose: verbose})
	if err != nil {
		return fmt.Errorf("unknown report format %q: %w", rc.Format, err)
	}

	out := stdout
	if rc.Output != "" {
		f, err := os.Create(rc.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file %q: %w", rc.Output, err)
		}
		defer f.Close()
		out = f
	}

	if err := reporter.Generate(ctx, result, out); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Flag helpers
// --------------------------------------------------------------------------

// parseCookieString parses a cookie header string (e.g., "name1=val1; name2=val2")
// into a map of name->value pairs.
func parseCookieString(raw string) map[string]string {
	cookies := make(map[string]string)
	if raw == "" {
		return cookies
	}
	for _, pair := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" {
			cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return cookies
}

// parseHeaders parses header strings (e.g., "X-Custom: value") into a map.
func parseHeaders(rawHeaders []string) map[string]string {
	headers := make(map[string]string)
	for _, h := range rawHeaders {
		name, value, ok := strings.Cut(h, ":")
		if ok {
			headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	return headers
}

// mergeMaps returns base overlaid with override. Both may be nil.
func mergeMaps(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
