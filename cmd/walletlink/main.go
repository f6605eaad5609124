// Package main provides the CLI entry point for walletlink.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/postalsys/walletlink/internal/agent"
	"github.com/postalsys/walletlink/internal/config"
	"github.com/postalsys/walletlink/internal/console"
	"github.com/postalsys/walletlink/internal/control"
	"github.com/postalsys/walletlink/internal/logging"
	"github.com/postalsys/walletlink/internal/opener"
	"github.com/postalsys/walletlink/internal/request"
	"github.com/postalsys/walletlink/internal/sysinfo"
	"github.com/postalsys/walletlink/internal/wizard"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "walletlink",
		Short: "walletlink - wallet deeplink client",
		Long: `walletlink talks to a mobile wallet through deeplinks. It opens
connect and signing requests in the wallet and receives the encrypted
answers back through a local callback listener or a registered URL
scheme.`,
		Version: sysinfo.ResolvedVersion(),
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(deliverCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(browseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		Long:  "Walk through an interactive setup and write a configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !console.IsInteractive(os.Stdin) {
				return fmt.Errorf("init needs an interactive terminal")
			}
			if _, err := wizard.New().Run(); err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		configPath string
		initialURL string
		noConsole  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the client",
		Long: `Start the callback listener and control socket, then show the
interactive console. Without a terminal, events are printed as they happen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			a, err := agent.New(cfg, agent.Options{InitialURL: initialURL})
			if err != nil {
				return fmt.Errorf("failed to create client: %w", err)
			}

			if err := a.Start(); err != nil {
				return fmt.Errorf("failed to start client: %w", err)
			}

			fmt.Printf("Wallet: %s://%s/%s\n", cfg.Wallet.Scheme, cfg.Wallet.Host, cfg.Wallet.Version)
			fmt.Printf("Redirects: %s\n", cfg.App.RedirectBase)
			if addr := a.CallbackAddress(); addr != "" {
				fmt.Printf("Callback listener: %s\n", addr)
			}
			if cfg.Control.Enabled {
				fmt.Printf("Control socket: %s\n", cfg.Control.SocketPath)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !noConsole && console.IsInteractive(os.Stdin) {
				c := console.New(a.Client(), a.Events(), os.Stdout, cfg.Limits.WaitTimeout)
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					fmt.Printf("Console error: %v\n", err)
				}
			} else {
				console.Tail(ctx, a.Events(), os.Stdout)
				fmt.Println("\nShutting down...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := a.StopWithContext(shutdownCtx); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			fmt.Println("Stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&initialURL, "initial-url", "", "Callback URL the OS launched this process with")
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "Print events instead of showing the interactive console")

	return cmd
}

// controlFlags resolves the control socket of a running client.
type controlFlags struct {
	configPath string
	socketPath string
}

func (f *controlFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVarP(&f.socketPath, "socket", "s", "", "Control socket path (overrides the config file)")
}

func (f *controlFlags) client() (*control.Client, error) {
	path := f.socketPath
	if path == "" {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if !cfg.Control.Enabled {
			return nil, fmt.Errorf("control socket is disabled in %s", f.configPath)
		}
		path = cfg.Control.SocketPath
	}
	return control.NewClient(path), nil
}

func deliverCmd() *cobra.Command {
	var flags controlFlags

	cmd := &cobra.Command{
		Use:   "deliver <url>",
		Short: "Hand a callback URL to the running client",
		Long: `Queue a callback URL on the running client. Register this command
as the handler of the redirect URL scheme so the OS forwards wallet answers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := c.Deliver(ctx, args[0]); err != nil {
				if errors.Is(err, control.ErrNotRunning) {
					return fmt.Errorf("walletlink is not running (start it with 'walletlink run')")
				}
				return err
			}
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func statusCmd() *cobra.Command {
	var flags controlFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Long:  "Display the session state and pending requests of the running client.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var st agent.Status
			if err := c.Status(ctx, &st); err != nil {
				return err
			}
			fmt.Println(console.FormatStatus(st.Status, time.Now()))
			fmt.Printf("\nwalletlink %s (%s, %s/%s), up %s\n",
				st.Runtime.Version, st.Runtime.GoVersion, st.Runtime.OS, st.Runtime.Arch,
				time.Duration(st.Runtime.Uptime)*time.Second)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func metricsCmd() *cobra.Command {
	var (
		flags controlFlags
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show client metrics",
		Long:  "Fetch and summarize the metrics of the running client.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			data, err := c.Metrics(ctx)
			if err != nil {
				return err
			}

			var parser expfmt.TextParser
			families, err := parser.TextToMetricFamilies(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("parse metrics: %w", err)
			}

			for _, line := range summarize(families, all) {
				fmt.Println(line)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include Go runtime and process metrics")

	return cmd
}

// summarize renders one line per sample, sorted by family name.
func summarize(families map[string]*dto.MetricFamily, all bool) []string {
	names := make([]string, 0, len(families))
	for name := range families {
		if all || strings.HasPrefix(name, "walletlink_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		mf := families[name]
		for _, m := range mf.GetMetric() {
			lines = append(lines, fmt.Sprintf("%-48s %s", name+labels(m), sampleValue(mf.GetType(), m)))
		}
	}
	return lines
}

func labels(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sampleValue(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		if h.GetSampleCount() == 0 {
			return "count=0"
		}
		return fmt.Sprintf("count=%d avg=%.3fs", h.GetSampleCount(), h.GetSampleSum()/float64(h.GetSampleCount()))
	case dto.MetricType_SUMMARY:
		return fmt.Sprintf("count=%d", m.GetSummary().GetSampleCount())
	default:
		return fmt.Sprintf("%g", m.GetUntyped().GetValue())
	}
}

func browseCmd() *cobra.Command {
	var (
		configPath string
		ref        string
		printOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "browse <url>",
		Short: "Open a web page in the wallet's in-app browser",
		Long:  "Build a browse deeplink and hand it to the configured opener. No session is needed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if ref == "" {
				ref = cfg.App.URL
			}

			target, err := request.NewBuilder(agent.RequestConfig(cfg), nil).Browse(args[0], ref)
			if err != nil {
				return err
			}

			if printOnly {
				fmt.Println(target.URL)
				return nil
			}

			op, err := opener.New(cfg.Opener.Mode, cfg.Opener.Command, os.Stdout)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			logger.Debug("opening browse target", logging.KeyURL, logging.RedactURL(target.URL))
			return op.Open(cmd.Context(), target.URL)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&ref, "ref", "", "Referring page (defaults to app.url)")
	cmd.Flags().BoolVarP(&printOnly, "print", "p", false, "Print the deeplink instead of opening it")

	return cmd
}
