// Package wizard provides an interactive setup wizard for walletlink.
package wizard

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/postalsys/walletlink/internal/config"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Answers holds everything the wizard asks. buildConfig turns it into a
// Config without further prompting.
type Answers struct {
	ConfigPath string
	DataDir    string

	AppURL  string
	Cluster string

	Wallet         string // preset name or "custom"
	UniversalLinks bool
	Scheme         string
	Host           string
	KeyParam       string

	RedirectMode   string // "listener" or "scheme"
	ListenAddr     string
	RedirectScheme string
	Correlate      bool

	OpenerMode    string
	OpenerCommand string

	LogLevel       string
	ControlEnabled bool
	EventsEnabled  bool
}

// walletPreset is a known wallet deeplink endpoint.
type walletPreset struct {
	label     string
	scheme    string
	host      string
	universal string // host for https universal links
	keyParam  string
}

var presets = map[string]walletPreset{
	"solflare": {"Solflare", "solflare", "ul", "solflare.com/ul", "solflare_encryption_public_key"},
	"phantom":  {"Phantom", "phantom", "ul", "phantom.app/ul", "phantom_encryption_public_key"},
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := defaultAnswers()

	steps := []func(*Answers) error{
		w.askBasicSetup,
		w.askApp,
		w.askWallet,
		w.askRedirects,
		w.askOpener,
		w.askAdvancedOptions,
	}
	for _, step := range steps {
		if err := step(&a); err != nil {
			return nil, err
		}
	}

	cfg := buildConfig(a)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := writeConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
	}, nil
}

func defaultAnswers() Answers {
	d := config.Default()
	return Answers{
		ConfigPath:     "./config.yaml",
		DataDir:        "./data",
		AppURL:         d.App.URL,
		Cluster:        d.App.Cluster,
		Wallet:         "solflare",
		RedirectMode:   "listener",
		ListenAddr:     d.Callback.Address,
		RedirectScheme: "walletlink",
		Correlate:      d.Wallet.Correlate,
		OpenerMode:     d.Opener.Mode,
		LogLevel:       d.Logging.Level,
		ControlEnabled: d.Control.Enabled,
		EventsEnabled:  d.Callback.Events,
	}
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
                _ _      _   _ _       _
 __      ____ _| | | ___| |_| (_)_ __ | | __
 \ \ /\ / / _' | | |/ _ \ __| | | '_ \| |/ /
  \ V  V / (_| | | |  __/ |_| | | | | |   <
   \_/\_/ \__,_|_|_|\___|\__|_|_|_| |_|_|\_\
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Wallet Deeplink Client - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Configure where walletlink keeps its files."),

			huh.NewInput().
				Title("Data Directory").
				Description("Holds the control socket").
				Placeholder("./data").
				Value(&a.DataDir).
				Validate(required("data directory")),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./config.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askApp(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Application").
				Description("How the wallet identifies this app."),

			huh.NewInput().
				Title("App URL").
				Description("Shown by the wallet on connect and used as the browse referrer").
				Placeholder("https://example.org").
				Value(&a.AppURL).
				Validate(validateAbsoluteURL),

			huh.NewSelect[string]().
				Title("Cluster").
				Options(
					huh.NewOption("Devnet", "devnet"),
					huh.NewOption("Testnet", "testnet"),
					huh.NewOption("Mainnet Beta", "mainnet-beta"),
				).
				Value(&a.Cluster),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askWallet(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Wallet").
				Description("Which wallet receives the deeplinks."),

			huh.NewSelect[string]().
				Title("Wallet").
				Options(
					huh.NewOption("Solflare", "solflare"),
					huh.NewOption("Phantom", "phantom"),
					huh.NewOption("Custom endpoint", "custom"),
				).
				Value(&a.Wallet),

			huh.NewConfirm().
				Title("Use universal links?").
				Description("https links work without the wallet's custom scheme being registered").
				Value(&a.UniversalLinks),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}
	if a.Wallet != "custom" {
		return nil
	}

	a.Scheme = "solflare"
	a.Host = "ul"
	a.KeyParam = "counterparty_encryption_public_key"
	custom := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Scheme").
				Value(&a.Scheme).
				Validate(required("scheme")),
			huh.NewInput().
				Title("Host").
				Description("Host and optional path prefix, e.g. ul or wallet.example/ul").
				Value(&a.Host).
				Validate(required("host")),
			huh.NewInput().
				Title("Encryption key parameter").
				Description("Callback parameter carrying the wallet's encryption key").
				Value(&a.KeyParam).
				Validate(required("parameter name")),
		),
	).WithTheme(w.theme)

	return custom.Run()
}

func (w *Wizard) askRedirects(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Redirects").
				Description("How the wallet's answers reach walletlink."),

			huh.NewSelect[string]().
				Title("Redirect target").
				Options(
					huh.NewOption("Local HTTP listener (Recommended)", "listener"),
					huh.NewOption("Custom URL scheme registered with the OS", "scheme"),
				).
				Value(&a.RedirectMode),

			huh.NewConfirm().
				Title("Tag redirects with request ids?").
				Description("Lets several requests of the same kind be outstanding at once").
				Value(&a.Correlate),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}

	var field huh.Field
	if a.RedirectMode == "listener" {
		field = huh.NewInput().
			Title("Listen Address").
			Description("Loopback address for the callback listener").
			Placeholder("127.0.0.1:8787").
			Value(&a.ListenAddr).
			Validate(validateListenAddr)
	} else {
		field = huh.NewInput().
			Title("URL Scheme").
			Description("Register it to run: walletlink deliver <url>").
			Placeholder("walletlink").
			Value(&a.RedirectScheme).
			Validate(required("scheme"))
	}

	return huh.NewForm(huh.NewGroup(field)).WithTheme(w.theme).Run()
}

func (w *Wizard) askOpener(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Opening Links").
				Description("How outbound deeplinks are handed to the wallet."),

			huh.NewSelect[string]().
				Title("Opener").
				Options(
					huh.NewOption("System default handler", "system"),
					huh.NewOption("Print the link (scan or copy it yourself)", "print"),
					huh.NewOption("Run a command", "command"),
				).
				Value(&a.OpenerMode),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return err
	}
	if a.OpenerMode != "command" {
		return nil
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Command").
				Description("The link is appended as the last argument").
				Placeholder("termux-open-url").
				Value(&a.OpenerCommand).
				Validate(required("command")),
		),
	).WithTheme(w.theme).Run()
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options").
				Description("Configure monitoring and logging."),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewConfirm().
				Title("Enable control socket?").
				Description("Unix socket for deliver, status and metrics commands").
				Value(&a.ControlEnabled),

			huh.NewConfirm().
				Title("Enable event stream?").
				Description("WebSocket at /events on the callback listener").
				Value(&a.EventsEnabled),
		),
	).WithTheme(w.theme)

	return form.Run()
}

// buildConfig maps wizard answers onto the default configuration.
func buildConfig(a Answers) *config.Config {
	cfg := config.Default()

	cfg.App.URL = a.AppURL
	cfg.App.Cluster = a.Cluster

	if p, ok := presets[a.Wallet]; ok {
		cfg.Wallet.Scheme = p.scheme
		cfg.Wallet.Host = p.host
		cfg.Wallet.EncryptionKeyParam = p.keyParam
		if a.UniversalLinks {
			cfg.Wallet.Scheme = "https"
			cfg.Wallet.Host = p.universal
		}
	} else {
		cfg.Wallet.Scheme = a.Scheme
		cfg.Wallet.Host = a.Host
		cfg.Wallet.EncryptionKeyParam = a.KeyParam
	}
	cfg.Wallet.Correlate = a.Correlate

	// Callback listener
	if a.RedirectMode == "scheme" {
		cfg.App.RedirectBase = strings.TrimSuffix(a.RedirectScheme, "://") + "://"
		cfg.Callback.Enabled = a.EventsEnabled
	} else {
		cfg.App.RedirectBase = "http://" + a.ListenAddr
		cfg.Callback.Enabled = true
	}
	if a.ListenAddr != "" {
		cfg.Callback.Address = a.ListenAddr
	}
	cfg.Callback.Events = a.EventsEnabled

	// Opener
	cfg.Opener.Mode = a.OpenerMode
	cfg.Opener.Command = a.OpenerCommand

	// Control
	cfg.Control.Enabled = a.ControlEnabled
	cfg.Control.SocketPath = filepath.Join(a.DataDir, "control.sock")

	cfg.Logging.Level = a.LogLevel
	cfg.Logging.Format = "text"

	return cfg
}

func writeConfig(cfg *config.Config, path string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Add header comment
	header := `# walletlink configuration
# Generated by setup wizard

`
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Wallet:       %s://%s/%s\n", cfg.Wallet.Scheme, cfg.Wallet.Host, cfg.Wallet.Version)
	fmt.Printf("  Redirects:    %s\n", cfg.App.RedirectBase)
	fmt.Printf("  Cluster:      %s\n", cfg.App.Cluster)
	fmt.Println()

	if cfg.Callback.Enabled {
		fmt.Printf("  Listener:     http://%s\n", cfg.Callback.Address)
	}
	if cfg.Control.Enabled {
		fmt.Printf("  Control:      %s\n", cfg.Control.SocketPath)
	}
	if !cfg.ListenerServesRedirects() {
		fmt.Println()
		fmt.Println("  Register the redirect scheme with your OS so that it runs:")
		fmt.Printf("    walletlink deliver -c %s <url>\n", configPath)
	}

	fmt.Println()
	fmt.Println("  To start walletlink:")
	fmt.Printf("    walletlink run -c %s\n", configPath)
	fmt.Println()
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateAbsoluteURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("enter an absolute URL such as https://example.org")
	}
	return nil
}

func validateListenAddr(s string) error {
	if s == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	return nil
}
