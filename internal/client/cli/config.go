package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"tunnelsync/internal/server/service"
	"tunnelsync/pkg/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  "Manage tunnelsync configuration (endpoints, VPN preference, service settings)",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  "Initialize tunnelsync configuration with interactive prompts",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current tunnelsync configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set configuration values",
	Long:  "Set specific configuration values (endpoints, VPN preference, region, exchange key)",
	RunE:  runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration",
	Long:  "Delete the configuration file",
	RunE:  runConfigReset,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the configuration file",
	RunE:  runConfigValidate,
}

var (
	configFull        bool
	configForce       bool
	configControl     string
	configElevated    string
	configWebSocket   string
	configVPN         bool
	configBindTimeout time.Duration
	configRegion      string
	configGenerateKey bool
)

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().BoolVar(&configFull, "full", false, "Show full exchange key (not hidden)")

	configSetCmd.Flags().StringVar(&configControl, "control", "", "Control endpoint (e.g., unix:///run/tunnelsync.sock)")
	configSetCmd.Flags().StringVar(&configElevated, "elevated", "", "Elevated (VPN) endpoint, \"none\" to clear")
	configSetCmd.Flags().StringVar(&configWebSocket, "websocket", "", "WebSocket endpoint, \"none\" to clear")
	configSetCmd.Flags().BoolVar(&configVPN, "vpn", false, "Prefer VPN mode")
	configSetCmd.Flags().DurationVar(&configBindTimeout, "bind-timeout", 0, "Bind timeout override (0 uses the transport default)")
	configSetCmd.Flags().StringVar(&configRegion, "region", "", "Service region")
	configSetCmd.Flags().BoolVar(&configGenerateKey, "generate-key", false, "Generate a new exchange key")

	configResetCmd.Flags().BoolVar(&configForce, "force", false, "Force reset without confirmation")

	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	fmt.Println("\n╔═══════════════════════════════════════╗")
	fmt.Println("║  tunnelsync Configuration Setup       ║")
	fmt.Println("╚═══════════════════════════════════════╝")

	reader := bufio.NewReader(os.Stdin)
	cfg := config.Default()

	cfg.Control = prompt(reader, "Control endpoint", cfg.Control)
	cfg.Elevated = prompt(reader, "Elevated (VPN) endpoint, empty for none", "")
	cfg.PreferVPN = promptYesNo(reader, "Prefer VPN mode?")
	cfg.Service.Region = prompt(reader, "Service region", cfg.Service.Region)

	key, err := service.GenerateExchangeKey()
	if err != nil {
		return fmt.Errorf("failed to generate exchange key: %w", err)
	}
	cfg.Service.ExchangeKey = key

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.SaveClientConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println("\n✓ Configuration saved to", displayConfigPath())
	fmt.Println("✓ Exchange key generated")
	fmt.Println("✓ You can now run 'tunnelsync start'")

	return nil
}

func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptYesNo(reader *bufio.Reader, label string) bool {
	fmt.Printf("%s (y/N): ", label)
	response, _ := reader.ReadString('\n')
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Println("\n╔═══════════════════════════════════════╗")
	fmt.Println("║  Current Configuration                 ║")
	fmt.Println("╚═══════════════════════════════════════╝")

	fmt.Printf("Control:       %s\n", cfg.Control)
	fmt.Printf("Elevated:      %s\n", orNotSet(cfg.Elevated))
	fmt.Printf("WebSocket:     %s\n", orNotSet(cfg.WebSocket))
	if cfg.BindTimeout > 0 {
		fmt.Printf("Bind timeout:  %s\n", cfg.BindTimeout)
	} else {
		fmt.Println("Bind timeout:  (transport default)")
	}
	fmt.Printf("VPN:           %s\n", enabledDisabled(cfg.PreferVPN))
	fmt.Printf("State dir:     %s\n", cfg.StateDir)
	fmt.Printf("Region:        %s\n", cfg.Service.Region)
	fmt.Printf("Sponsor:       %s\n", cfg.Service.SponsorID)
	fmt.Printf("Proxy ports:   http %d, socks %d\n", cfg.Service.HTTPProxyPort, cfg.Service.SOCKSProxyPort)
	fmt.Printf("Exchange key:  %s\n", maskSecret(cfg.Service.ExchangeKey, configFull))
	fmt.Printf("Config:        %s\n\n", displayConfigPath())

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	modified := false

	if configControl != "" {
		cfg.Control = configControl
		modified = true
		fmt.Printf("✓ Control endpoint updated: %s\n", configControl)
	}
	if configElevated != "" {
		cfg.Elevated = clearable(configElevated)
		modified = true
		fmt.Printf("✓ Elevated endpoint updated: %s\n", orNotSet(cfg.Elevated))
	}
	if configWebSocket != "" {
		cfg.WebSocket = clearable(configWebSocket)
		modified = true
		fmt.Printf("✓ WebSocket endpoint updated: %s\n", orNotSet(cfg.WebSocket))
	}
	if flags.Changed("vpn") {
		cfg.PreferVPN = configVPN
		modified = true
		fmt.Printf("✓ VPN preference %s\n", enabledDisabled(configVPN))
	}
	if flags.Changed("bind-timeout") {
		cfg.BindTimeout = configBindTimeout
		modified = true
		fmt.Printf("✓ Bind timeout updated: %s\n", configBindTimeout)
	}
	if configRegion != "" {
		cfg.Service.Region = configRegion
		modified = true
		fmt.Printf("✓ Region updated: %s\n", configRegion)
	}
	if configGenerateKey {
		key, err := service.GenerateExchangeKey()
		if err != nil {
			return fmt.Errorf("failed to generate exchange key: %w", err)
		}
		cfg.Service.ExchangeKey = key
		modified = true
		fmt.Println("✓ Exchange key regenerated")
	}

	if !modified {
		return fmt.Errorf("no changes specified. Use --control, --elevated, --websocket, --vpn, --bind-timeout, --region or --generate-key")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveClientConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Println("✓ Configuration saved")
	if flags.Changed("vpn") {
		fmt.Println("  Run 'tunnelsync restart' to apply the VPN preference to a running service")
	}

	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	path := displayConfigPath()

	if !config.ConfigExists(configPath) {
		fmt.Println("No configuration file found")
		return nil
	}

	if !configForce {
		if !promptYesNo(bufio.NewReader(os.Stdin), "Are you sure you want to delete the configuration?") {
			fmt.Println("Cancelled")
			return nil
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete configuration: %w", err)
	}

	fmt.Println("✓ Configuration file deleted")

	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	fmt.Println("\nValidating configuration...")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		fmt.Println("✗ Failed to load configuration")
		return err
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("✗ %v\n", err)
		return err
	}
	fmt.Println("✓ Endpoints are valid")

	if cfg.Elevated == "" {
		fmt.Println("⚠ No elevated endpoint (VPN mode shares the control endpoint)")
	}
	if cfg.Service.ExchangeKey != "" {
		fmt.Println("✓ Exchange key is set")
	} else {
		fmt.Println("⚠ Exchange key is not set (connection info exchange will fail)")
	}

	fmt.Println("\n✓ Configuration is valid")

	return nil
}

func displayConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultClientConfigPath()
}

func clearable(v string) string {
	if v == "none" {
		return ""
	}
	return v
}

func maskSecret(secret string, full bool) string {
	switch {
	case secret == "":
		return "(not set)"
	case full:
		return secret
	case len(secret) > 10:
		return secret[:3] + "***" + secret[len(secret)-3:] + " (hidden)"
	default:
		return "*** (hidden)"
	}
}

func orNotSet(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func enabledDisabled(value bool) string {
	if value {
		return "enabled"
	}
	return "disabled"
}
