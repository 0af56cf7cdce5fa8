package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jonandersen/apca/internal/config"
	"github.com/jonandersen/apca/internal/keyring"
	"github.com/jonandersen/apca/pkg/tradeapi"
)

// passwordReader abstracts terminal password input for testing.
type passwordReader interface {
	ReadPassword() (string, error)
	IsTerminal() bool
}

// terminalReader reads passwords from the terminal using golang.org/x/term.
type terminalReader struct {
	fd int
}

// newTerminalReader creates a reader for the given file descriptor.
func newTerminalReader(fd int) *terminalReader {
	return &terminalReader{fd: fd}
}

func (r *terminalReader) ReadPassword() (string, error) {
	password, err := term.ReadPassword(r.fd)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func (r *terminalReader) IsTerminal() bool {
	return term.IsTerminal(r.fd)
}

// prompter abstracts interactive menu selection for testing.
type prompter interface {
	SelectOption(options []string) (int, error)
	ReadLine(prompt string) (string, error)
}

// terminalPrompter implements prompter using stdin.
type terminalPrompter struct {
	scanner *bufio.Scanner
	writer  io.Writer
}

func newTerminalPrompter(r io.Reader, w io.Writer) *terminalPrompter {
	return &terminalPrompter{scanner: bufio.NewScanner(r), writer: w}
}

func (p *terminalPrompter) SelectOption(options []string) (int, error) {
	for {
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("no input")
		}
		input := strings.TrimSpace(p.scanner.Text())
		idx, err := strconv.Atoi(input)
		if err != nil || idx < 1 || idx > len(options) {
			_, _ = fmt.Fprintf(p.writer, "Please enter a number between 1 and %d: ", len(options))
			continue
		}
		return idx - 1, nil
	}
}

func (p *terminalPrompter) ReadLine(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.writer, prompt)
	if !p.scanner.Scan() {
		return "", p.scanner.Err()
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// configureOptions holds dependencies for the configure command.
// This allows for dependency injection in tests.
type configureOptions struct {
	configPath     string
	store          keyring.Store
	passwordReader passwordReader
	prompt         prompter

	// baseURL, when set, replaces the trading endpoint chosen during setup.
	baseURL string
}

// configureFlags holds the flag values of the configure command.
type configureFlags struct {
	keyID string
	live  bool
}

// newConfigureCmd creates the configure command with the given options.
func newConfigureCmd(opts configureOptions) *cobra.Command {
	var flags configureFlags

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Configure CLI credentials",
		Long: `Configure the CLI with your API key.

The key ID is saved in the config file and the secret key in the system
keyring. New setups use paper trading unless --live is given.

Example:
  apca configure
  apca configure --key-id PKXXXXXXXXXXXXXXXX
  apca configure --live`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd, opts, flags)
		},
	}

	cmd.Flags().StringVar(&flags.keyID, "key-id", "", "API key ID (prompted for when omitted)")
	cmd.Flags().BoolVar(&flags.live, "live", false, "Use the live trading endpoint instead of paper trading")

	// Don't show usage info on validation errors - just show the error
	cmd.SilenceUsage = true

	return cmd
}

// reconfigureMenuOptions defines the menu options when already configured.
var reconfigureMenuOptions = []string{
	"Configure new API key",
	"Switch between paper and live trading",
	"View current configuration",
	"Clear secret key",
}

func runConfigure(cmd *cobra.Command, opts configureOptions, flags configureFlags) error {
	if !opts.passwordReader.IsTerminal() {
		return fmt.Errorf("configure requires an interactive terminal\nRun this command directly in your terminal (not piped or in a script)")
	}

	_, err := opts.store.Get(keyring.ServiceName, keyring.KeySecretKey)
	if err == nil && flags.keyID == "" && !flags.live {
		return runReconfigureMenu(cmd, opts)
	}

	return runInitialSetup(cmd, opts, flags)
}

// runReconfigureMenu shows the reconfigure menu when already configured.
func runReconfigureMenu(cmd *cobra.Command, opts configureOptions) error {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "CLI is already configured. What would you like to do?")
	_, _ = fmt.Fprintln(out)
	for i, opt := range reconfigureMenuOptions {
		_, _ = fmt.Fprintf(out, "  %d. %s\n", i+1, opt)
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprint(out, "Select option: ")

	choice, err := opts.prompt.SelectOption(reconfigureMenuOptions)
	if err != nil {
		return fmt.Errorf("failed to read selection: %w", err)
	}

	switch choice {
	case 0:
		return runInitialSetup(cmd, opts, configureFlags{})
	case 1:
		return runSwitchEnvironment(cmd, opts)
	case 2:
		return runViewConfiguration(cmd, opts)
	case 3:
		return runClearSecret(cmd, opts)
	default:
		return fmt.Errorf("invalid selection")
	}
}

// loadOrDefault loads the config, falling back to defaults when the file
// cannot be read.
func loadOrDefault(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// runInitialSetup prompts for the key pair, verifies it and saves it.
func runInitialSetup(cmd *cobra.Command, opts configureOptions, flags configureFlags) error {
	out := cmd.OutOrStdout()

	keyID := flags.keyID
	if keyID == "" {
		var err error
		keyID, err = opts.prompt.ReadLine("Enter your API key ID: ")
		if err != nil {
			return fmt.Errorf("failed to read key ID: %w", err)
		}
	}
	if keyID == "" {
		return fmt.Errorf("key ID cannot be empty")
	}

	_, _ = fmt.Fprint(out, "Enter your secret key: ")
	secretKey, err := opts.passwordReader.ReadPassword()
	if err != nil {
		return fmt.Errorf("failed to read secret key: %w", err)
	}
	_, _ = fmt.Fprintln(out) // newline after hidden input

	if secretKey == "" {
		return fmt.Errorf("secret key cannot be empty")
	}

	cfg := loadOrDefault(opts.configPath)
	cfg.KeyID = keyID
	if flags.live {
		cfg.BaseURL = tradeapi.LiveBaseURL
	}
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}

	account, err := verifyCredentials(cmd.Context(), cfg, tradeapi.Credentials{KeyID: keyID, SecretKey: secretKey})
	if err != nil {
		return fmt.Errorf("failed to validate API key: %w", err)
	}

	if err := opts.store.Set(keyring.ServiceName, keyring.KeySecretKey, secretKey); err != nil {
		return fmt.Errorf("failed to store secret in keyring: %w", err)
	}

	if err := config.Save(opts.configPath, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Authenticated as account %s (%s trading)\n", account.AccountNumber, environmentName(cfg.BaseURL))
	_, _ = fmt.Fprintln(out, "Configuration saved successfully!")
	return nil
}

// verifyCredentials fetches the account to prove the key pair works.
func verifyCredentials(ctx context.Context, cfg *config.Config, creds tradeapi.Credentials) (*tradeapi.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client, err := tradeapi.NewClient(creds,
		tradeapi.WithBaseURL(cfg.BaseURL),
		tradeapi.WithRetryPolicy(tradeapi.RetryPolicy{}),
	)
	if err != nil {
		return nil, err
	}
	return client.GetAccount(ctx)
}

func environmentName(baseURL string) string {
	if tradeapi.IsPaperURL(baseURL) {
		return "paper"
	}
	return "live"
}

// runSwitchEnvironment moves the configuration between paper and live.
func runSwitchEnvironment(cmd *cobra.Command, opts configureOptions) error {
	out := cmd.OutOrStdout()
	cfg := loadOrDefault(opts.configPath)

	_, _ = fmt.Fprintf(out, "\nCurrently using %s trading (%s).\n", environmentName(cfg.BaseURL), cfg.BaseURL)
	_, _ = fmt.Fprintln(out, "  1. Paper trading")
	_, _ = fmt.Fprintln(out, "  2. Live trading")
	_, _ = fmt.Fprint(out, "Select environment: ")

	choice, err := opts.prompt.SelectOption([]string{"paper", "live"})
	if err != nil {
		return fmt.Errorf("failed to read selection: %w", err)
	}

	if choice == 1 {
		cfg.BaseURL = tradeapi.LiveBaseURL
	} else {
		cfg.BaseURL = tradeapi.PaperBaseURL
	}
	if err := config.Save(opts.configPath, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Now using %s trading. Paper and live accounts have different API keys; run 'apca configure' again if needed.\n", environmentName(cfg.BaseURL))
	return nil
}

// runViewConfiguration displays the current configuration.
func runViewConfiguration(cmd *cobra.Command, opts configureOptions) error {
	out := cmd.OutOrStdout()
	cfg := loadOrDefault(opts.configPath)

	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Current Configuration:")
	_, _ = fmt.Fprintln(out, "----------------------")

	keyID := cfg.KeyID
	if keyID == "" {
		keyID = "Not set"
	}
	_, _ = fmt.Fprintf(out, "Key ID: %s\n", keyID)

	if _, err := opts.store.Get(keyring.ServiceName, keyring.KeySecretKey); err == nil {
		_, _ = fmt.Fprintln(out, "Secret key: Configured")
	} else {
		_, _ = fmt.Fprintln(out, "Secret key: Not configured")
	}

	_, _ = fmt.Fprintf(out, "Environment: %s (%s)\n", environmentName(cfg.BaseURL), cfg.BaseURL)
	_, _ = fmt.Fprintf(out, "Data URL: %s\n", cfg.DataURL)
	_, _ = fmt.Fprintf(out, "Feed: %s\n", cfg.Feed)
	_, _ = fmt.Fprintf(out, "Trading enabled: %t\n", cfg.TradingEnabled)
	_, _ = fmt.Fprintf(out, "Retries: %d every %s on %v\n", cfg.Retry.Max, cfg.Retry.Wait, cfg.Retry.Codes)

	return nil
}

// runClearSecret removes the stored secrets.
func runClearSecret(cmd *cobra.Command, opts configureOptions) error {
	for _, key := range []string{keyring.KeySecretKey, keyring.KeyOAuthToken} {
		if err := opts.store.Delete(keyring.ServiceName, key); err != nil {
			return fmt.Errorf("failed to clear secret: %w", err)
		}
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Secret key cleared successfully.")
	return nil
}

func init() {
	configureCmd := newConfigureCmd(configureOptions{
		configPath:     config.ConfigPath(),
		store:          keyring.NewSystemStore(),
		passwordReader: newTerminalReader(int(os.Stdin.Fd())),
		prompt:         newTerminalPrompter(os.Stdin, os.Stdout),
	})
	rootCmd.AddCommand(configureCmd)
}
