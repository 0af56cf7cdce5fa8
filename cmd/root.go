package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonandersen/apca/internal/config"
	"github.com/jonandersen/apca/internal/keyring"
	"github.com/jonandersen/apca/internal/logger"
	"github.com/jonandersen/apca/pkg/tradeapi"
)

var Version = "dev"

var (
	// jsonOutput controls whether output is formatted as JSON
	jsonOutput bool
	// verbose enables debug logging on stderr
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "apca",
	Short: "Brokerage trading and market data CLI",
	Long: `A CLI for trading stocks and reading market data through the Alpaca API.

Credentials are set up with 'apca configure' or taken from the
APCA_API_KEY_ID and APCA_API_SECRET_KEY environment variables.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests and retries to stderr")
}

// GetJSONMode returns whether JSON output mode is enabled.
func GetJSONMode() bool {
	return jsonOutput
}

// clientOptions holds what every API command needs to build a client.
// Tests fill it directly; production code uses loadClientOptions.
type clientOptions struct {
	creds          tradeapi.Credentials
	baseURL        string
	dataURL        string
	feed           string
	retry          tradeapi.RetryPolicy
	tradingEnabled bool
	jsonMode       bool
	log            *zap.Logger
}

// newClient builds a REST client from the options.
func (o clientOptions) newClient(extra ...tradeapi.Option) (*tradeapi.Client, error) {
	opts := []tradeapi.Option{
		tradeapi.WithBaseURL(o.baseURL),
		tradeapi.WithDataURL(o.dataURL),
		tradeapi.WithRetryPolicy(o.retry),
		tradeapi.WithLogger(o.log),
	}
	client, err := tradeapi.NewClient(o.creds, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w (run 'apca configure')", err)
	}
	return client, nil
}

// loadClientOptions reads the config file, environment and keyring.
func loadClientOptions() (clientOptions, error) {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return clientOptions{}, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Dev: cfg.Log.Dev})
	if err != nil {
		return clientOptions{}, err
	}

	store := keyring.NewEnvStore(keyring.NewSystemStore())
	creds, err := keyring.Credentials(store, cfg.KeyID)
	if err != nil {
		return clientOptions{}, err
	}

	return clientOptions{
		creds:          creds,
		baseURL:        cfg.BaseURL,
		dataURL:        cfg.DataURL,
		feed:           cfg.Feed,
		retry:          cfg.Retry.Policy(),
		tradingEnabled: cfg.TradingEnabled,
		jsonMode:       GetJSONMode(),
		log:            log,
	}, nil
}

// withClientOptions returns a PersistentPreRunE that fills *opts before
// the command runs.
func withClientOptions(opts *clientOptions) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		loaded, err := loadClientOptions()
		if err != nil {
			return err
		}
		*opts = loaded
		return nil
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
