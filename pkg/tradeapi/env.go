package tradeapi

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvKeyID      = "APCA_API_KEY_ID"
	EnvSecretKey  = "APCA_API_SECRET_KEY"
	EnvOAuthToken = "APCA_API_OAUTH_TOKEN"
	EnvBaseURL    = "APCA_API_BASE_URL"
	EnvDataURL    = "APCA_API_DATA_URL"
	EnvRetryMax   = "APCA_RETRY_MAX"
	EnvRetryWait  = "APCA_RETRY_WAIT"
	EnvRetryCodes = "APCA_RETRY_CODES"
)

// EnvConfig is the client configuration taken from the environment.
type EnvConfig struct {
	Credentials Credentials
	BaseURL     string
	DataURL     string
	Retry       RetryPolicy
}

// Options converts the configuration into client options.
func (e EnvConfig) Options() []Option {
	opts := []Option{WithRetryPolicy(e.Retry)}
	if e.BaseURL != "" {
		opts = append(opts, WithBaseURL(e.BaseURL))
	}
	if e.DataURL != "" {
		opts = append(opts, WithDataURL(e.DataURL))
	}
	return opts
}

// ConfigFromEnv reads credentials, endpoints and retry overrides from the
// environment. APCA_RETRY_WAIT is in seconds and APCA_RETRY_CODES is a
// comma separated list of status codes.
func ConfigFromEnv() (EnvConfig, error) {
	cfg := EnvConfig{
		Credentials: Credentials{
			KeyID:      os.Getenv(EnvKeyID),
			SecretKey:  os.Getenv(EnvSecretKey),
			OAuthToken: os.Getenv(EnvOAuthToken),
		},
		BaseURL: os.Getenv(EnvBaseURL),
		DataURL: os.Getenv(EnvDataURL),
		Retry:   DefaultRetryPolicy(),
	}

	if v := os.Getenv(EnvRetryMax); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvRetryMax, err)
		}
		cfg.Retry.MaxRetries = n
	}
	if v := os.Getenv(EnvRetryWait); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvRetryWait, err)
		}
		cfg.Retry.Wait = time.Duration(secs * float64(time.Second))
	}
	if v := os.Getenv(EnvRetryCodes); v != "" {
		codes, err := ParseStatusCodes(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvRetryCodes, err)
		}
		cfg.Retry.StatusCodes = codes
	}

	return cfg, nil
}

// NewClientFromEnv creates a client configured from the environment.
// Explicit options are applied after the environment.
func NewClientFromEnv(opts ...Option) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(cfg.Credentials, append(cfg.Options(), opts...)...)
}

// ParseStatusCodes parses a comma separated list of HTTP status codes.
func ParseStatusCodes(s string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid status code %q", part)
		}
		if code < 100 || code > 599 {
			return nil, fmt.Errorf("status code %d out of range", code)
		}
		codes = append(codes, code)
	}
	return codes, nil
}
