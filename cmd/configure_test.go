package cmd

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonandersen/apca/internal/config"
	"github.com/jonandersen/apca/internal/keyring"
	"github.com/jonandersen/apca/pkg/tradeapi"
)

// mockPasswordReader is a test double for password input.
type mockPasswordReader struct {
	password   string
	err        error
	isTerminal bool
	readCalled bool
}

func newMockPasswordReader(password string, isTerminal bool) *mockPasswordReader {
	return &mockPasswordReader{
		password:   password,
		isTerminal: isTerminal,
	}
}

func (m *mockPasswordReader) WithError(err error) *mockPasswordReader {
	m.err = err
	return m
}

func (m *mockPasswordReader) ReadPassword() (string, error) {
	m.readCalled = true
	if m.err != nil {
		return "", m.err
	}
	return m.password, nil
}

func (m *mockPasswordReader) IsTerminal() bool {
	return m.isTerminal
}

// mockPrompt is a test double for interactive menu prompts.
type mockPrompt struct {
	selections []int    // Which option to select for each call
	callIndex  int      // Current call index
	lines      []string // Lines to return for ReadLine calls
	lineIndex  int      // Current line index
}

func newMockPrompt(selections ...int) *mockPrompt {
	return &mockPrompt{selections: selections}
}

func (m *mockPrompt) WithLines(lines ...string) *mockPrompt {
	m.lines = lines
	return m
}

func (m *mockPrompt) SelectOption(options []string) (int, error) {
	if m.callIndex >= len(m.selections) {
		return 0, errors.New("no more mock selections")
	}
	idx := m.selections[m.callIndex]
	m.callIndex++
	return idx, nil
}

func (m *mockPrompt) ReadLine(prompt string) (string, error) {
	if m.lineIndex >= len(m.lines) {
		return "", nil
	}
	line := m.lines[m.lineIndex]
	m.lineIndex++
	return line, nil
}

// isolateConfigEnv keeps host APCA_* variables out of config.Load.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		tradeapi.EnvKeyID, tradeapi.EnvBaseURL, tradeapi.EnvDataURL,
		tradeapi.EnvRetryMax, tradeapi.EnvRetryWait, tradeapi.EnvRetryCodes,
		"APCA_DATA_FEED", "APCA_TRADING_ENABLED", "APCA_LOG_LEVEL",
	} {
		t.Setenv(env, "")
	}
}

// accountServer answers /v2/account when the expected key pair is sent.
func accountServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/account" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("APCA-API-KEY-ID") != "PKNEW" || r.Header.Get("APCA-API-SECRET-KEY") != "new-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code": 40110000, "message": "request is not authorized"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"account_number": "PA3XYZ", "status": "ACTIVE"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestConfigureCmd_Success(t *testing.T) {
	isolateConfigEnv(t)
	server := accountServer(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	store := keyring.NewMockStore()

	cmd := newConfigureCmd(configureOptions{
		configPath:     configPath,
		baseURL:        server.URL,
		store:          store,
		passwordReader: newMockPasswordReader("new-secret", true),
		prompt:         newMockPrompt().WithLines("PKNEW"),
	})

	out, err := executeCmd(t, cmd)
	require.NoError(t, err)

	assert.Contains(t, out, "Enter your secret key:")
	assert.Contains(t, out, "Authenticated as account PA3XYZ")
	assert.Contains(t, out, "Configuration saved successfully!")

	secret, err := store.Get(keyring.ServiceName, keyring.KeySecretKey)
	require.NoError(t, err)
	assert.Equal(t, "new-secret", secret)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "PKNEW", cfg.KeyID)
	assert.Equal(t, server.URL, cfg.BaseURL)
}

func TestConfigureCmd_KeyIDFlag(t *testing.T) {
	isolateConfigEnv(t)
	server := accountServer(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cmd := newConfigureCmd(configureOptions{
		configPath:     configPath,
		baseURL:        server.URL,
		store:          keyring.NewMockStore(),
		passwordReader: newMockPasswordReader("new-secret", true),
		prompt:         newMockPrompt(),
	})

	_, err := executeCmd(t, cmd, "--key-id", "PKNEW")
	require.NoError(t, err)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "PKNEW", cfg.KeyID)
}

func TestConfigureCmd_InvalidCredentialsNotStored(t *testing.T) {
	isolateConfigEnv(t)
	server := accountServer(t)
	store := keyring.NewMockStore()

	cmd := newConfigureCmd(configureOptions{
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		baseURL:        server.URL,
		store:          store,
		passwordReader: newMockPasswordReader("wrong", true),
		prompt:         newMockPrompt().WithLines("PKNEW"),
	})

	_, err := executeCmd(t, cmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to validate API key")
	_, err = store.Get(keyring.ServiceName, keyring.KeySecretKey)
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestConfigureCmd_NotTerminal(t *testing.T) {
	pw := newMockPasswordReader("secret", false)
	cmd := newConfigureCmd(configureOptions{
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		store:          keyring.NewMockStore(),
		passwordReader: pw,
		prompt:         newMockPrompt(),
	})

	_, err := executeCmd(t, cmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "interactive terminal")
	assert.False(t, pw.readCalled)
}

func TestConfigureCmd_EmptyInputs(t *testing.T) {
	tests := []struct {
		name    string
		keyID   string
		secret  string
		wantErr string
	}{
		{"empty key id", "", "secret", "key ID cannot be empty"},
		{"empty secret", "PKNEW", "", "secret key cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newConfigureCmd(configureOptions{
				configPath:     filepath.Join(t.TempDir(), "config.yaml"),
				store:          keyring.NewMockStore(),
				passwordReader: newMockPasswordReader(tt.secret, true),
				prompt:         newMockPrompt().WithLines(tt.keyID),
			})
			_, err := executeCmd(t, cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigureCmd_PasswordReadError(t *testing.T) {
	cmd := newConfigureCmd(configureOptions{
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		store:          keyring.NewMockStore(),
		passwordReader: newMockPasswordReader("", true).WithError(errors.New("tty closed")),
		prompt:         newMockPrompt().WithLines("PKNEW"),
	})

	_, err := executeCmd(t, cmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tty closed")
}

func TestConfigureCmd_KeyringError(t *testing.T) {
	isolateConfigEnv(t)
	server := accountServer(t)
	cmd := newConfigureCmd(configureOptions{
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		baseURL:        server.URL,
		store:          keyring.NewMockStore().WithSetError(errors.New("keyring locked")),
		passwordReader: newMockPasswordReader("new-secret", true),
		prompt:         newMockPrompt().WithLines("PKNEW"),
	})

	_, err := executeCmd(t, cmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyring locked")
}

func configuredStore() *keyring.MockStore {
	return keyring.NewMockStore().WithData(keyring.ServiceName, keyring.KeySecretKey, "old-secret")
}

func TestConfigureCmd_MenuViewConfiguration(t *testing.T) {
	isolateConfigEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.KeyID = "PKOLD"
	require.NoError(t, config.Save(configPath, cfg))

	cmd := newConfigureCmd(configureOptions{
		configPath:     configPath,
		store:          configuredStore(),
		passwordReader: newMockPasswordReader("", true),
		prompt:         newMockPrompt(2),
	})

	out, err := executeCmd(t, cmd)
	require.NoError(t, err)

	assert.Contains(t, out, "already configured")
	assert.Contains(t, out, "Key ID: PKOLD")
	assert.Contains(t, out, "Secret key: Configured")
	assert.Contains(t, out, "Environment: paper")
	assert.Contains(t, out, "Trading enabled: false")
}

func TestConfigureCmd_MenuSwitchToLive(t *testing.T) {
	isolateConfigEnv(t)
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cmd := newConfigureCmd(configureOptions{
		configPath:     configPath,
		store:          configuredStore(),
		passwordReader: newMockPasswordReader("", true),
		prompt:         newMockPrompt(1, 1),
	})

	out, err := executeCmd(t, cmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Now using live trading")

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, tradeapi.LiveBaseURL, cfg.BaseURL)
}

func TestConfigureCmd_MenuClearSecret(t *testing.T) {
	store := configuredStore().WithData(keyring.ServiceName, keyring.KeyOAuthToken, "token")
	cmd := newConfigureCmd(configureOptions{
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		store:          store,
		passwordReader: newMockPasswordReader("", true),
		prompt:         newMockPrompt(3),
	})

	out, err := executeCmd(t, cmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Secret key cleared successfully.")

	_, err = store.Get(keyring.ServiceName, keyring.KeySecretKey)
	assert.ErrorIs(t, err, keyring.ErrNotFound)
	_, err = store.Get(keyring.ServiceName, keyring.KeyOAuthToken)
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestConfigureCmd_MenuNewKey(t *testing.T) {
	isolateConfigEnv(t)
	server := accountServer(t)
	store := configuredStore()

	cmd := newConfigureCmd(configureOptions{
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		baseURL:        server.URL,
		store:          store,
		passwordReader: newMockPasswordReader("new-secret", true),
		prompt:         newMockPrompt(0).WithLines("PKNEW"),
	})

	_, err := executeCmd(t, cmd)
	require.NoError(t, err)

	secret, _ := store.Get(keyring.ServiceName, keyring.KeySecretKey)
	assert.Equal(t, "new-secret", secret)
}

func TestConfigureCmd_MenuSelectionError(t *testing.T) {
	cmd := newConfigureCmd(configureOptions{
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		store:          configuredStore(),
		passwordReader: newMockPasswordReader("", true),
		prompt:         newMockPrompt(),
	})

	_, err := executeCmd(t, cmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read selection")
}

func TestTerminalPrompter(t *testing.T) {
	var out bytes.Buffer
	p := newTerminalPrompter(bytes.NewBufferString("abc\n7\n2\nPKLINE\n"), &out)

	idx, err := p.SelectOption([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, bytes.Count(out.Bytes(), []byte("Please enter a number between 1 and 3")))

	line, err := p.ReadLine("Key: ")
	require.NoError(t, err)
	assert.Equal(t, "PKLINE", line)
}
