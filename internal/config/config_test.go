package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigSingleAccountFromEnv(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("IMAP_USERNAME", "jane@example.com")
	t.Setenv("IMAP_PASSWORD", "secret")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SECRET_KEY", "k")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 1)
	acc := cfg.Accounts[0]
	assert.Equal(t, "default", acc.Name)
	assert.Equal(t, 993, acc.IMAPPort)
	assert.True(t, acc.IMAPTLS)
	assert.Equal(t, 587, acc.SMTPPort)
	assert.Equal(t, "jane@example.com", acc.SMTPUsername)

	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 500, cfg.ConversationFetchCap)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigNumberedAccounts(t *testing.T) {
	t.Setenv("ACCOUNT_1_NAME", "work")
	t.Setenv("ACCOUNT_1_IMAP_HOST", "imap.work.test")
	t.Setenv("ACCOUNT_1_IMAP_USERNAME", "me@work.test")
	t.Setenv("ACCOUNT_1_IMAP_PASSWORD", "pw1")
	t.Setenv("ACCOUNT_1_IMAP_TLS", "false")
	t.Setenv("ACCOUNT_2_NAME", "home")
	t.Setenv("ACCOUNT_2_IMAP_HOST", "imap.home.test")
	t.Setenv("ACCOUNT_2_IMAP_USERNAME", "me@home.test")
	t.Setenv("ACCOUNT_2_IMAP_PASSWORD", "pw2")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, []string{"work", "home"}, cfg.AccountNames())
	assert.False(t, cfg.Accounts[0].IMAPTLS)
	assert.Equal(t, 143, cfg.Accounts[0].IMAPPort)

	acc, err := cfg.GetAccountByName("me@home.test")
	require.NoError(t, err)
	assert.Equal(t, "home", acc.Name)
	assert.Equal(t, "work", cfg.GetDefaultAccount().Name)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
store_path: /tmp/engine.db
secret_key: file-secret
poll_interval: 5s
accounts:
  - name: default
    imap_host: imap.file.test
    imap_username: file@file.test
    imap_password: pw
    imap_tls: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/engine.db", cfg.StorePath)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, 993, cfg.Accounts[0].IMAPPort)
	assert.Equal(t, "file@file.test", cfg.Accounts[0].SMTPUsername)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigNoAccounts(t *testing.T) {
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StorePath:            "/tmp/x.db",
			SecretKey:            "s",
			PollInterval:         10 * time.Second,
			OperationTimeout:     30 * time.Second,
			ConversationFetchCap: 500,
			DefaultPageSize:      50,
			MaxPageSize:          200,
			Accounts:             []AccountConfig{{Name: "a", IMAPHost: "h", IMAPPort: 993}},
		}
	}
	require.NoError(t, base().Validate())

	cfg := base()
	cfg.SecretKey = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DefaultPageSize = 500
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Accounts[0].IMAPPort = 70000
	assert.Error(t, cfg.Validate())
}
