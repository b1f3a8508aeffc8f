package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Store settings
	StorePath string `mapstructure:"store_path"`
	SecretKey string `mapstructure:"secret_key"`
	LogLevel  string `mapstructure:"log_level"`

	// Engine settings
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	OperationTimeout     time.Duration `mapstructure:"operation_timeout"`
	ConversationFetchCap int           `mapstructure:"conversation_fetch_cap"`
	DefaultPageSize      int           `mapstructure:"default_page_size"`
	MaxPageSize          int           `mapstructure:"max_page_size"`

	// Accounts
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig holds configuration for a single mail user
type AccountConfig struct {
	Name string `mapstructure:"name"`

	// IMAP settings
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUsername string `mapstructure:"imap_username"`
	IMAPPassword string `mapstructure:"imap_password"`
	IMAPTLS      bool   `mapstructure:"imap_tls"`

	// SMTP settings
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
}

// LoadConfig loads configuration from an optional YAML file and the environment.
// Environment variables win over file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("store_path", "/data/mail_engine.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("operation_timeout", "30s")
	v.SetDefault("conversation_fetch_cap", 500)
	v.SetDefault("default_page_size", 50)
	v.SetDefault("max_page_size", 200)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{
		StorePath:            v.GetString("store_path"),
		SecretKey:            v.GetString("secret_key"),
		LogLevel:             v.GetString("log_level"),
		PollInterval:         v.GetDuration("poll_interval"),
		OperationTimeout:     v.GetDuration("operation_timeout"),
		ConversationFetchCap: v.GetInt("conversation_fetch_cap"),
		DefaultPageSize:      v.GetInt("default_page_size"),
		MaxPageSize:          v.GetInt("max_page_size"),
	}

	if v.IsSet("accounts") {
		if err := v.UnmarshalKey("accounts", &cfg.Accounts); err != nil {
			return nil, fmt.Errorf("failed to parse accounts: %w", err)
		}
		for i := range cfg.Accounts {
			applyAccountDefaults(&cfg.Accounts[i])
		}
	}

	if len(cfg.Accounts) == 0 {
		accounts, err := loadAccounts(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
		cfg.Accounts = accounts
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}

	return cfg, nil
}

// loadAccounts loads account configurations from environment variables
func loadAccounts(v *viper.Viper) ([]AccountConfig, error) {
	var accounts []AccountConfig

	// Single account configuration first
	if v.GetString("IMAP_HOST") != "" {
		account, err := loadAccount(v, "", "default")
		if err != nil {
			return nil, err
		}
		return append(accounts, *account), nil
	}

	// Numbered accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		if v.GetString(prefix+"NAME") == "" {
			break
		}
		account, err := loadAccount(v, prefix, "")
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}

	return accounts, nil
}

// loadAccount reads one account whose variables share prefix
func loadAccount(v *viper.Viper, prefix, defaultName string) (*AccountConfig, error) {
	name := v.GetString(prefix + "NAME")
	if prefix == "" {
		name = v.GetString("ACCOUNT_NAME")
	}
	if name == "" {
		name = defaultName
	}

	acc := &AccountConfig{
		Name:         name,
		IMAPHost:     v.GetString(prefix + "IMAP_HOST"),
		IMAPPort:     v.GetInt(prefix + "IMAP_PORT"),
		IMAPUsername: v.GetString(prefix + "IMAP_USERNAME"),
		IMAPPassword: v.GetString(prefix + "IMAP_PASSWORD"),
		IMAPTLS:      true,
		SMTPHost:     v.GetString(prefix + "SMTP_HOST"),
		SMTPPort:     v.GetInt(prefix + "SMTP_PORT"),
		SMTPUsername: v.GetString(prefix + "SMTP_USERNAME"),
		SMTPPassword: v.GetString(prefix + "SMTP_PASSWORD"),
	}
	if v.IsSet(prefix + "IMAP_TLS") {
		acc.IMAPTLS = v.GetBool(prefix + "IMAP_TLS")
	}
	applyAccountDefaults(acc)

	if acc.IMAPHost == "" {
		return nil, fmt.Errorf("IMAP_HOST is required")
	}
	if acc.IMAPUsername == "" {
		return nil, fmt.Errorf("IMAP_USERNAME is required")
	}
	if acc.IMAPPassword == "" {
		return nil, fmt.Errorf("IMAP_PASSWORD is required")
	}

	return acc, nil
}

// applyAccountDefaults fills ports and SMTP credentials left empty
func applyAccountDefaults(acc *AccountConfig) {
	if acc.IMAPPort == 0 {
		if acc.IMAPTLS || acc.IMAPHost == "" {
			acc.IMAPPort = 993
		} else {
			acc.IMAPPort = 143
		}
	}
	if acc.SMTPPort == 0 {
		acc.SMTPPort = 587
	}
	if acc.SMTPUsername == "" {
		acc.SMTPUsername = acc.IMAPUsername
	}
	if acc.SMTPPassword == "" {
		acc.SMTPPassword = acc.IMAPPassword
	}
}

// GetAccountByName finds an account by name or IMAP username
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name || c.Accounts[i].IMAPUsername == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the first account (or default account if named "default")
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}

	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required")
	}

	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1s")
	}

	if c.OperationTimeout < time.Second {
		return fmt.Errorf("OPERATION_TIMEOUT must be at least 1s")
	}

	if c.ConversationFetchCap < 1 || c.ConversationFetchCap > 5000 {
		return fmt.Errorf("CONVERSATION_FETCH_CAP must be between 1 and 5000")
	}

	if c.MaxPageSize < 1 || c.DefaultPageSize < 1 || c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be between 1 and MAX_PAGE_SIZE")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		if acc.SMTPHost != "" && (acc.SMTPPort < 1 || acc.SMTPPort > 65535) {
			return fmt.Errorf("account %s: invalid SMTP_PORT", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
