package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/brandon/mail-engine/internal/config"
	"github.com/brandon/mail-engine/internal/credential"
	"github.com/brandon/mail-engine/internal/email"
	"github.com/brandon/mail-engine/internal/mcp"
	"github.com/brandon/mail-engine/internal/notify"
	"github.com/brandon/mail-engine/internal/store"
	"github.com/brandon/mail-engine/internal/tools"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
	configPath  = flag.StringP("config", "c", os.Getenv("MAIL_ENGINE_CONFIG"), "Path to a YAML configuration file")
	logLevel    = flag.String("log-level", "", "Override the configured log level")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mail-engine version %s\n", version)
		os.Exit(0)
	}
	// stdout carries the protocol, so logs go to stderr
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	levelName := cfg.LogLevel
	if *logLevel != "" {
		levelName = *logLevel
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithField("version", version).Info("Starting mail engine")

	st, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	cipher, err := credential.NewCipher(cfg.SecretKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential cipher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed credentials for configured accounts
	for i := range cfg.Accounts {
		if err := storeAccount(ctx, st, cipher, &cfg.Accounts[i]); err != nil {
			logger.WithError(err).WithField("account", cfg.Accounts[i].Name).Warn("Failed to store account credential")
		}
	}

	dialer := email.NewIMAPDialer(cfg.OperationTimeout, logger)
	sessions := email.NewSessionStore(st, cipher, dialer, logger)
	defer sessions.Close()

	hub := notify.NewHub(notify.DefaultBuffer, logger)
	service := email.NewService(sessions, st, hub, email.Options{
		ConversationFetchCap: cfg.ConversationFetchCap,
		DefaultPageSize:      cfg.DefaultPageSize,
		MaxPageSize:          cfg.MaxPageSize,
	}, logger)
	transport := email.NewSMTPTransport(st, cipher, cfg.OperationTimeout, logger)
	composer := email.NewComposer(service, transport, st, logger)

	poller := email.NewPoller(service, hub, cfg.PollInterval, logger)
	poller.Start(ctx)
	defer poller.Stop()

	registry := tools.NewRegistry(tools.Deps{
		Config:   cfg,
		Service:  service,
		Composer: composer,
		Store:    st,
		Hub:      hub,
	}, logger)
	mcp.Version = version
	server := mcp.NewServer(registry, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("Server error")
		}
	}
	cancel()

	logger.Info("Shutting down mail engine")
}

func storeAccount(ctx context.Context, st *store.Store, cipher *credential.Cipher, acc *config.AccountConfig) error {
	encrypted, err := cipher.Encrypt(acc.IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	return st.UpsertCredential(ctx, &store.Credential{
		Email:             acc.IMAPUsername,
		EncryptedPassword: encrypted,
		IMAPHost:          acc.IMAPHost,
		IMAPPort:          acc.IMAPPort,
		IMAPTLS:           acc.IMAPTLS,
		SMTPHost:          acc.SMTPHost,
		SMTPPort:          acc.SMTPPort,
	})
}
