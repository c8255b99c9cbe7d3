// mailbotd is the mail assistant daemon: it polls a mailbox for unseen
// messages, generates replies with a language model, records the
// conversation, and dispatches the replies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nhle/mailbot/internal/credential"
	"github.com/nhle/mailbot/internal/executor"
	"github.com/nhle/mailbot/internal/llm"
	"github.com/nhle/mailbot/internal/mail"
	"github.com/nhle/mailbot/internal/model"
	"github.com/nhle/mailbot/internal/pipeline"
	"github.com/nhle/mailbot/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

const (
	healthCheckInterval = time.Minute
	shutdownGrace       = 10 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "mailbotd",
	Short: "Autonomous email reply service",
	Long: `mailbotd monitors a mailbox over IMAP and answers incoming mail with
replies generated by a language model. Every processed message is
recorded in a local conversation log, and the operator address can
steer the service with !-prefixed commands sent by mail.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reply service until interrupted",
	RunE:  runService,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify mailbox, model API, and store connectivity",
	RunE:  runCheck,
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage secrets in the system keyring",
	Long: `Stores and removes the secrets mailbotd needs at runtime. Two keys
are recognized:

  ` + credential.KeyMailPassword + `   password for the monitored mail account
  ` + credential.KeyAPIKey + `    language model API key`,
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a credential in the system keyring",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := credential.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("stored %s\n", args[0])
		return nil
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Remove a credential from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := credential.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mailbotd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mailbotd %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	credentialsCmd.AddCommand(credentialsSetCmd, credentialsDeleteCmd)
	rootCmd.AddCommand(runCmd, checkCmd, credentialsCmd, versionCmd)
}

// loadSecrets fetches the two runtime secrets from the keyring.
func loadSecrets() (password, apiKey string, err error) {
	password, err = credential.Get(credential.KeyMailPassword)
	if err != nil {
		return "", "", fmt.Errorf("mail password not available (run 'mailbotd credentials set %s ...'): %w",
			credential.KeyMailPassword, err)
	}
	apiKey, err = credential.Get(credential.KeyAPIKey)
	if err != nil {
		return "", "", fmt.Errorf("API key not available (run 'mailbotd credentials set %s ...'): %w",
			credential.KeyAPIKey, err)
	}
	return password, apiKey, nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Mail.Username == "" {
		return fmt.Errorf("mail.username is not configured in %s", configPath)
	}

	// Config can enable debug logging without the -v flag.
	if cfg.Logging.Debug && !verbose {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		if debugLogger, buildErr := config.Build(); buildErr == nil {
			logger = debugLogger
		}
	}

	password, apiKey, err := loadSecrets()
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	execs := executor.NewManager(logger)
	defer execs.Shutdown(shutdownGrace)

	worker, err := pipeline.NewWorker(pipeline.Options{
		Config:    cfg.Pipeline,
		LLM:       cfg.LLM,
		Transport: mail.NewClient(cfg.Mail, password),
		Generator: llm.NewClient(cfg.LLM, apiKey),
		Store:     st,
		Executors: execs,
		Address:   cfg.Mail.Username,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if err := worker.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mailbotd running",
		zap.String("version", version),
		zap.String("account", cfg.Mail.Username),
		zap.String("store", cfg.Store.Path))

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			worker.Stop()
			return nil
		case <-ticker.C:
			health := worker.CheckHealth(ctx)
			if !health.MailOK || !health.LLMOK || !health.StoreOK {
				logger.Warn("health check degraded",
					zap.Bool("mail_ok", health.MailOK),
					zap.Bool("llm_ok", health.LLMOK),
					zap.Bool("store_ok", health.StoreOK),
					zap.String("last_error", health.LastError))
			}
		}
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return err
	}

	password, apiKey, err := loadSecrets()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false
	report := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("  %-8s FAIL: %v\n", name, err)
			return
		}
		fmt.Printf("  %-8s ok\n", name)
	}

	fmt.Println("checking collaborators:")

	transport := mail.NewClient(cfg.Mail, password)
	report("mail", transport.ConnectivityCheck(ctx))

	generator := llm.NewClient(cfg.LLM, apiKey)
	report("llm", generator.ConnectivityCheck(ctx))

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		report("store", err)
	} else {
		report("store", st.Ping(ctx))
		_ = st.Close()
	}

	if failed {
		return fmt.Errorf("one or more connectivity checks failed")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
