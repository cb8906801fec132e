package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/term"
)

// DefaultProgramID is the deployed capsule program.
const DefaultProgramID = "6GuYwH7dmXsBpfy92eu2YRyFyqcYSzKXywFEVNNksrwA"

// Config contains all configuration parameters for the application.
type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	SolanaRPCURL  string `envconfig:"SOLANA_RPC_URL" default:"https://api.devnet.solana.com"`
	ProgramID     string `envconfig:"CAPSULE_PROGRAM_ID" default:"6GuYwH7dmXsBpfy92eu2YRyFyqcYSzKXywFEVNNksrwA"`
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" required:"true"`
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1m"`
	LockedCacheTTL    time.Duration `envconfig:"LOCKED_CACHE_TTL" default:"50s"`
	CacheSize         int           `envconfig:"CACHE_SIZE" default:"1024"`
	ConfirmTimeout    time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"60s"`
	BootstrapLamports uint64        `envconfig:"BOOTSTRAP_LAMPORTS" default:"3000000"`
	PasswordTTL       time.Duration `envconfig:"PASSWORD_TTL" default:"2h"`

	SMTPHost string `envconfig:"SMTP_HOST"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser string `envconfig:"SMTP_USER"`
	SMTPPass string `envconfig:"SMTP_PASS"`
	SMTPFrom string `envconfig:"SMTP_FROM" default:"LegaC <no-reply@legac.app>"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"false"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SolanaRPCURL) == "" {
		return errors.New("SOLANA_RPC_URL must not be empty")
	}
	if strings.TrimSpace(c.EncryptionKey) == "" {
		return errors.New("ENCRYPTION_KEY must not be empty")
	}
	if _, err := solana.PublicKeyFromBase58(c.ProgramID); err != nil {
		return fmt.Errorf("invalid CAPSULE_PROGRAM_ID: %w", err)
	}
	if c.ReconcileInterval <= 0 {
		return errors.New("RECONCILE_INTERVAL must be positive")
	}
	if c.CacheSize <= 0 {
		return errors.New("CACHE_SIZE must be positive")
	}
	return nil
}

// Program returns the parsed capsule program id.
func (c *Config) Program() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.ProgramID)
}

// SMTPEnabled reports whether outbound mail is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// PromptSecret reads a secret from the terminal without echoing it.
// Caller must zero the returned slice after use.
func PromptSecret(prompt string) ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("stdin is not a terminal: run interactively to enter the secret")
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("secret cannot be empty")
	}
	return raw, nil
}
