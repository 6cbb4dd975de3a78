package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Credentials authenticate the live broker session. They never live in the
// config file.
type Credentials struct {
	APIKey     string `envconfig:"BROKER_API_KEY"`
	APISecret  string `envconfig:"BROKER_API_SECRET"`
	TOTPSecret string `envconfig:"BROKER_TOTP_SECRET"`
	ClientID   string `envconfig:"BROKER_CLIENT_ID"`
}

// LoadCredentials reads broker credentials from the environment after
// loading envFile (if it exists). An empty envFile means ".env".
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Credentials{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return Credentials{}, fmt.Errorf("process credentials: %w", err)
	}
	return creds, nil
}

// Complete reports whether the key and secret are both set.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}
