package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/michaelpento.lv/pricelab/types"
)

// Environment variables
const (
	EnvConfig      = "PRICELAB_CONFIG"
	EnvDebug       = "PRICELAB_DEBUG"
	EnvListen      = "PRICELAB_LISTEN"
	EnvFlashAmount = "PRICELAB_FLASH_AMOUNT"
)

// LoadEnv loads environment variables from .env files. Missing files are
// not an error.
func LoadEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overrides file values with PRICELAB_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		c.Debug = debug
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.API.Listen = v
	}
	if v := os.Getenv(EnvFlashAmount); v != "" {
		amount, err := types.ParseUnits(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFlashAmount, err)
		}
		c.Attack.FlashAmount = NewAmount(amount)
	}
	return nil
}
