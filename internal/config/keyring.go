package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "modbot"
	keyringAccount = "telegram_bot_token"
)

// TokenFromKeyring reads the bot token from the OS keychain.
// It returns "" and no error when no token is stored.
func TokenFromKeyring() (string, error) {
	token, err := keyring.Get(keyringService, keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token from keychain: %w", err)
	}
	return token, nil
}

// StoreTokenInKeyring saves the bot token in the OS keychain.
func StoreTokenInKeyring(token string) error {
	if err := keyring.Set(keyringService, keyringAccount, token); err != nil {
		return fmt.Errorf("storing token in keychain: %w", err)
	}
	return nil
}

// fillTokenFromKeyring sets cfg.Token from the keychain when neither the
// file nor the environment provided one. Keychain errors are returned so the
// caller can log them; they are not fatal on their own.
func fillTokenFromKeyring(cfg *Config) error {
	if cfg.Token != "" {
		return nil
	}
	token, err := TokenFromKeyring()
	if err != nil {
		return err
	}
	cfg.Token = token
	return nil
}
