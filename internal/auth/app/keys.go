package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/planfold/planfold/pkg/jwtx"
)

// loadOrGenerateSigner reads the Ed25519 signing key from the configured PEM
// file, generating and persisting a fresh key on first boot. The key must
// survive restarts or every outstanding access token dies with the process.
func loadOrGenerateSigner(path string, logger *slog.Logger) (*jwtx.EdDSASigner, error) {
	file := filepath.Clean(path)

	if _, err := os.Stat(file); os.IsNotExist(err) {
		pemKey, err := jwtx.GenerateEdDSAKeyPEM()
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
			return nil, err
		}
		if err := os.WriteFile(file, pemKey, 0600); err != nil {
			return nil, fmt.Errorf("failed to persist signing key: %w", err)
		}

		logger.Info("generated new Ed25519 signing key", "path", file)
		return jwtx.NewEdDSASigner(pemKey)
	}

	pemKey, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	signer, err := jwtx.NewEdDSASigner(pemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	logger.Info("loaded Ed25519 signing key", "path", file)
	return signer, nil
}
