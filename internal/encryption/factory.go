package encryption

import (
	"fmt"

	"sealgate/internal/config"
	"sealgate/internal/gate"
)

// NewProviderFromConfig creates a CryptoProvider based on the configuration
// type. The legacy parameter set is the default because it reads the
// existing store format; "age" must be chosen explicitly.
func NewProviderFromConfig(cfg config.EncryptionConfig) (gate.CryptoProvider, error) {
	switch cfg.Type {
	case "legacy", "":
		return NewLegacyProvider(), nil
	case "age":
		return NewAgeProvider(cfg.ScryptWorkFactor), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
