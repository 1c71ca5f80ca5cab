package encryption

import (
	"testing"

	"sealgate/internal/config"
)

func TestNewProviderFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      config.EncryptionConfig
		wantName string
		wantErr  bool
	}{
		{name: "default is legacy", cfg: config.EncryptionConfig{}, wantName: "legacy"},
		{name: "legacy", cfg: config.EncryptionConfig{Type: "legacy"}, wantName: "legacy"},
		{name: "age", cfg: config.EncryptionConfig{Type: "age", ScryptWorkFactor: 12}, wantName: "age"},
		{name: "test provider is not selectable", cfg: config.EncryptionConfig{Type: "test"}, wantErr: true},
		{name: "unknown", cfg: config.EncryptionConfig{Type: "rot13"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewProviderFromConfig(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewProviderFromConfig() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProviderFromConfig() error = %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}
