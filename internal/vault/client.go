// Package vault pulls Coinbase API credentials from HashiCorp Vault so
// they never have to live in the environment or on disk.
package vault

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/vault/api"

	"ict-trading-bot/config"
)

// Credentials is the secret material the exchange client needs.
type Credentials struct {
	APIKey        string `json:"api_key"`
	PrivateKeyPEM string `json:"private_key"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cached *Credentials
}

// NewClient creates a Vault client from config. With Enabled false the
// client is inert and LoadCredentials returns an error.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{CACert: cfg.CACert}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// LoadCredentials reads the Coinbase key material from the configured
// KV v2 path. Results are cached for the process lifetime.
func (c *Client) LoadCredentials(ctx context.Context) (*Credentials, error) {
	c.mu.RLock()
	if c.cached != nil {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	creds, err := parseCredentials(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = creds
	c.mu.Unlock()
	return creds, nil
}

// ApplyToConfig copies vault credentials into the exchange config,
// leaving env-provided values in place when vault is disabled.
func (c *Client) ApplyToConfig(ctx context.Context, cfg *config.Config) error {
	if !c.config.Enabled {
		return nil
	}
	creds, err := c.LoadCredentials(ctx)
	if err != nil {
		return err
	}
	cfg.ExchangeConfig.APIKey = creds.APIKey
	cfg.ExchangeConfig.APISecret = creds.PrivateKeyPEM
	return nil
}

func parseCredentials(data map[string]interface{}) (*Credentials, error) {
	apiKey, _ := data["api_key"].(string)
	privateKey, _ := data["private_key"].(string)
	if apiKey == "" || privateKey == "" {
		return nil, fmt.Errorf("vault secret missing api_key or private_key")
	}
	// Keys pasted into vault often carry escaped newlines.
	privateKey = strings.ReplaceAll(privateKey, `\n`, "\n")
	return &Credentials{APIKey: apiKey, PrivateKeyPEM: privateKey}, nil
}
