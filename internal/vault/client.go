package vault

import (
	"context"
	"fmt"
	"sync"

	"wyckoff-signal-engine/config"

	"github.com/hashicorp/vault/api"
)

// DatabaseCredentials represents the database credentials stored in Vault
type DatabaseCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client wraps the HashiCorp Vault client. When Vault is disabled the client
// serves credentials seeded into its cache, which keeps local development and
// tests working without a Vault server.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*DatabaseCredentials // secret name -> credentials
	cacheEnabled bool
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*DatabaseCredentials),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*DatabaseCredentials),
		cacheEnabled: true,
	}, nil
}

// SeedCredentials places credentials in the local cache. Used when Vault is
// disabled and credentials come from the environment instead.
func (c *Client) SeedCredentials(name string, creds DatabaseCredentials) {
	c.mu.Lock()
	c.cache[name] = &creds
	c.mu.Unlock()
}

// GetDatabaseCredentials retrieves named database credentials from Vault.
func (c *Client) GetDatabaseCredentials(ctx context.Context, name string) (*DatabaseCredentials, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[name]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials %q not found and vault is disabled", name)
	}

	path := c.secretPath(name)

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials %q not found", name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &DatabaseCredentials{
		Username: getString(data, "username"),
		Password: getString(data, "password"),
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("credentials %q incomplete", name)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[name] = creds
		c.mu.Unlock()
	}

	return creds, nil
}

// StoreDatabaseCredentials writes named database credentials to Vault.
func (c *Client) StoreDatabaseCredentials(ctx context.Context, name string, creds DatabaseCredentials) error {
	if !c.config.Enabled {
		c.SeedCredentials(name, creds)
		return nil
	}

	path := c.secretPath(name)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"username": creds.Username,
			"password": creds.Password,
		},
	}

	_, err := c.client.Logical().WriteWithContext(ctx, path, secretData)
	if err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[name] = &creds
		c.mu.Unlock()
	}

	return nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*DatabaseCredentials)
	c.mu.Unlock()
}

// SetCacheEnabled enables or disables caching
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path for a named secret
func (c *Client) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a disabled client for testing
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache:        make(map[string]*DatabaseCredentials),
		cacheEnabled: true,
	}
}
