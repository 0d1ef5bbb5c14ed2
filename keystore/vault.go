package keystore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/sirupsen/logrus"
)

// VaultStore keeps secrets in a HashiCorp Vault KV version 2 mount. Each
// secret is a KV entry at <mount>/data/<prefix>/<name> holding the
// base64-encoded bytes under "secret".
type VaultStore struct {
	client *api.Client
	mount  string
	prefix string
}

// VaultConfig configures a VaultStore.
type VaultConfig struct {
	Address string        `json:"address"`
	Token   string        `json:"-"`
	Mount   string        `json:"mount"`
	Prefix  string        `json:"prefix"`
	Timeout time.Duration `json:"timeout"`
}

// NewVaultStore creates a client for cfg.Address. An empty Token leaves the
// client to pick up VAULT_TOKEN from the environment.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	conf := api.DefaultConfig()
	if cfg.Address != "" {
		conf.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		conf.Timeout = cfg.Timeout
	}
	client, err := api.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("keystore: vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return NewVaultStoreWithClient(client, cfg.Mount, cfg.Prefix), nil
}

// NewVaultStoreWithClient wraps an existing client. mount defaults to
// "secret" and prefix to "lockdance".
func NewVaultStoreWithClient(client *api.Client, mount, prefix string) *VaultStore {
	mount = strings.Trim(mount, "/")
	if mount == "" {
		mount = "secret"
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "lockdance"
	}
	return &VaultStore{client: client, mount: mount, prefix: prefix}
}

func (v *VaultStore) dataPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", v.mount, v.prefix, name)
}

func (v *VaultStore) metadataPath(name string) string {
	if name == "" {
		return fmt.Sprintf("%s/metadata/%s", v.mount, v.prefix)
	}
	return fmt.Sprintf("%s/metadata/%s/%s", v.mount, v.prefix, name)
}

// Put writes secret under name, creating a new KV version.
func (v *VaultStore) Put(ctx context.Context, name string, secret []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"secret": base64.StdEncoding.EncodeToString(secret),
		},
	}
	if _, err := v.client.Logical().WriteWithContext(ctx, v.dataPath(name), body); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "VaultStore.Put",
			"name":     name,
			"error":    err.Error(),
		}).Error("Vault write failed")
		return fmt.Errorf("keystore: vault write %s: %w", name, err)
	}
	return nil
}

// Get reads the latest version of name.
func (v *VaultStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	s, err := v.client.Logical().ReadWithContext(ctx, v.dataPath(name))
	if err != nil {
		return nil, fmt.Errorf("keystore: vault read %s: %w", name, err)
	}
	if s == nil || s.Data == nil || s.Data["data"] == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, ok := s.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("keystore: vault %s: unexpected data format", name)
	}
	enc, ok := data["secret"].(string)
	if !ok {
		return nil, fmt.Errorf("keystore: vault %s: missing secret field", name)
	}
	b, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("keystore: vault %s: %w", name, err)
	}
	return b, nil
}

// Delete removes name and all its versions.
func (v *VaultStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := v.client.Logical().DeleteWithContext(ctx, v.metadataPath(name)); err != nil {
		return fmt.Errorf("keystore: vault delete %s: %w", name, err)
	}
	return nil
}

// List returns the names under the prefix in sorted order.
func (v *VaultStore) List(ctx context.Context) ([]string, error) {
	s, err := v.client.Logical().ListWithContext(ctx, v.metadataPath(""))
	if err != nil {
		return nil, fmt.Errorf("keystore: vault list: %w", err)
	}
	if s == nil || s.Data == nil {
		return nil, nil
	}
	keys, _ := s.Data["keys"].([]interface{})
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if n, ok := k.(string); ok && !strings.HasSuffix(n, "/") {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Available reports whether Vault is initialized and unsealed.
func (v *VaultStore) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h, err := v.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return false
	}
	return h.Initialized && !h.Sealed
}
