package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# IBKR Dashboard Configuration

[server]
# Listen address for the dashboard API
addr = "127.0.0.1:5056"
# Cookie that carries the staging session id
session_cookie = "dashboard_session"
# Largest accepted CSV upload in megabytes
max_upload_mb = 4

[broker]
# Client Portal gateway base URL
base_url = "https://localhost:5055/v1/api"
# Fallback account id when the gateway does not list one
account_id = ""
# The local gateway serves a self-signed certificate
insecure_tls = true
timeout = "15s"
# Consecutive failures before the gateway circuit opens
failure_threshold = 5
breaker_timeout = "30s"

[storage]
# Watchlist backend: "json", "sqlite" or "memory"
backend = "json"
# path = "/home/me/.config/ibkr-dashboard/data/watchlists.json"

[staging]
# Staged CSV batches: "memory" or "redis"
backend = "memory"
redis_addr = "localhost:6379"
ttl = "30m"

[enrichment]
# Parallel snapshot requests per listing
concurrency = 8
# Reuse a snapshot for this long ("0s" disables the cache)
cache_ttl = "5s"

[watchlists]
# Reject a new watchlist whose name is already taken
unique_names = false

[logging]
level = "info"
console = true
file = true
max_size = 50
max_backups = 5
max_age = 14
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config template: %w", err)
	}

	return nil
}
