package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the annotated default config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

// Template mirrors Default.
const Template = `# vectord configuration

# Index catalog directory. Empty keeps every index in memory.
data_dir = "pg_vectors"

# Unix socket clients connect to. Empty disables the socket transport.
socket_path = "vectord.sock"

# In-process ring transport for embedders.
ring_enabled = true
ring_capacity = 64
ring_backlog = 16

max_payload_bytes = 67108864

# host:port serving /metrics. Empty disables it.
metrics_addr = ""

# Overrides VECTORD_LOG_LEVEL when set.
# log_level = "info"

[accept_backoff]
initial = "5ms"
max = "1s"
multiplier = 2.0
jitter = true
`
