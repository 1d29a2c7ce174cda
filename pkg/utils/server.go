package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const serverIDFile = ".server_id"

// InstanceID returns a stable name for this process, used in logs and the
// health endpoint. Order: override, the id file under dataDir, the hostname,
// then a random id that is written back to the id file.
func InstanceID(override, dataDir string) string {
	if override != "" {
		return override
	}

	idFile := filepath.Join(dataDir, serverIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	if hostname, err := os.Hostname(); err == nil {
		if clean := sanitizeHost(hostname); clean != "" && clean != "localhost" {
			return "azrecruit-" + clean
		}
	}

	id := "azrecruit-" + uuid.NewString()[:8]
	if dataDir != "" {
		_ = os.MkdirAll(dataDir, 0755)
		_ = os.WriteFile(idFile, []byte(id), 0644)
	}
	return id
}

func sanitizeHost(host string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return -1
	}, host)
}
