package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// keysFile is the on-disk credentials schema:
//
//	keys:
//	  - token: sk-alpha
//	    user: alice
//	    roles: [admin]
//	  - token: sk-beta
//	    user: bob
//	    quota_qpm: 120
type keysFile struct {
	Keys []keyEntry `yaml:"keys"`
}

type keyEntry struct {
	Token    string   `yaml:"token"`
	User     string   `yaml:"user"`
	Roles    []string `yaml:"roles"`
	QuotaQPM int      `yaml:"quota_qpm"`
}

// loadKeysFile reads and validates a YAML credentials file.
func loadKeysFile(path string) ([]credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file '%s': %w", path, err)
	}

	var parsed keysFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file '%s': %w", path, err)
	}

	creds := make([]credential, 0, len(parsed.Keys))
	for i, entry := range parsed.Keys {
		if entry.Token == "" {
			return nil, fmt.Errorf("credentials file '%s': entry %d has no token", path, i)
		}
		if entry.User == "" {
			return nil, fmt.Errorf("credentials file '%s': entry %d has no user", path, i)
		}
		if entry.QuotaQPM < 0 {
			return nil, fmt.Errorf("credentials file '%s': entry %d has negative quota_qpm", path, i)
		}
		creds = append(creds, credential{
			token:    entry.Token,
			user:     entry.User,
			roles:    entry.Roles,
			quotaQPM: entry.QuotaQPM,
		})
	}
	return creds, nil
}
