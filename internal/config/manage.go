package config

import (
	"fmt"

	"github.com/google/uuid"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are reported only as set or unset.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		info := KeyInfo{Key: s.key, EnvVar: s.env, Secret: s.secret}
		if s.secret {
			info.Value = "(unset)"
			if s.extract(cfg) != "" {
				info.Value = "(set)"
			}
		} else {
			info.Value = s.format(cfg)
		}
		result = append(result, info)
	}
	return result
}

// SetKey writes a config key to the config file, or to the secrets file for
// secret keys.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()}, key, value)
}

func setKey(b ConfigBackend, secrets secretsFile, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		v, err := s.parse(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if s.secret {
			return secrets.Set(s.secretAccount(), value)
		}
		if s.typ == kInt {
			return b.SetInt(key, v.(int))
		}
		return b.SetString(key, value)
	}
	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}

// EnsureAPIToken returns the management API token, generating and storing
// one in the secrets file on first use.
func EnsureAPIToken(cfg *Config) (string, error) {
	return ensureAPIToken(cfg, secretsFile{path: secretsFilePath()})
}

func ensureAPIToken(cfg *Config, secrets secretsFile) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}
	token := uuid.NewString()
	if err := secrets.Set("server_api_token", token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	cfg.Server.APIToken = token
	return token, nil
}
