package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kalambet/autopost/internal/atomicfile"
)

const secretsService = "autopost"

// secretsFile reads secrets from a JSON file shaped as
// {"autopost": {"<account>": "<value>"}}.
type secretsFile struct {
	path string
}

func (s secretsFile) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (s secretsFile) Get(account string) (string, error) {
	secrets, err := s.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[secretsService][account]
	if !ok {
		return "", fmt.Errorf("account %q not found in service %q", account, secretsService)
	}
	return val, nil
}

func (s secretsFile) Set(account, value string) error {
	secrets, err := s.read()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[secretsService] == nil {
		secrets[secretsService] = make(map[string]string)
	}
	secrets[secretsService][account] = value

	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(s.path, append(out, '\n'), 0o600)
}
