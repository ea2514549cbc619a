package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Account describes one externally tracked, foreign-currency asset that is
// mirrored into the target site as a manual entry.
type Account struct {
	// Name is the caller-facing identifier.
	Name string `yaml:"name"`

	// Type is a category label such as "bank", "securities" or "cash".
	Type string `yaml:"type"`

	// Currency is the asset's declared currency code, e.g. "MYR".
	Currency string `yaml:"currency"`

	// DisplayName is the entry's display name on the target site.
	DisplayName string `yaml:"display_name"`
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadAccounts reads the tracked-accounts list from a YAML file.
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}

	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file: %w", err)
	}

	for i, acc := range f.Accounts {
		if acc.Name == "" || acc.Currency == "" || acc.DisplayName == "" {
			return nil, fmt.Errorf("accounts[%d]: name, currency and display_name are required", i)
		}
	}
	return f.Accounts, nil
}

// FindAccount returns the account with the given name, or false.
func FindAccount(accounts []Account, name string) (Account, bool) {
	for _, acc := range accounts {
		if acc.Name == name {
			return acc, true
		}
	}
	return Account{}, false
}
