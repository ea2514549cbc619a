package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Locators is the externally maintained locator map. The target site's
// markup evolves independently of this code, so every selector and URL the
// scraper touches lives here and can be re-edited without a rebuild.
type Locators struct {
	Auth           AuthLocators           `yaml:"auth"`
	Portfolio      PortfolioLocators      `yaml:"portfolio"`
	Transactions   TransactionLocators    `yaml:"transactions"`
	Budget         BudgetLocators         `yaml:"budget"`
	Refresh        RefreshLocators        `yaml:"refresh"`
	ManualAccounts ManualAccountsLocators `yaml:"manual_accounts"`
}

// AuthLocators covers the login flow and session liveness probing.
type AuthLocators struct {
	LoginURL      string `yaml:"login_url"`
	EmailInput    string `yaml:"email_input"`
	PasswordInput string `yaml:"password_input"`
	SubmitButton  string `yaml:"submit_button"`

	// SecondFactorFragment and OutOfBandFragment are URL substrings that
	// identify which prompt the site rendered after credential submit.
	SecondFactorFragment string `yaml:"second_factor_fragment"`
	OutOfBandFragment    string `yaml:"out_of_band_fragment"`
	CodeInput            string `yaml:"code_input"`
	CodeSubmit           string `yaml:"code_submit"`
	CodeRejectedText     string `yaml:"code_rejected_text"`

	// AccountSelectorFragment identifies the intermediate account chooser
	// screen; AccountLink selects the entry to click through.
	AccountSelectorFragment string `yaml:"account_selector_fragment"`
	AccountLink             string `yaml:"account_link"`

	// ProtectedURL is navigated to verify liveness. A destination on
	// LoginHost means the session has expired.
	ProtectedURL string `yaml:"protected_url"`
	LoginHost    string `yaml:"login_host"`
}

// PortfolioLocators covers the aggregate balance read.
type PortfolioLocators struct {
	URL         string `yaml:"url"`
	TotalAssets string `yaml:"total_assets"`
	DailyChange string `yaml:"daily_change"`
}

// TransactionLocators covers the transaction list read. Cell selectors are
// matched against class attributes inside the table region's HTML.
type TransactionLocators struct {
	URL         string `yaml:"url"`
	Table       string `yaml:"table"`
	RowClass    string `yaml:"row_class"`
	DateClass   string `yaml:"date_class"`
	DescClass   string `yaml:"desc_class"`
	AmountClass string `yaml:"amount_class"`
	CategClass  string `yaml:"category_class"`
	AcctClass   string `yaml:"account_class"`
	NextPage    string `yaml:"next_page"`
}

// BudgetLocators covers the budget-by-category read.
type BudgetLocators struct {
	URL         string `yaml:"url"`
	TotalBudget string `yaml:"total_budget"`
	TotalSpent  string `yaml:"total_spent"`
	Table       string `yaml:"table"`
	RowClass    string `yaml:"row_class"`
	NameClass   string `yaml:"name_class"`
	BudgetClass string `yaml:"budget_class"`
	SpentClass  string `yaml:"spent_class"`
}

// RefreshLocators covers the bulk account refresh trigger.
type RefreshLocators struct {
	URL             string `yaml:"url"`
	RefreshButton   string `yaml:"refresh_button"`
	StatusIndicator string `yaml:"status_indicator"`
	DoneText        string `yaml:"done_text"`
}

// ManualAccountsLocators covers the conditional balance write.
type ManualAccountsLocators struct {
	AccountsURL string `yaml:"accounts_url"`

	// AccountLinkFormat is a selector template with one %s verb for the
	// account display name, matching the detail-page link on the list.
	AccountLinkFormat string `yaml:"account_link_format"`

	// EditButton matches the edit affordance of an existing asset entry on
	// the detail page. Presence of this affordance is the only supported
	// existence signal on this surface.
	EditButton     string `yaml:"edit_button"`
	EditValueInput string `yaml:"edit_value_input"`
	EditSubmit     string `yaml:"edit_submit"`

	NewModalOpenScript string `yaml:"new_modal_open_script"`
	NewSubclassSelect  string `yaml:"new_subclass_select"`
	SubclassValue      string `yaml:"subclass_value"`
	NewNameInput       string `yaml:"new_name_input"`
	NewValueInput      string `yaml:"new_value_input"`
	NewSubmit          string `yaml:"new_submit"`
}

// LoadLocators reads and validates the locator map from a YAML file.
func LoadLocators(path string) (*Locators, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locators file: %w", err)
	}

	var loc Locators
	if err := yaml.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("failed to parse locators file: %w", err)
	}

	if err := loc.validate(); err != nil {
		return nil, fmt.Errorf("invalid locators file %s: %w", path, err)
	}
	return &loc, nil
}

func (l *Locators) validate() error {
	required := map[string]string{
		"auth.login_url":                   l.Auth.LoginURL,
		"auth.email_input":                 l.Auth.EmailInput,
		"auth.password_input":              l.Auth.PasswordInput,
		"auth.submit_button":               l.Auth.SubmitButton,
		"auth.protected_url":               l.Auth.ProtectedURL,
		"auth.login_host":                  l.Auth.LoginHost,
		"portfolio.url":                    l.Portfolio.URL,
		"portfolio.total_assets":           l.Portfolio.TotalAssets,
		"transactions.url":                 l.Transactions.URL,
		"transactions.table":               l.Transactions.Table,
		"transactions.row_class":           l.Transactions.RowClass,
		"budget.url":                       l.Budget.URL,
		"refresh.url":                      l.Refresh.URL,
		"refresh.refresh_button":           l.Refresh.RefreshButton,
		"manual_accounts.accounts_url":     l.ManualAccounts.AccountsURL,
		"manual_accounts.account_link_format": l.ManualAccounts.AccountLinkFormat,
		"manual_accounts.edit_button":      l.ManualAccounts.EditButton,
	}
	for name, v := range required {
		if v == "" {
			return fmt.Errorf("missing required locator %s", name)
		}
	}
	return nil
}
