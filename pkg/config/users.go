package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xuai/navigator/pkg/types"
)

// UsersConfig emails that are granted elevated roles at login, whatever
// role the stored account carries.
type UsersConfig struct {
	AdminEmails       []string `yaml:"admin_emails"`
	ContributorEmails []string `yaml:"contributor_emails"`
}

// LoadUsersConfig reads the yaml file at path. A missing file yields an empty config.
func LoadUsersConfig(path string) (*UsersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &UsersConfig{}, nil
		}
		return nil, err
	}

	var cfg UsersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.AdminEmails = normalizeEmails(cfg.AdminEmails)
	cfg.ContributorEmails = normalizeEmails(cfg.ContributorEmails)
	return &cfg, nil
}

// LoadUsersConfigFromEnv reads NAVIGATOR_ADMIN_EMAILS and
// NAVIGATOR_CONTRIBUTOR_EMAILS, both comma separated.
func LoadUsersConfigFromEnv() *UsersConfig {
	return &UsersConfig{
		AdminEmails:       splitEmails(os.Getenv("NAVIGATOR_ADMIN_EMAILS")),
		ContributorEmails: splitEmails(os.Getenv("NAVIGATOR_CONTRIBUTOR_EMAILS")),
	}
}

func splitEmails(s string) []string {
	if s == "" {
		return nil
	}
	return normalizeEmails(strings.Split(s, ","))
}

func normalizeEmails(in []string) []string {
	out := in[:0]
	for _, e := range in {
		e = strings.TrimSpace(strings.ToLower(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Merge appends other's lists onto c.
func (c *UsersConfig) Merge(other *UsersConfig) {
	if other == nil {
		return
	}
	c.AdminEmails = append(c.AdminEmails, other.AdminEmails...)
	c.ContributorEmails = append(c.ContributorEmails, other.ContributorEmails...)
}

func contains(list []string, email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	for _, e := range list {
		if e == email {
			return true
		}
	}
	return false
}

func (c *UsersConfig) IsAdmin(email string) bool {
	return contains(c.AdminEmails, email)
}

func (c *UsersConfig) IsContributor(email string) bool {
	return contains(c.ContributorEmails, email)
}

// EffectiveRole returns the higher of the stored role and the role granted
// by the email lists.
func (c *UsersConfig) EffectiveRole(email string, stored types.UserRole) types.UserRole {
	if c == nil {
		return stored
	}
	if c.IsAdmin(email) {
		return types.UserRoleAdmin
	}
	if c.IsContributor(email) && stored == types.UserRoleUser {
		return types.UserRoleContributor
	}
	return stored
}
