package config

import (
	"encoding/json"
)

// ConfigSanitizer redacts secrets from a Config before it is exported over
// the admin API.
type ConfigSanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultConfigSanitizer implements ConfigSanitizer.
type DefaultConfigSanitizer struct {
	redactionValue string
}

// NewDefaultConfigSanitizer creates a DefaultConfigSanitizer.
func NewDefaultConfigSanitizer() ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: "***REDACTED***"}
}

// NewConfigSanitizer creates a ConfigSanitizer with a custom redaction value.
func NewConfigSanitizer(redactionValue string) ConfigSanitizer {
	return &DefaultConfigSanitizer{redactionValue: redactionValue}
}

// Sanitize redacts database, Redis, moderation/completion provider, and
// admin-key credentials from a deep copy of cfg.
func (s *DefaultConfigSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)

	sanitized.Database.Password = s.redactionValue
	sanitized.Database.URL = s.sanitizeURL(sanitized.Database.URL)
	sanitized.Redis.Password = s.redactionValue
	sanitized.Moderation.APIKey = s.redactionValue
	sanitized.Completion.APIKey = s.redactionValue
	sanitized.Admin.Key = s.redactionValue

	return sanitized
}

// deepCopy creates a deep copy of Config using JSON serialization.
func (s *DefaultConfigSanitizer) deepCopy(cfg *Config) *Config {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}

	var configCopy Config
	if err := json.Unmarshal(configJSON, &configCopy); err != nil {
		return cfg
	}

	return &configCopy
}

// sanitizeURL redacts a database URL outright if it's set, since a
// connection URL commonly embeds credentials inline.
func (s *DefaultConfigSanitizer) sanitizeURL(url string) string {
	if url == "" {
		return url
	}
	return s.redactionValue
}
