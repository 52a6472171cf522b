package models

import "time"

// PolicyRule is one entry of the approval rule table. A rule matches when
// every condition it sets holds; empty conditions are ignored.
type PolicyRule struct {
	Name     string              `yaml:"name" mapstructure:"name"`
	Category string              `yaml:"category" mapstructure:"category"`
	Kinds    []Kind              `yaml:"kinds,omitempty" mapstructure:"kinds"`
	Keywords []string            `yaml:"keywords,omitempty" mapstructure:"keywords"`
	Metadata map[string][]string `yaml:"metadata,omitempty" mapstructure:"metadata"`
	// MinAmount matches when the "amount" header parses to at least this value.
	MinAmount float64 `yaml:"min_amount,omitempty" mapstructure:"min_amount"`
}

// PolicyConfig is the approval handbook: built-in keyword sets plus
// named category rules.
type PolicyConfig struct {
	FinancialTerms []string     `yaml:"financial_terms" mapstructure:"financial_terms"`
	UrgencyTerms   []string     `yaml:"urgency_terms" mapstructure:"urgency_terms"`
	Rules          []PolicyRule `yaml:"rules,omitempty" mapstructure:"rules"`
	// RulesFile, when set, is a YAML file holding additional rules.
	RulesFile string `yaml:"rules_file,omitempty" mapstructure:"rules_file"`
}

// RateLimitConfig bounds sends per channel within a sliding window.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit" mapstructure:"limit"`
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// ResponsesConfig configures the response coordinator.
type ResponsesConfig struct {
	Identity        string                      `yaml:"identity" mapstructure:"identity"`
	SensitiveTerms  []string                    `yaml:"sensitive_terms" mapstructure:"sensitive_terms"`
	AlwaysGateTypes []string                    `yaml:"always_gate_types" mapstructure:"always_gate_types"`
	QueueSize       int                         `yaml:"queue_size" mapstructure:"queue_size"`
	RateLimits      map[Channel]RateLimitConfig `yaml:"rate_limits" mapstructure:"rate_limits"`
}

// ApprovalConfig configures approval request expiry.
type ApprovalConfig struct {
	Expiry time.Duration `yaml:"expiry" mapstructure:"expiry"`
}

// ConversationConfig configures the conversation tracker.
type ConversationConfig struct {
	ActiveDays  int `yaml:"active_days" mapstructure:"active_days"`
	CleanupDays int `yaml:"cleanup_days" mapstructure:"cleanup_days"`
}

// LogConfig selects the runtime log format and level.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AlertConfig holds alert thresholds.
type AlertConfig struct {
	PendingApprovalHours int `yaml:"pending_approval_hours" mapstructure:"pending_approval_hours"`
	MaxDispatchFailures  int `yaml:"max_dispatch_failures" mapstructure:"max_dispatch_failures"`
	MaxRateLimited       int `yaml:"max_rate_limited" mapstructure:"max_rate_limited"`
	MaxErrorItems        int `yaml:"max_error_items" mapstructure:"max_error_items"`
}

// SlackConfig holds the Slack webhook used for alert notifications.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// NotificationConfig configures alert delivery.
type NotificationConfig struct {
	Enabled bool        `yaml:"enabled" mapstructure:"enabled"`
	Slack   SlackConfig `yaml:"slack" mapstructure:"slack"`
	Alerts  AlertConfig `yaml:"alerts" mapstructure:"alerts"`
}

// GlobalConfig holds system-wide settings read from .aieconfig via Viper.
// It is loaded once at startup and not mutated afterwards.
type GlobalConfig struct {
	PollInterval  time.Duration             `yaml:"poll_interval" mapstructure:"poll_interval"`
	ErrorBackoff  time.Duration             `yaml:"error_backoff" mapstructure:"error_backoff"`
	Approval      ApprovalConfig            `yaml:"approval" mapstructure:"approval"`
	Policy        PolicyConfig              `yaml:"policy" mapstructure:"policy"`
	Responses     ResponsesConfig           `yaml:"responses" mapstructure:"responses"`
	Channels      map[Channel]ChannelConfig `yaml:"channels" mapstructure:"channels"`
	Conversations ConversationConfig        `yaml:"conversations" mapstructure:"conversations"`
	Log           LogConfig                 `yaml:"log" mapstructure:"log"`
	Notifications NotificationConfig        `yaml:"notifications" mapstructure:"notifications"`
}
