// Package core contains the business logic for the AI employee: policy
// evaluation, the approval lifecycle, the task processor, the response
// coordinator, conversation tracking, and configuration.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/ai-employee/pkg/models"
)

// ConfigFileName is the name of the configuration file in the base path.
const ConfigFileName = ".aieconfig"

// ConfigurationManager loads and validates the .aieconfig file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(cfg *models.GlobalConfig) error
}

type viperConfigManager struct {
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads
// .aieconfig from basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultRateLimits are the per-channel send limits used when a channel has
// no rate_limits entry.
func DefaultRateLimits() map[models.Channel]models.RateLimitConfig {
	return map[models.Channel]models.RateLimitConfig{
		models.ChannelEmail:    {Limit: 10, Window: time.Hour},
		models.ChannelLinkedIn: {Limit: 5, Window: time.Hour},
		models.ChannelWhatsApp: {Limit: 20, Window: time.Hour},
		models.ChannelSlack:    {Limit: 30, Window: time.Hour},
	}
}

// DefaultGlobalConfig returns the configuration used when .aieconfig is
// missing or leaves a key unset.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		PollInterval: 30 * time.Second,
		ErrorBackoff: 60 * time.Second,
		Approval:     models.ApprovalConfig{Expiry: 24 * time.Hour},
		Policy: models.PolicyConfig{
			FinancialTerms: []string{"payment", "invoice", "wire", "transfer", "refund", "bank", "purchase"},
			UrgencyTerms:   []string{"urgent", "asap", "emergency", "immediately"},
		},
		Responses: models.ResponsesConfig{
			Identity:        "assistant",
			SensitiveTerms:  []string{"password", "bank account", "wire transfer", "confidential", "contract", "legal"},
			AlwaysGateTypes: []string{"legal", "financial"},
			QueueSize:       100,
			RateLimits:      DefaultRateLimits(),
		},
		Channels: map[models.Channel]models.ChannelConfig{},
		Conversations: models.ConversationConfig{
			ActiveDays:  30,
			CleanupDays: 90,
		},
		Log: models.LogConfig{Level: "info", Format: "text"},
		Notifications: models.NotificationConfig{
			Alerts: models.AlertConfig{
				PendingApprovalHours: 24,
				MaxDispatchFailures:  5,
				MaxRateLimited:       10,
				MaxErrorItems:        5,
			},
		},
	}
}

// LoadGlobalConfig reads .aieconfig from the base path using Viper. If the
// file does not exist, defaults are returned. Keys may be overridden with
// AIE_-prefixed environment variables (AIE_POLL_INTERVAL, AIE_LOG_LEVEL).
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	def := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("AIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("error_backoff", def.ErrorBackoff)
	v.SetDefault("approval.expiry", def.Approval.Expiry)
	v.SetDefault("policy.financial_terms", def.Policy.FinancialTerms)
	v.SetDefault("policy.urgency_terms", def.Policy.UrgencyTerms)
	v.SetDefault("policy.rules_file", "")
	v.SetDefault("responses.identity", def.Responses.Identity)
	v.SetDefault("responses.sensitive_terms", def.Responses.SensitiveTerms)
	v.SetDefault("responses.always_gate_types", def.Responses.AlwaysGateTypes)
	v.SetDefault("responses.queue_size", def.Responses.QueueSize)
	v.SetDefault("conversations.active_days", def.Conversations.ActiveDays)
	v.SetDefault("conversations.cleanup_days", def.Conversations.CleanupDays)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.alerts.pending_approval_hours", def.Notifications.Alerts.PendingApprovalHours)
	v.SetDefault("notifications.alerts.max_dispatch_failures", def.Notifications.Alerts.MaxDispatchFailures)
	v.SetDefault("notifications.alerts.max_rate_limited", def.Notifications.Alerts.MaxRateLimited)
	v.SetDefault("notifications.alerts.max_error_items", def.Notifications.Alerts.MaxErrorItems)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
		}
	}

	cfg := &models.GlobalConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", ConfigFileName, err)
	}

	// Partial rate limit entries inherit the missing half from the defaults.
	if cfg.Responses.RateLimits == nil {
		cfg.Responses.RateLimits = make(map[models.Channel]models.RateLimitConfig)
	}
	defaults := DefaultRateLimits()
	for ch, d := range defaults {
		rl, ok := cfg.Responses.RateLimits[ch]
		if !ok {
			cfg.Responses.RateLimits[ch] = d
			continue
		}
		if rl.Limit == 0 {
			rl.Limit = d.Limit
		}
		if rl.Window == 0 {
			rl.Window = d.Window
		}
		cfg.Responses.RateLimits[ch] = rl
	}
	if cfg.Channels == nil {
		cfg.Channels = make(map[models.Channel]models.ChannelConfig)
	}
	// Viper drops empty maps such as "email: {}", so known channels are
	// filled in here.
	for _, ch := range models.KnownChannels() {
		if _, ok := cfg.Channels[ch]; !ok {
			cfg.Channels[ch] = models.ChannelConfig{}
		}
	}
	for ch, cc := range cfg.Channels {
		if cc.Sender == "" {
			cc.Sender = models.SenderFile
			cfg.Channels[ch] = cc
		}
	}

	return cfg, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// ValidateConfig checks cfg for invalid values and reports every problem
// found in a single error.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("poll_interval must be positive, got %s", cfg.PollInterval))
	}
	if cfg.ErrorBackoff <= 0 {
		errs = append(errs, fmt.Sprintf("error_backoff must be positive, got %s", cfg.ErrorBackoff))
	}
	if cfg.Approval.Expiry <= 0 {
		errs = append(errs, fmt.Sprintf("approval.expiry must be positive, got %s", cfg.Approval.Expiry))
	}
	if cfg.Responses.QueueSize <= 0 {
		errs = append(errs, fmt.Sprintf("responses.queue_size must be positive, got %d", cfg.Responses.QueueSize))
	}
	for ch, rl := range cfg.Responses.RateLimits {
		if rl.Limit <= 0 {
			errs = append(errs, fmt.Sprintf("responses.rate_limits.%s.limit must be positive, got %d", ch, rl.Limit))
		}
		if rl.Window <= 0 {
			errs = append(errs, fmt.Sprintf("responses.rate_limits.%s.window must be positive, got %s", ch, rl.Window))
		}
	}

	for ch, cc := range cfg.Channels {
		switch cc.Sender {
		case models.SenderFile, "":
		case models.SenderWebhook:
			if cc.WebhookURL == "" {
				errs = append(errs, fmt.Sprintf("channels.%s.webhook_url is required for the webhook sender", ch))
			}
		default:
			errs = append(errs, fmt.Sprintf("channels.%s.sender %q is invalid, must be one of: file, webhook", ch, cc.Sender))
		}
	}

	for i, rule := range cfg.Policy.Rules {
		if err := validateRule(rule); err != nil {
			errs = append(errs, fmt.Sprintf("policy.rules[%d]: %v", i, err))
		}
	}

	if cfg.Conversations.ActiveDays <= 0 {
		errs = append(errs, fmt.Sprintf("conversations.active_days must be positive, got %d", cfg.Conversations.ActiveDays))
	}
	if cfg.Conversations.CleanupDays <= 0 {
		errs = append(errs, fmt.Sprintf("conversations.cleanup_days must be positive, got %d", cfg.Conversations.CleanupDays))
	}

	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level %q is invalid, must be one of: debug, info, warn, error", cfg.Log.Level))
	}
	if f := strings.ToLower(cfg.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Sprintf("log.format %q is invalid, must be json or text", cfg.Log.Format))
	}

	if cfg.Notifications.Enabled && cfg.Notifications.Slack.WebhookURL == "" {
		errs = append(errs, "notifications.slack.webhook_url is required when notifications are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateRule(rule models.PolicyRule) error {
	if rule.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if rule.Category == "" {
		return fmt.Errorf("rule %q: category must not be empty", rule.Name)
	}
	if len(rule.Keywords) == 0 && len(rule.Metadata) == 0 && len(rule.Kinds) == 0 && rule.MinAmount <= 0 {
		return fmt.Errorf("rule %q: needs at least one condition", rule.Name)
	}
	return nil
}
