package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule is the limit applied to one named action.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Validate checks that the rule admits at least one call per window.
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", r.Limit)
	}
	if r.Window < time.Second {
		return fmt.Errorf("window must be at least 1s, got %s", r.Window)
	}
	return nil
}

// Rules maps action names to their limits.
type Rules map[string]Rule

// Lookup returns the rule for action.
func (r Rules) Lookup(action string) (Rule, bool) {
	rule, ok := r[action]
	return rule, ok
}

// Action names with built-in limits.
const (
	ActionLogin          = "login_attempt"
	ActionRegister       = "register_attempt"
	ActionForgotPassword = "forgot_password_attempt"
	ActionResetPassword  = "reset_password_attempt"
	ActionCreatePost     = "create_post"
	ActionAddComment     = "add_comment"
	ActionAddReview      = "add_review"
	ActionSendMessage    = "send_message"
	ActionTrackClick     = "track_click"
	ActionViewAd         = "view_add"
	ActionMetadata       = "metadata_update"
	ActionSuggestedUsers = "suggested_users"
	ActionPopularUsers   = "popular_users"
	ActionSession        = "session_lookup"
	ActionNotify         = "send_notification"
)

// DefaultRules returns the built-in action limits.
func DefaultRules() Rules {
	return Rules{
		ActionLogin:          {Limit: 5, Window: 5 * time.Minute},
		ActionRegister:       {Limit: 3, Window: time.Hour},
		ActionForgotPassword: {Limit: 5, Window: time.Hour},
		ActionResetPassword:  {Limit: 10, Window: time.Hour},
		ActionCreatePost:     {Limit: 100, Window: time.Hour},
		ActionAddComment:     {Limit: 30, Window: time.Hour},
		ActionAddReview:      {Limit: 50, Window: time.Hour},
		ActionSendMessage:    {Limit: 10, Window: time.Minute},
		ActionTrackClick:     {Limit: 100, Window: time.Minute},
		ActionViewAd:         {Limit: 5, Window: time.Second},
		ActionMetadata:       {Limit: 30, Window: time.Minute},
		ActionSuggestedUsers: {Limit: 300, Window: time.Minute},
		ActionPopularUsers:   {Limit: 300, Window: time.Minute},
		ActionSession:        {Limit: 120, Window: time.Minute},
		ActionNotify:         {Limit: 20, Window: time.Minute},
	}
}

// rulesFile is the YAML layout accepted by LoadRules:
//
//	rules:
//	  create_post: {limit: 100, window: 1h}
//	  send_message: {limit: 10, window: 1m}
type rulesFile struct {
	Rules map[string]struct {
		Limit  int    `yaml:"limit"`
		Window string `yaml:"window"`
	} `yaml:"rules"`
}

// ParseRules decodes YAML rules and merges them over base. Entries in data
// replace base entries with the same name.
func ParseRules(data []byte, base Rules) (Rules, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rate limit rules: %w", err)
	}

	merged := make(Rules, len(base)+len(file.Rules))
	for name, rule := range base {
		merged[name] = rule
	}
	for name, raw := range file.Rules {
		window, err := time.ParseDuration(raw.Window)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid window %q: %w", name, raw.Window, err)
		}
		rule := Rule{Limit: raw.Limit, Window: window}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", name, err)
		}
		merged[name] = rule
	}
	return merged, nil
}

// LoadRules reads a YAML rules file and merges it over DefaultRules.
// An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read rate limit rules: %w", err)
	}
	return ParseRules(data, DefaultRules())
}
