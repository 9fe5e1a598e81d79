package controller

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

// AIConfigUpdate carries the fields to change. Nil fields keep their current
// value; an APIKey equal to the mask also keeps the stored credential.
type AIConfigUpdate struct {
	APIKey           *string  `json:"api_key,omitempty"`
	BaseURL          *string  `json:"base_url,omitempty"`
	Model            *string  `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	SystemPrompt     *string  `json:"system_prompt,omitempty"`
	UserPrompt       *string  `json:"user_prompt,omitempty"`
	AutoReplyEnabled *bool    `json:"auto_reply_enabled,omitempty"`
}

// GetAIConfig returns the tenant configuration with the credential masked.
func (c *Controller) GetAIConfig(ctx context.Context) AIConfigResult {
	cfg, err := c.store.GetAIConfig(ctx, c.state.Tenant())
	if err != nil {
		return AIConfigResult{Result: fail(errors.Wrap(err, "failed to load ai config"))}
	}
	return AIConfigResult{Result: ok(""), Config: cfg.Masked()}
}

// UpdateAIConfig merges update over the current configuration and stores it.
func (c *Controller) UpdateAIConfig(ctx context.Context, update *AIConfigUpdate) AIConfigResult {
	if update == nil {
		return AIConfigResult{Result: failMsg("empty update")}
	}
	tenant := c.state.Tenant()
	current, err := c.store.GetAIConfig(ctx, tenant)
	if err != nil {
		return AIConfigResult{Result: fail(errors.Wrap(err, "failed to load ai config"))}
	}

	merged := *current
	merged.Tenant = tenant
	if update.APIKey != nil && *update.APIKey != store.MaskedAPIKey {
		merged.APIKey = strings.TrimSpace(*update.APIKey)
	}
	if update.BaseURL != nil {
		merged.BaseURL = strings.TrimSpace(*update.BaseURL)
	}
	if update.Model != nil && strings.TrimSpace(*update.Model) != "" {
		merged.Model = strings.TrimSpace(*update.Model)
	}
	if update.Temperature != nil {
		if *update.Temperature < 0 || *update.Temperature > 2 {
			return AIConfigResult{Result: failMsg("temperature must be between 0 and 2")}
		}
		merged.Temperature = *update.Temperature
	}
	if update.MaxTokens != nil {
		if *update.MaxTokens <= 0 {
			return AIConfigResult{Result: failMsg("max tokens must be positive")}
		}
		merged.MaxTokens = *update.MaxTokens
	}
	if update.SystemPrompt != nil {
		merged.SystemPrompt = *update.SystemPrompt
	}
	if update.UserPrompt != nil {
		merged.UserPrompt = *update.UserPrompt
	}
	if update.AutoReplyEnabled != nil {
		merged.AutoReplyEnabled = *update.AutoReplyEnabled
	}

	saved, err := c.store.UpsertAIConfig(ctx, &merged)
	if err != nil {
		c.logger.Error("controller: failed to save ai config", "error", err)
		return AIConfigResult{Result: fail(errors.Wrap(err, "failed to save ai config"))}
	}
	if update.AutoReplyEnabled != nil {
		c.state.SetAllAutoReply(*update.AutoReplyEnabled)
	}
	return AIConfigResult{Result: ok("AI config updated"), Config: saved.Masked()}
}

// DeleteAIConfig removes the tenant configuration; defaults apply afterwards.
func (c *Controller) DeleteAIConfig(ctx context.Context) Result {
	if err := c.store.DeleteAIConfig(ctx, c.state.Tenant()); err != nil {
		return fail(errors.Wrap(err, "failed to delete ai config"))
	}
	c.state.SetAllAutoReply(false)
	return ok("AI config deleted")
}
