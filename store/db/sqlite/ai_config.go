package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/replybridge/store"
)

const aiConfigColumns = `tenant, api_key, base_url, model, temperature, max_tokens, system_prompt, user_prompt, auto_reply_enabled, updated_ts`

func scanAIConfig(s scanner) (*store.AIConfig, error) {
	var (
		cfg          store.AIConfig
		apiKey       sql.NullString
		baseURL      sql.NullString
		model        sql.NullString
		temperature  sql.NullFloat64
		maxTokens    sql.NullInt64
		systemPrompt sql.NullString
		userPrompt   sql.NullString
	)
	if err := s.Scan(
		&cfg.Tenant,
		&apiKey,
		&baseURL,
		&model,
		&temperature,
		&maxTokens,
		&systemPrompt,
		&userPrompt,
		&cfg.AutoReplyEnabled,
		&cfg.UpdatedTs,
	); err != nil {
		return nil, err
	}
	cfg.APIKey = apiKey.String
	cfg.BaseURL = baseURL.String
	cfg.SystemPrompt = systemPrompt.String
	cfg.UserPrompt = userPrompt.String

	cfg.Model = store.DefaultModel
	if model.Valid && model.String != "" {
		cfg.Model = model.String
	}
	cfg.Temperature = store.DefaultTemperature
	if temperature.Valid {
		cfg.Temperature = temperature.Float64
	}
	cfg.MaxTokens = store.DefaultMaxTokens
	if maxTokens.Valid && maxTokens.Int64 > 0 {
		cfg.MaxTokens = int(maxTokens.Int64)
	}
	return &cfg, nil
}

// GetAIConfig returns nil when the tenant has no row.
func (d *DB) GetAIConfig(ctx context.Context, tenant string) (*store.AIConfig, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+aiConfigColumns+` FROM ai_sales_config WHERE tenant = ?`, tenant)
	cfg, err := scanAIConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ai config")
	}
	return cfg, nil
}

func (d *DB) UpsertAIConfig(ctx context.Context, upsert *store.AIConfig) (*store.AIConfig, error) {
	now := d.unix()
	stmt := `
		INSERT INTO ai_sales_config (tenant, api_key, base_url, model, temperature, max_tokens, system_prompt, user_prompt, auto_reply_enabled, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant) DO UPDATE SET
			api_key = excluded.api_key,
			base_url = excluded.base_url,
			model = excluded.model,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			system_prompt = excluded.system_prompt,
			user_prompt = excluded.user_prompt,
			auto_reply_enabled = excluded.auto_reply_enabled,
			updated_ts = excluded.updated_ts
		RETURNING ` + aiConfigColumns
	cfg, err := scanAIConfig(d.db.QueryRowContext(ctx, stmt,
		upsert.Tenant,
		upsert.APIKey,
		upsert.BaseURL,
		nullIfEmpty(upsert.Model),
		upsert.Temperature,
		nullIfZero(upsert.MaxTokens),
		upsert.SystemPrompt,
		upsert.UserPrompt,
		upsert.AutoReplyEnabled,
		now,
		now,
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert ai config")
	}
	return cfg, nil
}

func (d *DB) SetAutoReplyEnabled(ctx context.Context, tenant string, enabled bool) error {
	now := d.unix()
	stmt := `
		INSERT INTO ai_sales_config (tenant, auto_reply_enabled, created_ts, updated_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant) DO UPDATE SET
			auto_reply_enabled = excluded.auto_reply_enabled,
			updated_ts = excluded.updated_ts
	`
	if _, err := d.db.ExecContext(ctx, stmt, tenant, enabled, now, now); err != nil {
		return errors.Wrap(err, "failed to set auto reply")
	}
	return nil
}

func (d *DB) DeleteAIConfig(ctx context.Context, tenant string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM ai_sales_config WHERE tenant = ?`, tenant); err != nil {
		return errors.Wrap(err, "failed to delete ai config")
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}
