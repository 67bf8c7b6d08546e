package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/qmsched/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

// configShowOutput is the JSON schema for `config show --json`. Durations
// are rendered as strings and the signing key is never printed.
type configShowOutput struct {
	ConfigPath        string  `json:"config_path"`
	TenantURL         string  `json:"tenant_url"`
	SessionFile       string  `json:"session_file"`
	LogLevel          string  `json:"log_level"`
	LogFormat         string  `json:"log_format"`
	RequestTimeout    string  `json:"request_timeout"`
	RefreshTimeout    string  `json:"refresh_timeout"`
	UserAgent         string  `json:"user_agent"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TokenLeeway       string  `json:"token_leeway"`
	MaxRetries        int     `json:"max_retries"`
	RetryStep         string  `json:"retry_step"`
	RetryCap          string  `json:"retry_cap"`
	MutationRetries   int     `json:"mutation_max_retries"`
	MutationRetryStep string  `json:"mutation_retry_step"`
	MutationRetryCap  string  `json:"mutation_retry_cap"`
	ListenAddr        string  `json:"listen_addr"`
	DatabasePath      string  `json:"database_path"`
	SigningKeySet     bool    `json:"signing_key_set"`
	TokenTTL          string  `json:"token_ttl"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), newConfigShowOutput(resolvedCfg))
	}

	return config.RenderEffective(resolvedCfg, cmd.OutOrStdout())
}

func newConfigShowOutput(r *config.Resolved) configShowOutput {
	return configShowOutput{
		ConfigPath:        r.ConfigPath,
		TenantURL:         r.TenantURL,
		SessionFile:       r.SessionFile,
		LogLevel:          r.LogLevel,
		LogFormat:         r.LogFormat,
		RequestTimeout:    r.RequestTimeout.String(),
		RefreshTimeout:    r.RefreshTimeout.String(),
		UserAgent:         r.UserAgent,
		RequestsPerSecond: r.RequestsPerSecond,
		TokenLeeway:       r.TokenLeeway.String(),
		MaxRetries:        r.QueryRetry.MaxRetries,
		RetryStep:         r.QueryRetry.Step.String(),
		RetryCap:          r.QueryRetry.Cap.String(),
		MutationRetries:   r.MutationRetry.MaxRetries,
		MutationRetryStep: r.MutationRetry.Step.String(),
		MutationRetryCap:  r.MutationRetry.Cap.String(),
		ListenAddr:        r.ListenAddr,
		DatabasePath:      r.DatabasePath,
		SigningKeySet:     r.SigningKey != "",
		TokenTTL:          r.TokenTTL.String(),
	}
}
