package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// summary to w. This powers the "config show" command. The signing key is
// never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.ConfigPath != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)
	} else {
		ew.printf("# Effective configuration\n\n")
	}

	renderSessionSection(ew, r)
	renderLoggingSection(ew, r)
	renderNetworkSection(ew, r)
	renderRetrySection(ew, r)
	renderServerSection(ew, r)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderSessionSection(ew *errWriter, r *Resolved) {
	ew.printf("# session\n")
	ew.printf("tenant_url   = %q\n", r.TenantURL)
	ew.printf("session_file = %q\n", r.SessionFile)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, r *Resolved) {
	ew.printf("# logging\n")
	ew.printf("log_level  = %q\n", r.LogLevel)
	ew.printf("log_format = %q\n", r.LogFormat)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, r *Resolved) {
	ew.printf("# network\n")
	ew.printf("request_timeout     = %q\n", r.RequestTimeout.String())
	ew.printf("refresh_timeout     = %q\n", r.RefreshTimeout.String())
	ew.printf("user_agent          = %q\n", r.UserAgent)
	ew.printf("requests_per_second = %g\n", r.RequestsPerSecond)
	ew.printf("token_leeway        = %q\n", r.TokenLeeway.String())
	ew.printf("\n")
}

func renderRetrySection(ew *errWriter, r *Resolved) {
	ew.printf("# retry\n")
	ew.printf("max_retries          = %d\n", r.QueryRetry.MaxRetries)
	ew.printf("retry_step           = %q\n", r.QueryRetry.Step.String())
	ew.printf("retry_cap            = %q\n", r.QueryRetry.Cap.String())
	ew.printf("mutation_max_retries = %d\n", r.MutationRetry.MaxRetries)
	ew.printf("mutation_retry_step  = %q\n", r.MutationRetry.Step.String())
	ew.printf("mutation_retry_cap   = %q\n", r.MutationRetry.Cap.String())
	ew.printf("\n")
}

func renderServerSection(ew *errWriter, r *Resolved) {
	ew.printf("# serve\n")
	ew.printf("listen_addr   = %q\n", r.ListenAddr)
	ew.printf("database_path = %q\n", r.DatabasePath)

	if r.SigningKey != "" {
		ew.printf("signing_key   = \"(set)\"\n")
	}

	ew.printf("token_ttl     = %q\n", r.TokenTTL.String())
}
