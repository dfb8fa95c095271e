package cli

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"stock-ingest/internal/config"
)

const redacted = "****"

// secretKeyword matches a secret-looking key=value pair in a keyword/value DSN
// such as "host=db password='x y'".
var secretKeyword = regexp.MustCompile(`(?i)(\b\w*(?:password|token|secret|key)\w*\s*=\s*)('(?:\\.|[^'\\])*'|\S*)`)

// ConfigSummaryLines returns human readable lines describing the loaded
// config. Credentials are masked.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	return []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Config file: %s", orDefault(cfg.MainPath(), "<inline>")),
		fmt.Sprintf("Source API: %s", redactURL(cfg.Fetch.URL)),
		fmt.Sprintf("Fetch policy: timeout=%s attempts=%d delay=%s headers=%d",
			cfg.Fetch.Timeout, cfg.Fetch.MaxRetries, cfg.Fetch.RetryDelayDuration(), len(cfg.Fetch.Headers)),
		fmt.Sprintf("Postgres: %s (pool %d..%d)", redactURL(cfg.Postgres.DataSource()), cfg.Postgres.MinConns, cfg.Postgres.MaxConns),
		fmt.Sprintf("Store: table=%s batch=%d", cfg.Store.Table, cfg.Store.BatchSize),
		fmt.Sprintf("Redis cache: %s", cacheLine(cfg.Cache)),
		fmt.Sprintf("Schedule: %s (run on start: %t)", cfg.Schedule.Spec, cfg.Schedule.RunOnStart),
	}
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func cacheLine(c config.CacheConf) string {
	if !c.Enabled() {
		return "not configured"
	}
	return fmt.Sprintf("%s (%s, ttl %s)", c.Host, c.Type, c.TTL)
}

// redactURL masks the password and any query value that looks like a secret.
// Keyword/value DSNs are masked token by token.
func redactURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "not configured"
	}
	if !strings.Contains(raw, "://") {
		return secretKeyword.ReplaceAllString(raw, "${1}"+redacted)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
		}
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if isSecretKey(key) {
				q.Set(key, redacted)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"password", "token", "secret", "key"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
