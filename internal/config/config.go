// Package config resolves the indexer's configuration from the environment
// and its secrets from Vault. Per-domain keys are resolved by suffixing the
// base key with the uppercased domain token.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Global configuration keys.
const (
	KeySolrURL              = "SOLR_URL"
	KeyDatabaseName         = "DATABASE_NAME"
	KeyDatabaseHost         = "DATABASE_HOST"
	KeyDatabasePort         = "DATABASE_PORT"
	KeyDatabaseSchema       = "DATABASE_SCHEMA"
	KeyGetEventBufferProc   = "DB_FUNC_GET_EVENT_NOTIFICATION_BUFFER"
	KeyCleanEventBufferProc = "DB_FUNC_CLEAN_EVENT_NOTIFICATION_BUFFER"
	KeyGetIndexOverride     = "DB_FUNC_GET_INDEX_OVERRIDE"
	KeyCleanIndexOverride   = "DB_FUNC_CLEAN_INDEX_OVERRIDE"
	KeyOverrideSourceField  = "DB_FIELD_INDEX_OVERRIDE_SOURCE_TS"
	KeyOverrideTargetField  = "DB_FIELD_INDEX_OVERRIDE_TARGET_TS"
	KeyOverrideStepDays     = "IDX_OVERRIDE_TIMESTEP_DAY_SIZE"
	KeyOverrideWorkers      = "IDX_OVERRIDE_CONCURRENT_THREAD_COUNT"
	KeyBufferRetrySeconds   = "IDX_BUFFER_RETRY_SECONDS"
	KeyEventFetchKey        = "IDX_EVENT_FETCH_KEY"
	KeyHTTPAddr             = "HTTP_ADDR"
	KeyDomain               = "DOMAIN"
)

// Per-domain key prefixes, completed with "_<DOMAIN>".
const (
	prefixChannel        = "DB_CHANNEL"
	prefixGetProc        = "DB_FUNC_GET"
	prefixGetByIDProc    = "DB_FUNC_GET_BY_ID"
	prefixCollection     = "SOLR_COLLECTION"
	prefixBufferSize     = "IDX_BUFFER_SIZE"
	prefixBufferDuration = "IDX_BUFFER_DURATION"
	prefixFetchKey       = "IDX_FETCH_KEY"
)

// Config is the viper-backed environment view.
type Config struct {
	v *viper.Viper
}

// Load binds to the process environment and installs defaults for the keys
// that have a stable contract-side name.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(KeyDatabaseHost, "localhost")
	v.SetDefault(KeyDatabasePort, "5432")
	v.SetDefault(KeyGetEventBufferProc, "get_event_notification_buffer")
	v.SetDefault(KeyCleanEventBufferProc, "clean_event_notification_buffer")
	v.SetDefault(KeyGetIndexOverride, "get_index_override")
	v.SetDefault(KeyCleanIndexOverride, "clean_index_override")
	v.SetDefault(KeyOverrideSourceField, "source_ts")
	v.SetDefault(KeyOverrideTargetField, "target_ts")
	v.SetDefault(KeyOverrideStepDays, 7)
	v.SetDefault(KeyOverrideWorkers, 4)
	v.SetDefault(KeyBufferRetrySeconds, 30)
	v.SetDefault(KeyEventFetchKey, "payload")
	v.SetDefault(KeyHTTPAddr, ":8080")

	return &Config{v: v}
}

// String returns the raw value for a global key.
func (c *Config) String(key string) string { return c.v.GetString(key) }

// Int returns the integer value for a global key.
func (c *Config) Int(key string) int { return c.v.GetInt(key) }

// RetryInterval is the delay before the listener reconnects after a failed
// session.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.v.GetInt(KeyBufferRetrySeconds)) * time.Second
}

// NormalizeDomain canonicalises a raw domain token: uppercased, trimmed,
// quotes stripped. Empty input stays empty.
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(strings.ToUpper(raw))
	d = strings.ReplaceAll(d, "'", "")
	d = strings.ReplaceAll(d, `"`, "")
	return d
}

// DomainBindings is the per-domain configuration set selected by the
// domain suffix.
type DomainBindings struct {
	Name           string
	Channel        string
	GetAllProc     string
	GetByIDProc    string
	FetchKey       string
	Collection     string
	BufferSize     int
	BufferDuration time.Duration
}

// BindDomain resolves the full binding set for the domain. Every key is
// required; the first missing one is reported by its full name.
func (c *Config) BindDomain(domain string) (DomainBindings, error) {
	if domain == "" {
		return DomainBindings{}, fmt.Errorf("domain is empty")
	}

	get := func(prefix string) (string, error) {
		key := prefix + "_" + domain
		val := c.v.GetString(key)
		if val == "" {
			return "", fmt.Errorf("missing configuration key %s", key)
		}
		return val, nil
	}

	b := DomainBindings{Name: domain}
	var err error
	if b.Channel, err = get(prefixChannel); err != nil {
		return DomainBindings{}, err
	}
	if b.GetAllProc, err = get(prefixGetProc); err != nil {
		return DomainBindings{}, err
	}
	if b.GetByIDProc, err = get(prefixGetByIDProc); err != nil {
		return DomainBindings{}, err
	}
	if b.Collection, err = get(prefixCollection); err != nil {
		return DomainBindings{}, err
	}
	if b.FetchKey, err = get(prefixFetchKey); err != nil {
		return DomainBindings{}, err
	}

	size, err := get(prefixBufferSize)
	if err != nil {
		return DomainBindings{}, err
	}
	b.BufferSize = c.v.GetInt(prefixBufferSize + "_" + domain)
	if b.BufferSize < 0 {
		return DomainBindings{}, fmt.Errorf("invalid %s_%s: %s", prefixBufferSize, domain, size)
	}

	if _, err := get(prefixBufferDuration); err != nil {
		return DomainBindings{}, err
	}
	seconds := c.v.GetInt(prefixBufferDuration + "_" + domain)
	if seconds <= 0 {
		return DomainBindings{}, fmt.Errorf("invalid %s_%s", prefixBufferDuration, domain)
	}
	b.BufferDuration = time.Duration(seconds) * time.Second

	return b, nil
}

// Set overrides a key in the view. Used by tests.
func (c *Config) Set(key string, value any) { c.v.Set(key, value) }
