package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`
	Port     string `env:"PORT,      default=8080"`

	DiscordToken string `env:"DISCORD_TOKEN" validate:"required"`

	Guild  GuildConfig
	Sweeps SweepConfig
	Verify VerifyConfig

	AdminJWTSecret  string `env:"ADMIN_JWT_SECRET"`
	DispatchWorkers int    `env:"DISPATCH_WORKERS, default=8" validate:"gte=1"`

	Mongo MongoConfig
	Redis RedisConfig
}

// GuildConfig identifies the community and its policy-significant roles and
// channels. Every field is required.
type GuildConfig struct {
	ID                  string `env:"GUILD_ID"                validate:"required,numeric"`
	UnverifiedRoleID    string `env:"UNVERIFIED_ROLE_ID"      validate:"required,numeric"`
	MemberRoleID        string `env:"MEMBER_ROLE_ID"          validate:"required,numeric"`
	VerificationChannel string `env:"VERIFICATION_CHANNEL_ID" validate:"required,numeric"`
	LogChannel          string `env:"LOG_CHANNEL_ID"          validate:"required,numeric"`

	// EntitlementRoles is parsed from the raw comma-separated list.
	EntitlementRoles    []string `validate:"required,min=1,dive,numeric"`
	RawEntitlementRoles string   `env:"ENTITLEMENT_ROLE_IDS"`
}

type SweepConfig struct {
	PendingInterval     time.Duration `env:"PENDING_SWEEP_INTERVAL,     default=10m" validate:"gt=0"`
	EntitlementInterval time.Duration `env:"ENTITLEMENT_SWEEP_INTERVAL, default=5m"  validate:"gt=0"`
	Concurrency         int           `env:"SWEEP_CONCURRENCY,          default=4"   validate:"gte=1"`
}

type VerifyConfig struct {
	Keyword           string        `env:"VERIFY_KEYWORD,            default=?verify" validate:"required"`
	ConfirmationDelay time.Duration `env:"CONFIRMATION_DELETE_DELAY, default=10s"`
	PromptTTL         time.Duration `env:"PROMPT_TTL,                default=24h"     validate:"gt=0"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI"`
	Database string `env:"MONGO_DB, default=tiersync"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR"`
	DB   int    `env:"REDIS_DB, default=0"`
}

// PolicyRoles returns the role set the engine enforces.
func (c *Config) PolicyRoles() domain.PolicyRoles {
	return domain.PolicyRoles{
		Unverified:   c.Guild.UnverifiedRoleID,
		Member:       c.Guild.MemberRoleID,
		Entitlements: c.Guild.EntitlementRoles,
	}
}

// Load reads configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration through lookuper. Any missing or malformed
// required value yields an error wrapping domain.ErrConfigMissing.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigMissing, err)
	}

	cfg.normalize()
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigMissing, describe(err))
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.DiscordToken = strings.TrimSpace(c.DiscordToken)
	c.Guild.ID = strings.TrimSpace(c.Guild.ID)
	c.Guild.UnverifiedRoleID = strings.TrimSpace(c.Guild.UnverifiedRoleID)
	c.Guild.MemberRoleID = strings.TrimSpace(c.Guild.MemberRoleID)
	c.Guild.VerificationChannel = strings.TrimSpace(c.Guild.VerificationChannel)
	c.Guild.LogChannel = strings.TrimSpace(c.Guild.LogChannel)
	c.Guild.EntitlementRoles = ParseIDList(c.Guild.RawEntitlementRoles)
	c.Verify.Keyword = strings.TrimSpace(c.Verify.Keyword)
}

// ParseIDList splits a comma-separated id list, trimming blanks and dropping
// duplicates. Order is irrelevant but kept stable.
func ParseIDList(raw string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// describe lists the offending fields without echoing their values, which
// may include the bot token.
func describe(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
