// Package config loads the weft daemon configuration from YAML.
//
// Files are parsed with yaml.v3 into a generic map and then decoded with mapstructure, so
// durations may be written as strings ("500ms", "2s") and numbers may be quoted.
// Missing keys keep the values from Default.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/bias"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/persistence/middleware"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Process  ProcessConfig  `mapstructure:"process"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Store    StoreConfig    `mapstructure:"store"`
	HTTP     ServerConfig   `mapstructure:"http"`
	Metrics  ServerConfig   `mapstructure:"metrics"`
	Bias     BiasConfig     `mapstructure:"bias"`
	Driver   DriverConfig   `mapstructure:"driver"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Log      LogConfig      `mapstructure:"log"`
}

// LedgerConfig controls the epoch clock.
type LedgerConfig struct {
	ID            string        `mapstructure:"id"`
	VotingDelay   uint64        `mapstructure:"voting_delay"`
	BlockInterval time.Duration `mapstructure:"block_interval"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout"`
}

// ProcessConfig declares who sends and receives each task.
type ProcessConfig struct {
	// Instances share the same role bindings for every task in Roles.
	Instances []uint64              `mapstructure:"instances"`
	Roles     map[string]RoleConfig `mapstructure:"roles"`

	// Tasks bind individual tasks, overriding Roles.
	Tasks []TaskBinding `mapstructure:"tasks"`
}

// RoleConfig names the two participants of a task.
type RoleConfig struct {
	Sender   string `mapstructure:"sender"`
	Receiver string `mapstructure:"receiver"`
}

// TaskBinding binds the participants of one task of one instance.
type TaskBinding struct {
	Instance uint64 `mapstructure:"instance"`
	Task     string `mapstructure:"task"`
	Sender   string `mapstructure:"sender"`
	Receiver string `mapstructure:"receiver"`
}

// RedisConfig enables shared persistence. An empty Addr keeps the ledger in memory.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// StoreConfig selects local persistence and at-rest encryption. Dir is used only when
// redis is not configured; the encryption keys apply to whichever store is in use.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`

	// EncryptionKey is a base64 AES-256 key. Empty stores snapshots in clear.
	EncryptionKey string `mapstructure:"encryption_key"`

	// FallbackKeys are older base64 keys still accepted for reading.
	FallbackKeys []string `mapstructure:"fallback_keys"`
}

// Encryption returns the parsed keys, or nil when encryption is off.
func (s StoreConfig) Encryption() (*middleware.EncryptionConfig, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	cfg, err := middleware.ParseKeys(s.EncryptionKey, s.FallbackKeys...)
	if err != nil {
		return nil, fmt.Errorf("store encryption: %w", err)
	}
	return &cfg, nil
}

// ServerConfig is a listen address. Empty disables the server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// BiasConfig selects the fairness policy: "none", "reference" or "custom".
type BiasConfig struct {
	Policy    string              `mapstructure:"policy"`
	Rotations []bias.RotationRule `mapstructure:"rotations"`
	Balances  []bias.BalanceRule  `mapstructure:"balances"`
}

// DriverConfig controls the built-in orderers.
type DriverConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Seed               uint64   `mapstructure:"seed"`
	MaxConflictRetries int      `mapstructure:"max_conflict_retries"`
	Fallback           []string `mapstructure:"fallback"`
}

// ExecutorConfig controls how committed tasks are run.
type ExecutorConfig struct {
	Mode        executor.Mode `mapstructure:"mode"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	TasksFile   string        `mapstructure:"tasks_file"`
	BaseDir     string        `mapstructure:"base_dir"`
}

// LogConfig sets the log level ("debug", "info", "warn", "error") and the handler
// format ("text" or "json").
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Ledger: LedgerConfig{
			ID:            "default",
			VotingDelay:   2,
			BlockInterval: time.Second,
			WaitTimeout:   30 * time.Second,
		},
		Redis: RedisConfig{
			Prefix:  "weft:",
			LockTTL: 30 * time.Second,
		},
		HTTP:   ServerConfig{Addr: ":8080"},
		Bias:   BiasConfig{Policy: "none"},
		Driver: DriverConfig{Seed: 1, MaxConflictRetries: 8},
		Executor: ExecutorConfig{
			Mode:        executor.ModeOrdered,
			MaxAttempts: executor.DefaultMaxAttempts,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Decode parses YAML data into cfg, keeping fields the data does not mention.
func Decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			bucketsHook,
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// bucketsHook lets rotation buckets be written as a list of two lists.
func bucketsHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf([2][]uint64{}) {
		return data, nil
	}
	list, ok := data.([]any)
	if !ok {
		return data, nil
	}
	if len(list) != 2 {
		return nil, fmt.Errorf("rotation buckets need exactly two entries, got %d", len(list))
	}
	var out [2][]uint64
	for n, bucket := range list {
		if err := mapstructure.WeakDecode(bucket, &out[n]); err != nil {
			return nil, fmt.Errorf("bucket %d: %w", n, err)
		}
	}
	return out, nil
}

// Validate rejects configurations the daemon cannot run.
func (c Config) Validate() error {
	var errs []error
	if c.Ledger.ID == "" {
		errs = append(errs, errors.New("ledger.id must not be empty"))
	}
	switch c.Bias.Policy {
	case "", "none", "reference", "custom":
	default:
		errs = append(errs, fmt.Errorf("unknown bias policy %q", c.Bias.Policy))
	}
	switch c.Executor.Mode {
	case "", executor.ModeDirect, executor.ModeOrdered:
	default:
		errs = append(errs, fmt.Errorf("unknown executor mode %q", c.Executor.Mode))
	}
	if c.Driver.MaxConflictRetries < 0 {
		errs = append(errs, errors.New("driver.max_conflict_retries must not be negative"))
	}
	for _, t := range c.Process.Tasks {
		if t.Task == "" {
			errs = append(errs, fmt.Errorf("process.tasks: binding for instance %d has no task", t.Instance))
		}
	}
	if _, err := c.Store.Encryption(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// BiasPolicy builds the configured policy.
func (c Config) BiasPolicy() bias.Policy {
	switch c.Bias.Policy {
	case "reference":
		return bias.Reference()
	case "custom":
		return &bias.RoundRobin{Rotations: c.Bias.Rotations, Balances: c.Bias.Balances}
	default:
		return bias.None{}
	}
}

// Directory builds the in-memory participant directory.
func (c Config) Directory() *memory.Directory {
	dir := memory.NewDirectory(nil)
	roles := make(map[string]domain.Participants, len(c.Process.Roles))
	for task, r := range c.Process.Roles {
		roles[task] = domain.Participants{Sender: r.Sender, Receiver: r.Receiver}
	}
	dir.DefineProcess(c.Process.Instances, roles)
	for _, t := range c.Process.Tasks {
		dir.Define(domain.TaskKey{InstanceID: t.Instance, TaskName: t.Task}, domain.Participants{Sender: t.Sender, Receiver: t.Receiver})
	}
	return dir
}

// SlogLevel parses the log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}
