// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/engine"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/linkset"
	"firestige.xyz/isup/internal/mtp3"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `isup:` root key in YAML.
type GlobalConfig struct {
	Node      NodeConfig               `mapstructure:"node" yaml:"node"`
	Timers    map[string]time.Duration `mapstructure:"timers" yaml:"timers"`
	Engine    EngineConfig             `mapstructure:"engine" yaml:"engine"`
	Linksets  []LinksetConfig          `mapstructure:"linksets" yaml:"linksets"`
	Reporters ReportersConfig          `mapstructure:"reporters" yaml:"reporters"`
	Control   ControlConfig            `mapstructure:"control" yaml:"control"`
	Metrics   MetricsConfig            `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig                `mapstructure:"log" yaml:"log"`
}

// ─── Signaling Point ───

// NodeConfig identifies the local signaling point.
type NodeConfig struct {
	OPC mtp3.PointCode `mapstructure:"opc" yaml:"opc"`
	DPC mtp3.PointCode `mapstructure:"dpc" yaml:"dpc"` // default destination
	NI  uint8          `mapstructure:"ni" yaml:"ni"`   // 0 international .. 3 national spare
}

// ─── Engine ───

// EngineConfig tunes the stack engine.
type EngineConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RxQueueCapacity int           `mapstructure:"rx_queue_capacity" yaml:"rx_queue_capacity"`
	Delivery        string        `mapstructure:"delivery" yaml:"delivery"` // sync | async
	ListenerQueue   int           `mapstructure:"listener_queue" yaml:"listener_queue"`
}

// ─── Linksets ───

// LinksetConfig describes one linkset.
type LinksetConfig struct {
	Name  string         `mapstructure:"name" yaml:"name"`
	Type  string         `mapstructure:"type" yaml:"type"` // m2pa | memory
	OPC   mtp3.PointCode `mapstructure:"opc" yaml:"opc"`   // zero = node.opc
	APC   mtp3.PointCode `mapstructure:"apc" yaml:"apc"`
	NI    *uint8         `mapstructure:"ni" yaml:"ni,omitempty"` // nil = node.ni
	Links []LinkConfig   `mapstructure:"links" yaml:"links"`
}

// LinkConfig describes one signaling link.
type LinkConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Address string `mapstructure:"address" yaml:"address"`
	Mode    string `mapstructure:"mode" yaml:"mode"` // connect | listen
}

// ─── Reporters ───

// ReportersConfig holds the event reporters.
type ReportersConfig struct {
	Console ConsoleReporterConfig `mapstructure:"console" yaml:"console"`
	Kafka   KafkaReporterConfig   `mapstructure:"kafka" yaml:"kafka"`
}

// ConsoleReporterConfig configures the log-based reporter.
type ConsoleReporterConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Format  string `mapstructure:"format" yaml:"format"` // text | json
}

// KafkaReporterConfig configures the Kafka exporter.
type KafkaReporterConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none | gzip | snappy | lz4 | zstd
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// ─── Control Plane ───

// ControlConfig contains local process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`     // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"`   // json / text / pattern
	Pattern string           `mapstructure:"pattern" yaml:"pattern"` // used by format=pattern
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `isup: ...`.
type configRoot struct {
	ISUP GlobalConfig `mapstructure:"isup"`
}

// Load loads configuration from file.
// The YAML file uses `isup:` as root key; env vars use the ISUP_ prefix (e.g. ISUP_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `isup.` key prefix maps to `ISUP_` in env vars via the key replacer
	// (key "isup.node.opc" -> env "ISUP_NODE_OPC").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		pointCodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.ISUP

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

var pointCodeType = reflect.TypeOf(mtp3.PointCode(0))

// pointCodeHook accepts point codes as integers or 3-8-3 strings ("1.2.3").
func pointCodeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != pointCodeType || from.Kind() != reflect.String {
			return data, nil
		}
		return mtp3.ParsePointCode(data.(string))
	}
}

// setDefaults sets default values for configuration.
// All keys use the "isup." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("isup.node.ni", int(mtp3.NINational))

	for name, d := range engine.DefaultTimers() {
		v.SetDefault("isup.timers."+strings.ToLower(name), d)
	}

	v.SetDefault("isup.engine.poll_interval", "50ms")
	v.SetDefault("isup.engine.rx_queue_capacity", 1024)
	v.SetDefault("isup.engine.delivery", "sync")
	v.SetDefault("isup.engine.listener_queue", 256)

	v.SetDefault("isup.control.pid_file", "/var/run/isupd.pid")

	v.SetDefault("isup.log.level", "info")
	v.SetDefault("isup.log.format", "json")
	v.SetDefault("isup.log.pattern", "%time [%level] %msg%n")
	v.SetDefault("isup.log.outputs.file.enabled", false)
	v.SetDefault("isup.log.outputs.file.path", "/var/log/isupd/isupd.log")
	v.SetDefault("isup.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("isup.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("isup.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("isup.log.outputs.file.rotation.compress", true)

	v.SetDefault("isup.metrics.enabled", true)
	v.SetDefault("isup.metrics.listen", ":9092")
	v.SetDefault("isup.metrics.path", "/metrics")

	v.SetDefault("isup.reporters.console.enabled", false)
	v.SetDefault("isup.reporters.console.format", "text")
	v.SetDefault("isup.reporters.kafka.enabled", false)
	v.SetDefault("isup.reporters.kafka.topic", "isup-events")
	v.SetDefault("isup.reporters.kafka.compression", "gzip")
	v.SetDefault("isup.reporters.kafka.batch_size", 100)
	v.SetDefault("isup.reporters.kafka.batch_timeout", "1s")
	v.SetDefault("isup.reporters.kafka.max_attempts", 3)
}

// ValidateAndApplyDefaults validates configuration and fills linkset fields
// inherited from the node section.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}

	// ── Node ──
	if cfg.Node.OPC == 0 {
		return fmt.Errorf("%w: node.opc", core.ErrMissingOption)
	}
	if cfg.Node.DPC == 0 {
		return fmt.Errorf("%w: node.dpc", core.ErrMissingOption)
	}
	if cfg.Node.NI > uint8(mtp3.NINationalSpare) {
		return fmt.Errorf("%w: node.ni %d (must be 0-3)", core.ErrConfigInvalid, cfg.Node.NI)
	}

	// ── Engine ──
	if _, err := eventbus.ParseMode(cfg.Engine.Delivery); err != nil {
		return err
	}

	// ── Linksets ──
	seen := make(map[string]bool)
	for i := range cfg.Linksets {
		ls := &cfg.Linksets[i]
		if ls.Name == "" {
			return fmt.Errorf("%w: linksets[%d].name", core.ErrMissingOption, i)
		}
		if seen[ls.Name] {
			return fmt.Errorf("%w: duplicate linkset %s", core.ErrConfigInvalid, ls.Name)
		}
		seen[ls.Name] = true

		switch ls.Type {
		case "":
			ls.Type = "m2pa"
		case "m2pa", "memory":
		default:
			return fmt.Errorf("%w: linkset %s type %q (must be m2pa/memory)", core.ErrConfigInvalid, ls.Name, ls.Type)
		}
		if ls.OPC == 0 {
			ls.OPC = cfg.Node.OPC
		}
		if ls.APC == 0 {
			return fmt.Errorf("%w: linkset %s apc", core.ErrMissingOption, ls.Name)
		}
		if ls.NI == nil {
			ni := cfg.Node.NI
			ls.NI = &ni
		}
		for j := range ls.Links {
			if ls.Links[j].Mode == "" {
				ls.Links[j].Mode = string(linkset.ModeConnect)
			}
		}
	}

	// ── Reporters ──
	if cfg.Reporters.Kafka.Enabled {
		if len(cfg.Reporters.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: reporters.kafka.brokers is required when reporters.kafka.enabled=true", core.ErrMissingOption)
		}
		if cfg.Reporters.Kafka.Topic == "" {
			return fmt.Errorf("%w: reporters.kafka.topic", core.ErrMissingOption)
		}
	}

	// Timers are checked by the engine options below.
	opts := cfg.EngineOptions()
	return opts.Validate()
}

// EngineOptions converts the configuration into engine options.
func (cfg *GlobalConfig) EngineOptions() engine.Options {
	delivery, _ := eventbus.ParseMode(cfg.Engine.Delivery)

	timers := make(map[string]time.Duration, len(cfg.Timers))
	for name, d := range cfg.Timers {
		timers[strings.ToUpper(name)] = d
	}

	return engine.Options{
		OPC:           cfg.Node.OPC,
		DPC:           cfg.Node.DPC,
		NI:            mtp3.NetworkIndicator(cfg.Node.NI),
		Timers:        timers,
		PollInterval:  cfg.Engine.PollInterval,
		Delivery:      delivery,
		ListenerQueue: cfg.Engine.ListenerQueue,
	}
}

// LinksetConfig converts ls into a transport configuration.
func (cfg *GlobalConfig) LinksetConfig(ls LinksetConfig) linkset.Config {
	out := linkset.Config{
		Name:          ls.Name,
		OPC:           ls.OPC,
		APC:           ls.APC,
		NI:            mtp3.NetworkIndicator(cfg.Node.NI),
		QueueCapacity: cfg.Engine.RxQueueCapacity,
	}
	if ls.NI != nil {
		out.NI = mtp3.NetworkIndicator(*ls.NI)
	}
	for _, l := range ls.Links {
		out.Links = append(out.Links, linkset.LinkConfig{
			Name:    l.Name,
			Address: l.Address,
			Mode:    linkset.LinkMode(l.Mode),
		})
	}
	return out
}

// Dump renders cfg as YAML under the `isup:` root key.
func Dump(cfg *GlobalConfig) ([]byte, error) {
	return yaml.Marshal(map[string]*GlobalConfig{"isup": cfg})
}
