package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cncpanel/pkg/plugin"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the configuration file looked up inside a config directory.
	FileName = "cncpanel.yaml"

	// DefaultCycleTime is the status poll interval when none is configured.
	DefaultCycleTime = 100 * time.Millisecond

	// DefaultStatusURL is the status bridge websocket address.
	DefaultStatusURL = "ws://localhost:5007/status"

	// DefaultAPIPort is the HTTP API port.
	DefaultAPIPort = 8080

	// DefaultDatabase is the persistence file name inside the config directory.
	DefaultDatabase = "persistent.db"
)

// WidgetTypes are the widget types a panel may declare.
var WidgetTypes = map[string]bool{
	"label":  true,
	"button": true,
	"led":    true,
	"number": true,
}

// PluginConfig is one entry of the data_plugins list.
type PluginConfig struct {
	ID       string         `yaml:"id"`
	Provider string         `yaml:"provider"`
	Options  map[string]any `yaml:"options"`
}

// StatusConfig locates the machine status bridge.
type StatusConfig struct {
	URL string `yaml:"url"`
}

// HALConfig holds the defaults for the hal plugin.
type HALConfig struct {
	Command    string        `yaml:"command"`
	SetCommand string        `yaml:"set_command"`
	LockFile   *string       `yaml:"lock_file"`
	CycleTime  time.Duration `yaml:"cycle_time"`
}

// PersistenceConfig locates the settings database.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Port int `yaml:"port"`
}

// WidgetConfig declares one panel widget. Channel binds the widget value
// and Rules holds the rules JSON array.
type WidgetConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Text    string `yaml:"text"`
	Channel string `yaml:"channel"`
	Rules   string `yaml:"rules"`
}

// PanelConfig is the terminal panel layout.
type PanelConfig struct {
	Title   string         `yaml:"title"`
	Widgets []WidgetConfig `yaml:"widgets"`
}

// Config represents the cncpanel.yaml structure.
type Config struct {
	CycleTime   time.Duration     `yaml:"cycle_time"`
	ReadOnly    bool              `yaml:"read_only"`
	DataPlugins []PluginConfig    `yaml:"data_plugins"`
	Settings    map[string]any    `yaml:"settings"`
	Status      StatusConfig      `yaml:"status"`
	HAL         *HALConfig        `yaml:"hal"`
	Persistence PersistenceConfig `yaml:"persistence"`
	API         APIConfig         `yaml:"api"`
	Panel       PanelConfig       `yaml:"panel"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults("")
	return c
}

// Parse decodes, defaults and validates a configuration document. dir
// anchors relative paths.
func Parse(data []byte, dir string) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	c.applyDefaults(dir)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults(dir string) {
	if c.CycleTime <= 0 {
		c.CycleTime = DefaultCycleTime
	}
	if c.Status.URL == "" {
		c.Status.URL = DefaultStatusURL
	}
	if c.API.Port == 0 {
		c.API.Port = DefaultAPIPort
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = DefaultDatabase
	}
	if dir != "" && c.Persistence.Path != ":memory:" && !filepath.IsAbs(c.Persistence.Path) {
		c.Persistence.Path = filepath.Join(dir, c.Persistence.Path)
	}
	if c.Panel.Title == "" {
		c.Panel.Title = "cncpanel"
	}

	if len(c.DataPlugins) == 0 {
		c.DataPlugins = []PluginConfig{
			{ID: "status", Provider: "status"},
			{ID: "position", Provider: "position"},
			{ID: "settings", Provider: "settings"},
			{ID: "clock", Provider: "clock"},
		}
		if c.HAL != nil {
			c.DataPlugins = append(c.DataPlugins, PluginConfig{ID: "hal", Provider: "hal"})
		}
	}
	for i := range c.DataPlugins {
		if c.DataPlugins[i].ID == "" {
			c.DataPlugins[i].ID = c.DataPlugins[i].Provider
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	ids := make(map[string]bool)
	for i, p := range c.DataPlugins {
		if p.Provider == "" {
			return fmt.Errorf("data_plugins[%d]: provider is required", i)
		}
		if ids[p.ID] {
			return fmt.Errorf("data_plugins[%d]: duplicate id %q", i, p.ID)
		}
		ids[p.ID] = true
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.HAL != nil && c.HAL.CycleTime < 0 {
		return fmt.Errorf("hal.cycle_time must not be negative")
	}

	names := make(map[string]bool)
	for i, w := range c.Panel.Widgets {
		if w.Name == "" {
			return fmt.Errorf("panel.widgets[%d]: name is required", i)
		}
		if names[w.Name] {
			return fmt.Errorf("panel.widgets[%d]: duplicate name %q", i, w.Name)
		}
		names[w.Name] = true
		if !WidgetTypes[w.Type] {
			return fmt.Errorf("panel.widgets[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}

// Specs returns the plugin specs in configured order. The settings plugin
// receives the settings section and the hal plugin the hal section, unless
// their own options already set them. The status plugin inherits the
// global cycle time.
func (c *Config) Specs() []plugin.Spec {
	specs := make([]plugin.Spec, 0, len(c.DataPlugins))
	for _, p := range c.DataPlugins {
		opts := plugin.Options{}
		for k, v := range p.Options {
			opts[k] = v
		}

		switch p.Provider {
		case "status":
			setDefault(opts, "cycle_time", c.CycleTime.String())
		case "settings":
			if c.Settings != nil {
				setDefault(opts, "settings", c.Settings)
			}
		case "hal":
			if c.HAL != nil {
				if c.HAL.Command != "" {
					setDefault(opts, "command", c.HAL.Command)
				}
				if c.HAL.SetCommand != "" {
					setDefault(opts, "set_command", c.HAL.SetCommand)
				}
				if c.HAL.LockFile != nil {
					setDefault(opts, "lock_file", *c.HAL.LockFile)
				}
				if c.HAL.CycleTime > 0 {
					setDefault(opts, "cycle_time", c.HAL.CycleTime.String())
				}
			}
		}

		specs = append(specs, plugin.Spec{Provider: p.Provider, Options: opts})
	}
	return specs
}

func setDefault(opts plugin.Options, key string, v any) {
	if _, ok := opts[key]; !ok {
		opts[key] = v
	}
}

// Loader manages configuration file loading.
type Loader struct {
	configDir string
	logger    *zap.Logger
	config    *Config
}

// NewLoader creates a new configuration loader.
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return filepath.Join(l.configDir, FileName)
}

// Load reads the configuration file. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	path := l.Path()
	l.logger.Debug("Loading config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.logger.Warn("Config file not found, using defaults", zap.String("path", path))
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config, err := Parse(data, l.configDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	l.config = config
	l.logger.Info("Config loaded successfully",
		zap.Int("data_plugins", len(config.DataPlugins)),
		zap.Int("settings", len(config.Settings)),
		zap.Int("widgets", len(config.Panel.Widgets)))
	return config, nil
}

// Config returns the loaded configuration.
func (l *Loader) Config() *Config {
	return l.config
}
