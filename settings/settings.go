// Package settings loads and saves the inspector configuration.
//
// The persisted record is flat YAML: model_path, source, confidence and
// cookie_file, plus optional preview, mqtt and worker sections. Values are
// layered defaults < file < INSPECT_* environment < bound CLI flags.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the settings file used when none is given.
const DefaultFile = "settings.yaml"

// EnvPrefix prefixes environment overrides, e.g. INSPECT_CONFIDENCE.
const EnvPrefix = "INSPECT"

// Settings is the inspector configuration.
type Settings struct {
	ModelPath  string  `yaml:"model_path" mapstructure:"model_path"`
	Source     string  `yaml:"source" mapstructure:"source"`
	Confidence float64 `yaml:"confidence" mapstructure:"confidence"`
	CookieFile string  `yaml:"cookie_file" mapstructure:"cookie_file"`

	TempDir string        `yaml:"temp_dir,omitempty" mapstructure:"temp_dir"`
	Preview PreviewConfig `yaml:"preview" mapstructure:"preview"`
	MQTT    MQTTConfig    `yaml:"mqtt" mapstructure:"mqtt"`
	Worker  WorkerConfig  `yaml:"worker" mapstructure:"worker"`
}

// PreviewConfig configures the HTTP preview surface.
type PreviewConfig struct {
	Addr        string `yaml:"addr" mapstructure:"addr"`
	SnapshotDir string `yaml:"snapshot_dir" mapstructure:"snapshot_dir"`
}

// MQTTConfig configures the optional broker connection. An empty Broker
// disables both the control listener and the detection emitter.
type MQTTConfig struct {
	Broker      string `yaml:"broker,omitempty" mapstructure:"broker"`
	TopicPrefix string `yaml:"topic_prefix" mapstructure:"topic_prefix"`
	ClientID    string `yaml:"client_id,omitempty" mapstructure:"client_id"`
	QoS         byte   `yaml:"qos" mapstructure:"qos"`
}

// WorkerConfig configures the detector subprocess.
type WorkerConfig struct {
	Command   []string `yaml:"command" mapstructure:"command"`
	ImageSize int      `yaml:"imgsz" mapstructure:"imgsz"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		ModelPath:  "best.pt",
		Source:     "0",
		Confidence: 0.30,
		Preview: PreviewConfig{
			Addr:        "127.0.0.1:8090",
			SnapshotDir: ".",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "inspect",
			QoS:         1,
		},
		Worker: WorkerConfig{
			Command:   []string{"python3", "models/yolo_worker.py"},
			ImageSize: 640,
		},
	}
}

// NewViper returns a viper instance with defaults and environment binding
// for path. Callers may bind flags before passing it to FromViper.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	if path == "" {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("model_path", d.ModelPath)
	v.SetDefault("source", d.Source)
	v.SetDefault("confidence", d.Confidence)
	v.SetDefault("cookie_file", d.CookieFile)
	v.SetDefault("temp_dir", d.TempDir)
	v.SetDefault("preview.addr", d.Preview.Addr)
	v.SetDefault("preview.snapshot_dir", d.Preview.SnapshotDir)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("worker.command", d.Worker.Command)
	v.SetDefault("worker.imgsz", d.Worker.ImageSize)
	return v
}

// Load reads path (a missing file means defaults) and applies environment
// overrides.
func Load(path string) (*Settings, error) {
	return FromViper(NewViper(path))
}

// FromViper reads the configured file, if any, and decodes the result.
func FromViper(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("settings: failed to read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("settings: failed to decode %s: %w", v.ConfigFileUsed(), err)
	}
	s.normalize()

	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("settings: invalid configuration: %w", err)
	}
	return s, nil
}

// Save writes s to path as YAML. Only explicit saves persist settings.
func Save(path string, s *Settings) error {
	if s == nil {
		return fmt.Errorf("settings: nothing to save")
	}
	if err := Validate(s); err != nil {
		return fmt.Errorf("settings: refusing to save: %w", err)
	}
	if path == "" {
		path = DefaultFile
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: failed to encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("settings: failed to create %s: %w", dir, err)
		}
	}

	// Write next to the target and rename so watchers never see a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("settings: failed to replace %s: %w", path, err)
	}
	return nil
}

func (s *Settings) normalize() {
	s.ModelPath = strings.TrimSpace(s.ModelPath)
	s.Source = strings.TrimSpace(s.Source)
	s.CookieFile = strings.TrimSpace(s.CookieFile)
	s.MQTT.TopicPrefix = strings.Trim(s.MQTT.TopicPrefix, "/ ")
}
