package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Models struct {
	Dir      string `yaml:"dir"`
	Advanced string `yaml:"advanced"`
	Default  string `yaml:"default"`
}

type Detector struct {
	CascadePath  string  `yaml:"cascadePath"`
	ScaleFactor  float64 `yaml:"scaleFactor"`
	MinNeighbors int     `yaml:"minNeighbors"`
	MinSize      int     `yaml:"minSize"`
}

type Classifier struct {
	// Threshold is a percentage; results below it are reported as unknown.
	Threshold    float64           `yaml:"threshold"`
	LabelAliases map[string]string `yaml:"labelAliases"`
}

type Camera struct {
	Device      int    `yaml:"device"`
	WindowTitle string `yaml:"windowTitle"`
}

type Server struct {
	HTTPPort     int      `yaml:"HTTPPort"`
	RPCPort      int      `yaml:"RPCPort"`
	MetricsPort  int      `yaml:"MetricsPort"`
	WorkersNum   int      `yaml:"workersNum"`
	UploadDir    string   `yaml:"uploadDir"`
	AllowOrigins []string `yaml:"allowOrigins"`
	IdleTimeout  string   `yaml:"idleTimeout"`
}

type Registry struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Models     Models     `yaml:"models"`
	Detector   Detector   `yaml:"detector"`
	Classifier Classifier `yaml:"classifier"`
	Camera     Camera     `yaml:"camera"`
	Server     Server     `yaml:"server"`
	Registry   Registry   `yaml:"registry"`
	Log        Log        `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Models: Models{
			Dir:      "models",
			Advanced: "emotion_model_advanced.json",
			Default:  "emotion_model.json",
		},
		Detector: Detector{
			CascadePath:  filepath.Join("data", "haarcascade_frontalface_default.xml"),
			ScaleFactor:  1.1,
			MinNeighbors: 4,
			MinSize:      30,
		},
		Classifier: Classifier{
			Threshold:    40,
			LabelAliases: map[string]string{"relaxed": "happy"},
		},
		Camera: Camera{
			Device:      0,
			WindowTitle: "Live Emotion Detection - Press SPACE to Capture | ESC to Exit",
		},
		Server: Server{
			HTTPPort:    3000,
			RPCPort:     50051,
			MetricsPort: 9090,
			WorkersNum:  1,
			UploadDir:   "uploads",
			AllowOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
				"http://localhost:3001",
				"http://127.0.0.1:3001",
			},
			IdleTimeout: "30s",
		},
		Registry: Registry{Port: 8080},
		Log:      Log{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and applies EMOTIONDET_*
// environment overrides. A missing file is not an error. A labelAliases
// mapping in the file replaces the default aliases instead of merging with
// them.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			aliases := cfg.Classifier.LabelAliases
			cfg.Classifier.LabelAliases = nil
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			if cfg.Classifier.LabelAliases == nil {
				cfg.Classifier.LabelAliases = aliases
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv fails on the first override that does not parse.
func (c *Config) applyEnv() error {
	readEnvString("EMOTIONDET_MODEL_DIR", &c.Models.Dir)
	readEnvString("EMOTIONDET_CASCADE", &c.Detector.CascadePath)
	readEnvString("EMOTIONDET_UPLOAD_DIR", &c.Server.UploadDir)
	readEnvString("EMOTIONDET_REGISTRY_HOST", &c.Registry.Host)
	readEnvString("EMOTIONDET_LOG_LEVEL", &c.Log.Level)
	return errors.Join(
		readEnvFloat("EMOTIONDET_THRESHOLD", &c.Classifier.Threshold),
		readEnvInt("EMOTIONDET_CAMERA", &c.Camera.Device),
		readEnvInt("EMOTIONDET_HTTP_PORT", &c.Server.HTTPPort),
		readEnvInt("EMOTIONDET_RPC_PORT", &c.Server.RPCPort),
		readEnvInt("EMOTIONDET_METRICS_PORT", &c.Server.MetricsPort),
		readEnvInt("EMOTIONDET_WORKERS", &c.Server.WorkersNum),
		readEnvBool("EMOTIONDET_REGISTRY", &c.Registry.Enabled),
		readEnvInt("EMOTIONDET_REGISTRY_PORT", &c.Registry.Port),
	)
}

func (c *Config) Validate() error {
	if c.Classifier.Threshold < 0 || c.Classifier.Threshold > 100 {
		return fmt.Errorf("classifier.threshold must be between 0 and 100, got %v", c.Classifier.Threshold)
	}
	if c.Detector.ScaleFactor <= 1 {
		return fmt.Errorf("detector.scaleFactor must be greater than 1, got %v", c.Detector.ScaleFactor)
	}
	if c.Detector.MinNeighbors < 0 {
		return fmt.Errorf("detector.minNeighbors must not be negative, got %d", c.Detector.MinNeighbors)
	}
	if c.Detector.MinSize <= 0 {
		return fmt.Errorf("detector.minSize must be positive, got %d", c.Detector.MinSize)
	}
	if c.Models.Default == "" {
		return errors.New("models.default must be set")
	}
	for name, port := range map[string]int{
		"server.HTTPPort":    c.Server.HTTPPort,
		"server.RPCPort":     c.Server.RPCPort,
		"server.MetricsPort": c.Server.MetricsPort,
		"registry.port":      c.Registry.Port,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if _, err := c.Server.Idle(); err != nil {
		return err
	}
	if c.Registry.Enabled && c.Registry.Host == "" {
		return errors.New("registry.host must be set when registry is enabled")
	}
	return nil
}

// Idle parses the websocket idle timeout. Empty means no timeout.
func (s Server) Idle() (time.Duration, error) {
	if s.IdleTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.IdleTimeout)
	if err != nil {
		return 0, fmt.Errorf("server.idleTimeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("server.idleTimeout must not be negative, got %s", s.IdleTimeout)
	}
	return d, nil
}

// ModelPaths returns the resolved advanced and default model file paths.
func (c *Config) ModelPaths() (advanced, def string) {
	dir := Resolve(c.Models.Dir)
	if c.Models.Advanced != "" {
		advanced = filepath.Join(dir, c.Models.Advanced)
	}
	return advanced, filepath.Join(dir, c.Models.Default)
}

// Resolve maps a relative path to the working directory if it exists there,
// otherwise to the executable's directory if it exists there. Unresolvable
// paths are returned unchanged.
func Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return p
	}
	candidate := filepath.Join(filepath.Dir(exe), p)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return p
}

func readEnvString(name string, value *string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	*value = v
}

func readEnvBool(name string, value *bool) error {
	switch v := strings.ToLower(os.Getenv(name)); v {
	case "":
	case "true", "1", "yes", "on":
		*value = true
	case "false", "0", "no", "off":
		*value = false
	default:
		return fmt.Errorf("%s: invalid boolean %q", name, v)
	}
	return nil
}

func readEnvFloat(name string, value *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*value = f
	return nil
}

func readEnvInt(name string, value *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*value = n
	return nil
}
