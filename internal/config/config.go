package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Environment variables that override the settings file
const (
	EnvAPIKeys        = "GENIE_API_KEYS"
	EnvModel          = "GENIE_MODEL"
	EnvCodingLanguage = "GENIE_CODING_LANGUAGE"
	EnvLogLevel       = "GENIE_LOG_LEVEL"
)

// Config holds application configuration
type Config struct {
	Shortcuts      ShortcutConfig `json:"shortcuts"`
	APIKeys        string         `json:"api_keys"` // comma-separated
	ModelID        string         `json:"model_id"` // preferred model, tried first
	Models         []string       `json:"models"`
	CodingLanguage string         `json:"coding_language"` // "auto" or a language name
	Prompts        PromptConfig   `json:"prompts"`
	Audio          AudioConfig    `json:"audio"`
	Capture        CaptureConfig  `json:"capture"`
	MaxRecordTime  int            `json:"max_record_time"` // seconds
	Clipboard      string         `json:"clipboard"`       // "off", "answer" or "code"
	ServerPort     int            `json:"server_port"`
	LogLevel       string         `json:"log_level"`
	mu             sync.RWMutex
}

// ShortcutConfig holds the three letter shortcuts sharing one modifier
type ShortcutConfig struct {
	Modifier string `json:"modifier"` // "ctrl"
	Voice    string `json:"voice"`
	Screen   string `json:"screen"`
	Area     string `json:"area"`
}

// PromptConfig holds user prompt overrides. Empty fields use built-in defaults.
type PromptConfig struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Image string `json:"image"`
}

// AudioConfig holds capture, mixing and encoding settings
type AudioConfig struct {
	MicDeviceID    int     `json:"mic_device_id"` // -1 = system default
	SampleRate     int     `json:"sample_rate"`
	SystemSource   string  `json:"system_source"` // ffmpeg input for desktop audio
	SystemFormat   string  `json:"system_format"` // ffmpeg -f for SystemSource
	FFmpegPath     string  `json:"ffmpeg_path"`
	BitrateKbps    int     `json:"bitrate_kbps"`
	MicPan         float64 `json:"mic_pan"`
	SystemPan      float64 `json:"system_pan"`
	KeepRecordings bool    `json:"keep_recordings"`
	RecordingsDir  string  `json:"recordings_dir"`
}

// CaptureConfig holds screen capture settings
type CaptureConfig struct {
	ThumbnailWidth  int `json:"thumbnail_width"`
	ThumbnailHeight int `json:"thumbnail_height"`
	SettleDelayMS   int `json:"settle_delay_ms"`
}

// DefaultModels are tried after the preferred model
var DefaultModels = []string{"gemini-2.0-flash-exp", "gemini-1.5-flash-latest", "gemini-1.5-flash"}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Shortcuts: ShortcutConfig{
			Modifier: "ctrl",
			Voice:    "l",
			Screen:   "s",
			Area:     "p",
		},
		Models:         append([]string(nil), DefaultModels...),
		CodingLanguage: "auto",
		Audio: AudioConfig{
			MicDeviceID:  -1,
			SampleRate:   48000,
			SystemSource: "default.monitor",
			SystemFormat: "pulse",
			FFmpegPath:   "ffmpeg",
			BitrateKbps:  128,
			MicPan:       -1,
			SystemPan:    1,
		},
		Capture: CaptureConfig{
			ThumbnailWidth:  1920,
			ThumbnailHeight: 1080,
			SettleDelayMS:   100,
		},
		MaxRecordTime: 120,
		Clipboard:     "off",
		ServerPort:    18765,
		LogLevel:      "info",
	}
}

// Load loads configuration from the specified path
func Load(path string) (*Config, error) {
	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Missing keys keep their defaults
	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(config.Models) == 0 {
		config.Models = append([]string(nil), DefaultModels...)
	}

	return config, nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// API keys live in this file, keep it private
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigDir returns the per-user configuration directory
func GetConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "genie")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// ApplyEnvFile reads a dotenv file and applies its overrides. A missing file
// is not an error.
func (c *Config) ApplyEnvFile(path string) error {
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}

	c.ApplyEnv(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
	return nil
}

// ApplyEnv applies overrides from the given lookup (usually os.LookupEnv)
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := lookup(EnvAPIKeys); ok && strings.TrimSpace(v) != "" {
		c.APIKeys = v
	}
	if v, ok := lookup(EnvModel); ok && strings.TrimSpace(v) != "" {
		c.ModelID = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvCodingLanguage); ok && strings.TrimSpace(v) != "" {
		c.CodingLanguage = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.LogLevel = strings.TrimSpace(v)
	}
}

// Credentials returns the configured API keys in order, trimmed, with empty
// entries dropped.
func (c *Config) Credentials() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return SplitKeys(c.APIKeys)
}

// SplitKeys parses a comma-separated key list
func SplitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Update updates configuration fields
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range updates {
		switch key {
		case "api_keys":
			if v, ok := value.(string); ok {
				c.APIKeys = v
			}
		case "model_id":
			if v, ok := value.(string); ok {
				c.ModelID = strings.TrimSpace(v)
			}
		case "coding_language":
			if v, ok := value.(string); ok {
				if strings.TrimSpace(v) == "" {
					return fmt.Errorf("invalid coding_language: empty")
				}
				c.CodingLanguage = v
			}
		case "prompts":
			if v, ok := value.(map[string]interface{}); ok {
				if s, ok := v["text"].(string); ok {
					c.Prompts.Text = s
				}
				if s, ok := v["voice"].(string); ok {
					c.Prompts.Voice = s
				}
				if s, ok := v["image"].(string); ok {
					c.Prompts.Image = s
				}
			}
		case "shortcuts":
			if v, ok := value.(map[string]interface{}); ok {
				next := c.Shortcuts
				if s, ok := v["voice"].(string); ok {
					next.Voice = s
				}
				if s, ok := v["screen"].(string); ok {
					next.Screen = s
				}
				if s, ok := v["area"].(string); ok {
					next.Area = s
				}
				if err := next.Validate(); err != nil {
					return err
				}
				c.Shortcuts = next
			}
		case "mic_device_id":
			if v, ok := value.(float64); ok {
				c.Audio.MicDeviceID = int(v)
			}
		case "keep_recordings":
			if v, ok := value.(bool); ok {
				c.Audio.KeepRecordings = v
			}
		case "clipboard":
			if v, ok := value.(string); ok {
				if !validClipboardMode(v) {
					return fmt.Errorf("invalid clipboard mode: %s", v)
				}
				c.Clipboard = v
			}
		case "max_record_time":
			if v, ok := value.(float64); ok {
				if v <= 0 || v > 600 {
					return fmt.Errorf("invalid max_record_time: %v", v)
				}
				c.MaxRecordTime = int(v)
			}
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Shortcuts:      c.Shortcuts,
		APIKeys:        c.APIKeys,
		ModelID:        c.ModelID,
		Models:         append([]string(nil), c.Models...),
		CodingLanguage: c.CodingLanguage,
		Prompts:        c.Prompts,
		Audio:          c.Audio,
		Capture:        c.Capture,
		MaxRecordTime:  c.MaxRecordTime,
		Clipboard:      c.Clipboard,
		ServerPort:     c.ServerPort,
		LogLevel:       c.LogLevel,
	}
}

// Redacted returns a clone with API keys masked, for display
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	keys := SplitKeys(clone.APIKeys)
	for i, k := range keys {
		keys[i] = maskKey(k)
	}
	clone.APIKeys = strings.Join(keys, ",")
	return clone
}

func maskKey(k string) string {
	if len(k) <= 4 {
		return "****"
	}
	return "****" + k[len(k)-4:]
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// Validate checks that the shortcut letters are distinct single characters
func (s ShortcutConfig) Validate() error {
	if s.Modifier != "" && !strings.EqualFold(s.Modifier, "ctrl") {
		return fmt.Errorf("invalid shortcut modifier: %s (only 'ctrl' is supported)", s.Modifier)
	}
	seen := map[string]string{}
	for name, key := range map[string]string{"voice": s.Voice, "screen": s.Screen, "area": s.Area} {
		key = strings.ToLower(key)
		if len(key) != 1 || !(key[0] >= 'a' && key[0] <= 'z' || key[0] >= '0' && key[0] <= '9') {
			return fmt.Errorf("invalid %s shortcut: %q (must be a single letter or digit)", name, key)
		}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("shortcut %q is bound to both %s and %s", key, other, name)
		}
		seen[key] = name
	}
	return nil
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.Shortcuts.Validate(); err != nil {
		return err
	}

	if c.CodingLanguage == "" {
		return fmt.Errorf("coding_language cannot be empty")
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("invalid sample_rate: %d", c.Audio.SampleRate)
	}

	if c.Audio.MicPan < -1 || c.Audio.MicPan > 1 || c.Audio.SystemPan < -1 || c.Audio.SystemPan > 1 {
		return fmt.Errorf("pan values must be between -1 and 1")
	}

	if c.Audio.BitrateKbps <= 0 {
		return fmt.Errorf("invalid bitrate_kbps: %d", c.Audio.BitrateKbps)
	}

	if c.Capture.ThumbnailWidth <= 0 || c.Capture.ThumbnailHeight <= 0 {
		return fmt.Errorf("invalid thumbnail size: %dx%d", c.Capture.ThumbnailWidth, c.Capture.ThumbnailHeight)
	}

	if c.Capture.SettleDelayMS < 0 {
		return fmt.Errorf("invalid settle_delay_ms: %d", c.Capture.SettleDelayMS)
	}

	if c.MaxRecordTime <= 0 || c.MaxRecordTime > 600 {
		return fmt.Errorf("invalid max_record_time: %d (must be between 1 and 600 seconds)", c.MaxRecordTime)
	}

	if !validClipboardMode(c.Clipboard) {
		return fmt.Errorf("invalid clipboard mode: %s", c.Clipboard)
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}

	return nil
}

func validClipboardMode(mode string) bool {
	switch mode {
	case "", "off", "answer", "code":
		return true
	}
	return false
}
