// Package settings loads engine configuration from a YAML file, environment
// variables (REDSHIFT_ prefix), and built-in defaults.
package settings

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Settings holds every knob the sync engine reads at startup.
type Settings struct {
	LibraryRoot string `mapstructure:"library_root"`
	DataDir     string `mapstructure:"data_dir"`
	LogDir      string `mapstructure:"log_dir"`

	// DefaultMethod is the transfer method used when none is given on the
	// command line: "usb", "wifi" or "app-usb".
	DefaultMethod string `mapstructure:"default_method"`

	// RelayURL is the Wi-Fi pairing relay endpoint.
	RelayURL string `mapstructure:"relay_url"`

	PollIdle    time.Duration `mapstructure:"poll_idle"`
	PollTracked time.Duration `mapstructure:"poll_tracked"`

	// ExtractBatchSize bounds how many stale files are processed per
	// metadata-extraction batch.
	ExtractBatchSize int `mapstructure:"extract_batch_size"`

	// ExtractConcurrency caps concurrent tag reads within a batch.
	ExtractConcurrency int `mapstructure:"extract_concurrency"`

	// AudioExtensions is the scan allowlist (lowercase, dot-prefixed).
	AudioExtensions []string `mapstructure:"audio_extensions"`

	// HelperDir is where the device helper executables live. Empty means
	// they are resolved from PATH.
	HelperDir string `mapstructure:"helper_dir"`
}

// DBPath is the sqlite database location inside the data dir.
func (s Settings) DBPath() string {
	return filepath.Join(s.DataDir, "sync.db")
}

// IsAudioFile reports whether the path matches the audio allowlist.
func (s Settings) IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range s.AudioExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load reads configuration from the given file (optional; empty means
// defaults + env only) and applies defaults for anything unset.
func Load(cfgFile string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("REDSHIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	home, err := homedir.Dir()
	if err != nil {
		return Settings{}, fmt.Errorf("resolve home dir: %w", err)
	}

	v.SetDefault("library_root", filepath.Join(home, "Music"))
	v.SetDefault("data_dir", filepath.Join(home, ".redshift-sync"))
	v.SetDefault("log_dir", filepath.Join(home, ".redshift-sync", "logs"))
	v.SetDefault("default_method", "usb")
	v.SetDefault("relay_url", "https://pair.redshiftplayer.com")
	v.SetDefault("poll_idle", 3*time.Second)
	v.SetDefault("poll_tracked", 10*time.Second)
	v.SetDefault("extract_batch_size", 50)
	v.SetDefault("extract_concurrency", 8)
	v.SetDefault("audio_extensions", []string{".mp3", ".m4a", ".flac", ".wav", ".aac", ".m4p", ".ogg", ".opus"})
	v.SetDefault("helper_dir", "")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, ".redshift-sync"))
		// Missing config file is fine; defaults apply.
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Settings{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Expand ~ in user-supplied paths.
	for _, p := range []*string{&s.LibraryRoot, &s.DataDir, &s.LogDir, &s.HelperDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return Settings{}, fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}

	return s, nil
}
