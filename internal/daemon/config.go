package daemon

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pvfs/internal/artifacts"
	"pvfs/internal/pvfs"
)

// getConfigDir returns the config directory path.
// Uses PVFS_CONFIG_DIR env var if set, otherwise defaults to ~/.pvfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("PVFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pvfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// LockPath returns the single-instance lock file path inside stateDir.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, "pvfs.lock")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir writes the default settings file if none exists yet.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, artifacts.Settings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings is the complete pvfs configuration.
//
// Sources in order of precedence: PVFS_* environment variables, the
// settings file, the embedded defaults.
type Settings struct {
	Share   ShareSettings   `mapstructure:"share" yaml:"share"`
	Posix   PosixSettings   `mapstructure:"posix" yaml:"posix"`
	Server  ServerSettings  `mapstructure:"server" yaml:"server"`
	Logging LoggingSettings `mapstructure:"logging" yaml:"logging"`
}

// ShareSettings describes the exported directory.
type ShareSettings struct {
	Name     string `mapstructure:"name" yaml:"name" validate:"required,excludesall=\\/:*?<>"`
	Path     string `mapstructure:"path" yaml:"path"`
	ReadOnly bool   `mapstructure:"read_only" yaml:"read_only"`
}

// PosixSettings controls how CIFS semantics are mapped onto the backing tree.
type PosixSettings struct {
	EA              bool   `mapstructure:"ea" yaml:"ea"`
	XattrBackend    string `mapstructure:"xattr_backend" yaml:"xattr_backend" validate:"oneof=native sqlite badger"`
	EADB            string `mapstructure:"eadb" yaml:"eadb"`
	ACL             string `mapstructure:"acl" yaml:"acl" validate:"oneof=xattr json"`
	Streams         bool   `mapstructure:"streams" yaml:"streams"`
	Oplocks         bool   `mapstructure:"oplocks" yaml:"oplocks"`
	Level2Oplocks   bool   `mapstructure:"level2_oplocks" yaml:"level2_oplocks"`
	StrictLocking   bool   `mapstructure:"strict_locking" yaml:"strict_locking"`
	StrictSync      bool   `mapstructure:"strict_sync" yaml:"strict_sync"`
	CaseInsensitive bool   `mapstructure:"case_insensitive" yaml:"case_insensitive"`
	ManglePrefix    int    `mapstructure:"mangle_prefix" yaml:"mangle_prefix" validate:"min=1,max=6"`

	CreateMask      string `mapstructure:"create_mask" yaml:"create_mask"`
	DirMask         string `mapstructure:"dir_mask" yaml:"dir_mask"`
	ForceCreateMode string `mapstructure:"force_create_mode" yaml:"force_create_mode"`
	ForceDirMode    string `mapstructure:"force_dir_mode" yaml:"force_dir_mode"`

	SharingDelay       time.Duration `mapstructure:"sharing_delay" yaml:"sharing_delay" validate:"gte=0"`
	OplockTimeout      time.Duration `mapstructure:"oplock_timeout" yaml:"oplock_timeout" validate:"gte=0"`
	WriteTimeDelay     time.Duration `mapstructure:"write_time_delay" yaml:"write_time_delay" validate:"gte=0"`
	SearchInactivity   time.Duration `mapstructure:"search_inactivity" yaml:"search_inactivity" validate:"gt=0"`
	AllocationRounding uint64        `mapstructure:"allocation_rounding" yaml:"allocation_rounding" validate:"gt=0"`
}

// ServerSettings controls the SMB listener.
type ServerSettings struct {
	Listen        string `mapstructure:"listen" yaml:"listen" validate:"required,hostname_port"`
	MetricsListen string `mapstructure:"metrics_listen" yaml:"metrics_listen" validate:"omitempty,hostname_port"`
	StateDir      string `mapstructure:"state_dir" yaml:"state_dir"`
}

// LoggingSettings controls log output.
type LoggingSettings struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error off"`
}

var validate = validator.New()

// LoadSettings reads the embedded defaults, merges the settings file at path
// (SettingsPath() when empty; a missing file is not an error) and applies
// PVFS_* environment overrides.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(artifacts.Settings)); err != nil {
		return nil, fmt.Errorf("failed to parse embedded settings: %w", err)
	}

	v.SetEnvPrefix("PVFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = SettingsPath()
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &s, nil
}

// ApplyDefaults fills derived values left empty by the user.
func (s *Settings) ApplyDefaults() {
	s.Logging.Level = strings.ToLower(s.Logging.Level)
	if s.Logging.Level == "" {
		s.Logging.Level = "warn"
	}
	if s.Server.StateDir == "" {
		s.Server.StateDir = getConfigDir()
	}
	if s.Posix.EADB == "" {
		switch s.Posix.XattrBackend {
		case "sqlite":
			s.Posix.EADB = filepath.Join(s.Server.StateDir, "eadb.sqlite")
		case "badger":
			s.Posix.EADB = filepath.Join(s.Server.StateDir, "eadb.badger")
		}
	}
}

// Validate checks struct tags and the rules tags cannot express.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}
	modes := map[string]string{
		"posix.create_mask":       s.Posix.CreateMask,
		"posix.dir_mask":          s.Posix.DirMask,
		"posix.force_create_mode": s.Posix.ForceCreateMode,
		"posix.force_dir_mode":    s.Posix.ForceDirMode,
	}
	for key, val := range modes {
		if _, err := ParseMode(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// ParseMode parses an octal permission string such as "0744".
func ParseMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	if v > 07777 {
		return 0, fmt.Errorf("mode %q out of range", s)
	}
	return os.FileMode(v), nil
}

// SaveSettings writes s to path (SettingsPath() when empty).
func SaveSettings(path string, s *Settings) error {
	if path == "" {
		if err := EnsureConfigDir(); err != nil {
			return err
		}
		path = SettingsPath()
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# pvfs settings\n# See: pvfs config --help\n\n")
	return os.WriteFile(path, append(header, data...), 0600)
}

// ShareOptions converts the share and posix sections into backend options.
func (s *Settings) ShareOptions() (pvfs.Options, error) {
	if s.Share.Path == "" {
		return pvfs.Options{}, fmt.Errorf("share.path is required")
	}
	opts := pvfs.DefaultOptions(s.Share.Path)
	opts.ShareName = s.Share.Name
	opts.ReadOnly = s.Share.ReadOnly

	p := s.Posix
	opts.EA = p.EA
	opts.Streams = p.Streams
	opts.Oplocks = p.Oplocks
	opts.Level2Oplocks = p.Level2Oplocks
	opts.StrictLocking = p.StrictLocking
	opts.StrictSync = p.StrictSync
	opts.CaseInsensitive = p.CaseInsensitive
	opts.ManglePrefix = p.ManglePrefix
	opts.ACLBackend = p.ACL
	opts.SharingDelay = p.SharingDelay
	opts.OplockTimeout = p.OplockTimeout
	opts.WriteTimeDelay = p.WriteTimeDelay
	opts.SearchInactivity = p.SearchInactivity
	opts.AllocationRounding = p.AllocationRounding

	for _, m := range []struct {
		val string
		dst *os.FileMode
	}{
		{p.CreateMask, &opts.CreateMask},
		{p.DirMask, &opts.DirMask},
		{p.ForceCreateMode, &opts.ForceCreateMode},
		{p.ForceDirMode, &opts.ForceDirMode},
	} {
		mode, err := ParseMode(m.val)
		if err != nil {
			return pvfs.Options{}, err
		}
		*m.dst = mode
	}
	return opts, nil
}
