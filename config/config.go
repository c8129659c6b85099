// Package config folds the configuration file, its environment blocks and
// command-line overrides into one immutable Options value.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

const (
	DefaultConfigName  = ".poosh"
	DefaultCacheFile   = ".poosh.cache"
	DefaultConcurrency = 8
	EnvPrefix          = "POOSH"
)

// KnownPlugins lists the remote backends a run can select.
var KnownPlugins = []string{"s3", "dir"}

// keys that can be set from POOSH_* environment variables even when the
// configuration file does not mention them
var envKeys = []string{
	"plugins",
	"basedir",
	"concurrency",
	"cache.path",
	"remote.bucket",
	"remote.region",
	"remote.basepath",
	"remote.endpoint",
	"remote.pathstyle",
	"remote.accesskeyid",
	"remote.secretaccesskey",
	"remote.root",
}

// Layer is one source of settings. Later layers win.
type Layer map[string]any

// Rule applies publish-time attributes to every file matching a glob.
type Rule struct {
	Match   string            `mapstructure:"match"`
	Headers map[string]string `mapstructure:"headers"`
	Remote  RuleRemote        `mapstructure:"remote"`
	Gzip    bool              `mapstructure:"gzip"`
}

// RuleRemote holds storage attributes set by a rule.
type RuleRemote struct {
	ACL          string `mapstructure:"acl"`
	StorageClass string `mapstructure:"storageClass"`
}

type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig carries the backend parameters. Each plugin reads the fields it
// understands.
type RemoteConfig struct {
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	BasePath        string        `mapstructure:"basePath"`
	Endpoint        string        `mapstructure:"endpoint"`
	PathStyle       bool          `mapstructure:"pathStyle"`
	AccessKeyID     string        `mapstructure:"accessKeyId"`
	SecretAccessKey string        `mapstructure:"secretAccessKey"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ACL             string        `mapstructure:"acl"`
	StorageClass    string        `mapstructure:"storageClass"`
	Root            string        `mapstructure:"root"`
}

// Options is the normalized configuration of a run.
type Options struct {
	Plugins     []string     `mapstructure:"plugins"`
	BaseDir     string       `mapstructure:"baseDir"`
	Concurrency int          `mapstructure:"concurrency"`
	Cache       CacheConfig  `mapstructure:"cache"`
	Ignore      []string     `mapstructure:"ignore"`
	Each        []Rule       `mapstructure:"each"`
	Remote      RemoteConfig `mapstructure:"remote"`

	Env    string `mapstructure:"-"`
	Path   string `mapstructure:"-"`
	Policy Policy `mapstructure:"-"`
}

// Plugin returns the selected backend.
func (o *Options) Plugin() string {
	if len(o.Plugins) == 0 {
		return ""
	}
	return o.Plugins[0]
}

// Load reads the configuration file layer. An empty path searches the working
// directory for .poosh.{yaml,yml,json,toml}; a missing file yields an empty
// layer. The second return value is the file actually read.
func Load(path string) (Layer, string, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return Layer{}, "", nil
		}
		return nil, "", &Error{Field: "file", Value: v.ConfigFileUsed(), Msg: err.Error()}
	}
	return v.AllSettings(), v.ConfigFileUsed(), nil
}

// Normalize merges, in increasing priority, the file layer, the env block
// named envKey inside it, POOSH_* environment variables and the overrides, then
// validates the result. path is the file the layer came from and anchors
// relative directories; it may be empty.
func Normalize(fileLayer Layer, path, envKey string, overrides ...Layer) (*Options, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, &Error{Field: key, Msg: err.Error()}
		}
	}

	if err := v.MergeConfigMap(fileLayer); err != nil {
		return nil, &Error{Field: "file", Msg: err.Error()}
	}

	if envKey != "" {
		block, err := envBlock(v, envKey)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(block); err != nil {
			return nil, &Error{Field: "env", Value: envKey, Msg: err.Error()}
		}
	}

	for _, layer := range overrides {
		for key, val := range layer {
			if val == nil {
				continue
			}
			v.Set(key, val)
		}
	}

	opts := &Options{Env: envKey, Path: path}
	if err := v.Unmarshal(opts); err != nil {
		return nil, &Error{Msg: err.Error()}
	}

	var err error
	if opts.Policy.ReadOnly, err = ParseTarget("readonly", v.Get("readonly")); err != nil {
		return nil, err
	}
	if opts.Policy.Force, err = ParseTarget("force", v.Get("force")); err != nil {
		return nil, err
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.resolvePaths()
	return opts, nil
}

func envBlock(v *viper.Viper, envKey string) (map[string]any, error) {
	envs, ok := v.Get("env").(map[string]any)
	if !ok {
		return nil, errorf("env", envKey, "unknown environment, the configuration defines none")
	}
	block, ok := envs[strings.ToLower(envKey)]
	if !ok {
		return nil, errorf("env", envKey, "unknown environment")
	}
	m, ok := block.(map[string]any)
	if !ok {
		return nil, errorf("env", envKey, "environment block must be a map")
	}
	return m, nil
}

func (o *Options) validate() error {
	var plugins []string
	for _, p := range o.Plugins {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			plugins = append(plugins, p)
		}
	}
	o.Plugins = plugins

	if len(o.Plugins) == 0 {
		return &Error{Field: "plugins", Msg: "at least one plugin is required"}
	}
	for _, p := range o.Plugins {
		if !slices.Contains(KnownPlugins, p) {
			return errorf("plugins", p, "unknown plugin (known: %s)", strings.Join(KnownPlugins, ", "))
		}
	}
	if len(o.Plugins) > 1 {
		return errorf("plugins", strings.Join(o.Plugins, ","), "only one remote plugin can be active")
	}

	if o.Concurrency < 0 {
		return errorf("concurrency", o.Concurrency, "must not be negative")
	}
	if o.Concurrency == 0 {
		o.Concurrency = DefaultConcurrency
	}

	for i, rule := range o.Each {
		if rule.Match == "" {
			return errorf("each", i, "rule has no match pattern")
		}
		if !doublestar.ValidatePattern(rule.Match) {
			return errorf("each", rule.Match, "invalid glob pattern")
		}
	}
	return nil
}

func (o *Options) resolvePaths() {
	dir := "."
	if o.Path != "" {
		dir = filepath.Dir(o.Path)
	}
	if o.BaseDir == "" {
		o.BaseDir = "."
	}
	if !filepath.IsAbs(o.BaseDir) {
		o.BaseDir = filepath.Join(dir, o.BaseDir)
	}
	if o.Cache.Path == "" {
		o.Cache.Path = DefaultCacheFile
	}
	if !filepath.IsAbs(o.Cache.Path) {
		o.Cache.Path = filepath.Join(dir, o.Cache.Path)
	}
	if o.Remote.Root != "" && !filepath.IsAbs(o.Remote.Root) {
		o.Remote.Root = filepath.Join(dir, o.Remote.Root)
	}
}
