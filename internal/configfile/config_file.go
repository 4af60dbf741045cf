package configfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/qiniu/codesession/internal/env"
)

// Profile 是配置文件中一个 profile 的内容。
type Profile struct {
	APIKey          string `toml:"api_key" yaml:"api_key"`
	Endpoint        string `toml:"endpoint" yaml:"endpoint"`
	Domain          string `toml:"domain" yaml:"domain"`
	RefreshInterval string `toml:"refresh_interval" yaml:"refresh_interval"`
	Debug           bool   `toml:"debug" yaml:"debug"`
}

var (
	profileConfigs      map[string]*Profile
	profileConfigsError error
	profileConfigsOnce  sync.Once

	ErrInvalidRefreshInterval = errors.New("invalid refresh interval")
)

// ProfileFromConfigFile 返回当前 profile（由 SESSION_PROFILE 指定，默认 "default"）。
// 配置文件不存在时返回 nil, nil。
func ProfileFromConfigFile() (*Profile, error) {
	return getProfile()
}

// RefreshIntervalFromConfigFile 返回当前 profile 的保活间隔，未配置时第二个返回值为 false。
func RefreshIntervalFromConfigFile() (time.Duration, bool, error) {
	profile, err := getProfile()
	if err != nil || profile == nil || profile.RefreshInterval == "" {
		return 0, false, err
	}
	d, err := time.ParseDuration(profile.RefreshInterval)
	if err != nil || d <= 0 {
		return 0, false, ErrInvalidRefreshInterval
	}
	return d, true, nil
}

func getProfile() (*Profile, error) {
	if err := load(); err != nil {
		return nil, err
	}
	profileName := env.ProfileFromEnvironment()
	if profileName == "" {
		profileName = "default"
	}
	profile, ok := profileConfigs[profileName]
	if !ok || profile == nil {
		return nil, nil
	}
	return profile, nil
}

func load() error {
	profileConfigsOnce.Do(func() {
		profileConfigsError = _load()
	})
	return profileConfigsError
}

func _load() error {
	configFilePath := env.ConfigFileFromEnvironment()
	explicit := configFilePath != ""
	if !explicit {
		configFilePath = getDefaultConfigFilePath()
	}
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		// 默认路径下没有配置文件是正常情况
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	switch strings.ToLower(filepath.Ext(configFilePath)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, &profileConfigs)
	default:
		_, err = toml.Decode(string(data), &profileConfigs)
		return err
	}
}

// reset 清除已加载的配置，仅用于测试。
func reset() {
	profileConfigs = nil
	profileConfigsError = nil
	profileConfigsOnce = sync.Once{}
}

func getDefaultConfigFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return filepath.Join(homeDir, ".codesession", "config.toml")
}
