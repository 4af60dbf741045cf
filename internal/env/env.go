package env

import (
	"os"
	"strings"
	"time"
)

const (
	environmentVariableNameSessionAPIKey          = "SESSION_API_KEY"
	environmentVariableNameSessionAPIURL          = "SESSION_API_URL"
	environmentVariableNameSessionDomain          = "SESSION_DOMAIN"
	environmentVariableNameSessionConfigFile      = "SESSION_CONFIG_FILE"
	environmentVariableNameSessionProfile         = "SESSION_PROFILE"
	environmentVariableNameSessionDebug           = "SESSION_DEBUG"
	environmentVariableNameSessionRefreshInterval = "SESSION_REFRESH_INTERVAL"
)

func APIKeyFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameSessionAPIKey))
}

func APIURLFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameSessionAPIURL))
}

func DomainFromEnvironment() string {
	return strings.TrimSpace(os.Getenv(environmentVariableNameSessionDomain))
}

func ConfigFileFromEnvironment() string {
	return os.Getenv(environmentVariableNameSessionConfigFile)
}

func ProfileFromEnvironment() string {
	return os.Getenv(environmentVariableNameSessionProfile)
}

func DebugFromEnvironment() (bool, bool) {
	value := strings.ToLower(os.Getenv(environmentVariableNameSessionDebug))
	if value == "" {
		return false, false
	}
	return value == "true" || value == "yes" || value == "y" || value == "1", true
}

// RefreshIntervalFromEnvironment 解析形如 "5s"、"1500ms" 的时长，未设置或无法解析时第二个返回值为 false。
func RefreshIntervalFromEnvironment() (time.Duration, bool) {
	value := strings.TrimSpace(os.Getenv(environmentVariableNameSessionRefreshInterval))
	if value == "" {
		return 0, false
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
