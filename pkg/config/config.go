package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Manager 配置管理器
// 从本地YAML文件加载配置，环境变量可覆盖任意配置项
// (如 MEDIAVAULT_REDIS_ADDR 覆盖 redis.addr)
type Manager struct {
	v *viper.Viper
}

// Options 配置管理器选项
type Options struct {
	// ConfigFile 配置文件路径
	ConfigFile string

	// EnvPrefix 环境变量前缀，默认 MEDIAVAULT
	EnvPrefix string

	// Defaults 默认值
	Defaults map[string]interface{}
}

// NewManager 创建配置管理器并加载配置
func NewManager(opts Options) (*Manager, error) {
	v := viper.New()

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "MEDIAVAULT"
	}
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range opts.Defaults {
		v.SetDefault(key, value)
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	return &Manager{v: v}, nil
}

// Unmarshal 将配置解析到结构体
func (m *Manager) Unmarshal(target interface{}) error {
	if err := m.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// UnmarshalKey 将指定配置段解析到结构体
func (m *Manager) UnmarshalKey(key string, target interface{}) error {
	if err := m.v.UnmarshalKey(key, target); err != nil {
		return fmt.Errorf("unmarshal config key %s: %w", key, err)
	}
	return nil
}

// GetString 获取字符串配置
func (m *Manager) GetString(key string) string {
	return m.v.GetString(key)
}

// GetInt 获取整数配置
func (m *Manager) GetInt(key string) int {
	return m.v.GetInt(key)
}

// GetBool 获取布尔配置
func (m *Manager) GetBool(key string) bool {
	return m.v.GetBool(key)
}

// IsSet 检查配置项是否存在
func (m *Manager) IsSet(key string) bool {
	return m.v.IsSet(key)
}
