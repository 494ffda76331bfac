package client

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultServer 未配置时使用的 API 地址
const DefaultServer = "https://tinypm.app"

// Config 命令行客户端的本地配置（~/.tinypm.yaml）
type Config struct {
	Server       string `yaml:"server"`
	Token        string `yaml:"token"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
}

// ConfigPath 返回配置文件路径，TINYPM_CONFIG 可覆盖默认位置
func ConfigPath() (string, error) {
	if p := os.Getenv("TINYPM_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tinypm.yaml"), nil
}

// LoadConfig 读取配置，文件不存在时返回默认值
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Server: DefaultServer}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	return cfg, nil
}

// SaveConfig 写入配置，令牌只允许本人读取
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
