package main

import (
	"encoding/json"
	"os"
	"time"
)

type Config struct {
	HttpPort           int           `json:"http_port"`
	DbConnString       string        `json:"db_conn_string"`
	RedisAddr          string        `json:"redis_addr"`
	ProviderBaseUrl    string        `json:"provider_base_url"`
	ProviderApiKey     string        `json:"provider_api_key"`
	ProviderTimeoutStr string        `json:"provider_timeout"`
	ProviderTimeout    time.Duration `json:"-"`
	SendMaxRetry       int           `json:"send_max_retry"`
}

// ReadConfigJson reads json formatted configuration from the given file
func ReadConfigJson(configFile string) (*Config, error) {
	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}

	cfg := new(Config)

	if err = json.Unmarshal(content, cfg); err != nil {
		return nil, err
	}

	cfg.ProviderTimeout, err = time.ParseDuration(cfg.ProviderTimeoutStr)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
