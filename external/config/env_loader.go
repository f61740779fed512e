package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/deoncarlette/AutoMod/internal/config"
)

type envConfig struct {
	Env         string `env:"ENV" envDefault:"production"`
	APIBaseURL  string `env:"CHANNEL_API_URL" envDefault:"https://www.clubhouseapi.com/api"`
	UserID      int64  `env:"CH_USER_ID,required"`
	UserToken   string `env:"CH_USER_TOKEN,required"`
	DeviceID    string `env:"CH_DEVICE_ID"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	PolicyFile  string `env:"POLICY_FILE" envDefault:"policy.yaml"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:         raw.Env,
		APIBaseURL:  raw.APIBaseURL,
		UserID:      raw.UserID,
		UserToken:   raw.UserToken,
		DeviceID:    raw.DeviceID,
		DatabaseURL: raw.DatabaseURL,
		PolicyFile:  raw.PolicyFile,
	}
	if err := loadPolicyLists(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
