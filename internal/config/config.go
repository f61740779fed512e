package config

import (
	"fmt"
)

// Config carries everything the bot needs for a process lifetime. The
// policy lists are loaded once at startup and never mutated afterwards;
// sessions only read them.
type Config struct {
	Env         string
	APIBaseURL  string
	UserID      int64
	UserToken   string
	DeviceID    string
	DatabaseURL string
	PolicyFile  string

	AutomodClubs map[int64]struct{}
	SocialClubs  map[int64]struct{}
	GuestList    map[int64]struct{}
	ModList      map[int64]struct{}
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.UserID <= 0 {
		return fmt.Errorf("CH_USER_ID must be positive, got %d", c.UserID)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "CHANNEL_API_URL", value: c.APIBaseURL},
		{name: "CH_USER_TOKEN", value: c.UserToken},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "POLICY_FILE", value: c.PolicyFile},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) IsAutomodClub(clubID int64) bool {
	_, ok := c.AutomodClubs[clubID]
	return ok
}

func (c *Config) IsSocialClub(clubID int64) bool {
	_, ok := c.SocialClubs[clubID]
	return ok
}

func (c *Config) IsListedGuest(userID int64) bool {
	_, ok := c.GuestList[userID]
	return ok
}

func (c *Config) IsListedModerator(userID int64) bool {
	_, ok := c.ModList[userID]
	return ok
}
