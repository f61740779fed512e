package config

import (
	"fmt"

	internalconfig "github.com/deoncarlette/AutoMod/internal/config"
	"github.com/spf13/viper"
)

const (
	policyKeyAutomodClubs = "automod_clubs"
	policyKeySocialClubs  = "social_clubs"
	policyKeyGuestList    = "guest_list"
	policyKeyModList      = "mod_list"
)

// loadPolicyLists reads the per-room allow-lists from the policy file.
// A missing file or missing list key is fatal: a session started without
// its policy would silently never invite or promote anyone.
func loadPolicyLists(cfg *internalconfig.Config) error {
	v := viper.New()
	v.SetConfigFile(cfg.PolicyFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", cfg.PolicyFile, err)
	}

	lists := []struct {
		key  string
		dest *map[int64]struct{}
	}{
		{key: policyKeyAutomodClubs, dest: &cfg.AutomodClubs},
		{key: policyKeySocialClubs, dest: &cfg.SocialClubs},
		{key: policyKeyGuestList, dest: &cfg.GuestList},
		{key: policyKeyModList, dest: &cfg.ModList},
	}
	for _, l := range lists {
		if !v.IsSet(l.key) {
			return fmt.Errorf("policy file %s is missing required list %q", cfg.PolicyFile, l.key)
		}
		ids := make(map[int64]struct{})
		for _, id := range v.GetIntSlice(l.key) {
			ids[int64(id)] = struct{}{}
		}
		*l.dest = ids
	}
	return nil
}
