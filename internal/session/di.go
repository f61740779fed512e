package session

import (
	"github.com/deoncarlette/AutoMod/internal/archive"
	"github.com/deoncarlette/AutoMod/internal/config"
	"github.com/deoncarlette/AutoMod/internal/room"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		client := do.MustInvoke[room.Client](i)
		recorder := do.MustInvoke[archive.Recorder](i)
		return NewManager(cfg, client, recorder), nil
	})
}
