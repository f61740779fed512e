package room

import (
	"github.com/deoncarlette/AutoMod/internal/config"
	"github.com/deoncarlette/AutoMod/internal/room"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (room.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewHTTPClient(cfg), nil
	})
}
