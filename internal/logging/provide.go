package logging

import (
	"github.com/rs/zerolog"
	"github.com/samber/do"

	"github.com/signerkit/softtoken/internal/config"
)

func Provide(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (zerolog.Logger, error) {
		cfg, err := do.Invoke[config.Config](i)
		if err != nil {
			return zerolog.Nop(), err
		}
		return NewLogger(cfg)
	})
}
