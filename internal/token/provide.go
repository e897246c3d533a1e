package token

import (
	"github.com/rs/zerolog"
	"github.com/samber/do"
	"github.com/spf13/afero"

	"github.com/signerkit/softtoken/internal/config"
)

func Provide(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*Paths, error) {
		fs, err := do.Invoke[afero.Fs](i)
		if err != nil {
			return nil, err
		}
		cfg, err := do.Invoke[config.Config](i)
		if err != nil {
			return nil, err
		}
		return NewPaths(fs, cfg.KeysDir), nil
	})

	do.Provide(i, func(i *do.Injector) (*Codec, error) {
		fs, err := do.Invoke[afero.Fs](i)
		if err != nil {
			return nil, err
		}
		return NewCodec(fs), nil
	})

	do.Provide(i, func(i *do.Injector) (*Enumerator, error) {
		fs, err := do.Invoke[afero.Fs](i)
		if err != nil {
			return nil, err
		}
		paths, err := do.Invoke[*Paths](i)
		if err != nil {
			return nil, err
		}
		return NewEnumerator(fs, paths), nil
	})

	do.Provide(i, func(i *do.Injector) (*Manager, error) {
		fs, err := do.Invoke[afero.Fs](i)
		if err != nil {
			return nil, err
		}
		cfg, err := do.Invoke[config.Config](i)
		if err != nil {
			return nil, err
		}
		paths, err := do.Invoke[*Paths](i)
		if err != nil {
			return nil, err
		}
		codec, err := do.Invoke[*Codec](i)
		if err != nil {
			return nil, err
		}
		enum, err := do.Invoke[*Enumerator](i)
		if err != nil {
			return nil, err
		}
		logger, err := do.Invoke[zerolog.Logger](i)
		if err != nil {
			return nil, err
		}
		return NewManager(fs, paths, codec, enum, cfg.KeyBits, logger), nil
	})
}
