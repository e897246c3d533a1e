package filesystem

import (
	"github.com/samber/do"
	"github.com/spf13/afero"
)

func Provide(i *do.Injector) {
	do.Provide(i, func(_ *do.Injector) (afero.Fs, error) {
		return afero.NewOsFs(), nil
	})
}
