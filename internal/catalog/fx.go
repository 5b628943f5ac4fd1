package catalog

import (
	"github.com/cursolabs/cursopay/internal/catalog/repository"
	"github.com/cursolabs/cursopay/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
