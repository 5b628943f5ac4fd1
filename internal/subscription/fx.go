package subscription

import (
	"github.com/cursolabs/cursopay/internal/subscription/repository"
	"github.com/cursolabs/cursopay/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
