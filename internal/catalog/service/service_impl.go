package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo catalogdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo catalogdomain.Repository
}

func NewService(p ServiceParam) catalogdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("catalog.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (catalogdomain.Plan, error) {
	plan, err := s.repo.FindPlanByID(ctx, s.db, id)
	if err != nil {
		return catalogdomain.Plan{}, err
	}
	if plan == nil || !plan.Active {
		return catalogdomain.Plan{}, catalogdomain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) GetBillingCycle(ctx context.Context, id snowflake.ID) (catalogdomain.BillingCycle, error) {
	cycle, err := s.repo.FindBillingCycleByID(ctx, s.db, id)
	if err != nil {
		return catalogdomain.BillingCycle{}, err
	}
	if cycle == nil {
		return catalogdomain.BillingCycle{}, catalogdomain.ErrBillingCycleNotFound
	}
	return *cycle, nil
}

func (s *Service) ResolvePrice(ctx context.Context, planID, cycleID snowflake.ID, currency string) (catalogdomain.Price, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return catalogdomain.Price{}, catalogdomain.ErrPriceNotFound
	}

	price, err := s.repo.FindPrice(ctx, s.db, planID, cycleID, currency)
	if err != nil {
		return catalogdomain.Price{}, err
	}
	if price == nil {
		return catalogdomain.Price{}, catalogdomain.ErrPriceNotFound
	}
	return *price, nil
}
