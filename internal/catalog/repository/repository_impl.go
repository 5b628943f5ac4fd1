package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/cursolabs/cursopay/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Plan, error) {
	var p catalogdomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, description, active, created_at, updated_at
		 FROM plans WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindBillingCycleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.BillingCycle, error) {
	var c catalogdomain.BillingCycle
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, interval_type, interval_count, created_at
		 FROM billing_cycles WHERE id = ?`,
		id,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) FindPrice(ctx context.Context, db *gorm.DB, planID, cycleID snowflake.ID, currency string) (*catalogdomain.Price, error) {
	var p catalogdomain.Price
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, billing_cycle_id, currency, amount_cents, created_at, updated_at
		 FROM prices WHERE plan_id = ? AND billing_cycle_id = ? AND currency = ? LIMIT 1`,
		planID,
		cycleID,
		strings.ToUpper(strings.TrimSpace(currency)),
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}
