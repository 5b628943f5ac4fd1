package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrBillingCycleNotFound = errors.New("billing cycle not found")
	ErrPriceNotFound        = errors.New("price not found")
	ErrInvalidInterval      = errors.New("invalid billing interval")
)

type IntervalType string

const (
	IntervalDay   IntervalType = "day"
	IntervalWeek  IntervalType = "week"
	IntervalMonth IntervalType = "month"
	IntervalYear  IntervalType = "year"
)

func ParseIntervalType(value string) (IntervalType, error) {
	switch IntervalType(value) {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return IntervalType(value), nil
	default:
		return "", ErrInvalidInterval
	}
}

type Plan struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Code        string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name        string       `json:"name" gorm:"type:text;not null"`
	Description string       `json:"description" gorm:"type:text"`
	Active      bool         `json:"active" gorm:"default:true"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

type BillingCycle struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Code          string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	IntervalType  IntervalType `json:"interval_type" gorm:"type:varchar(10);not null"`
	IntervalCount int          `json:"interval_count" gorm:"not null"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
}

func (BillingCycle) TableName() string { return "billing_cycles" }

// Price is the authoritative charge amount for a (plan, cycle, currency)
// combination. AmountCents is minor units; zero-decimal currencies such as
// CLP store the whole amount (19990 CLP => 19990).
type Price struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PlanID         snowflake.ID `json:"plan_id" gorm:"not null;index"`
	BillingCycleID snowflake.ID `json:"billing_cycle_id" gorm:"not null"`
	Currency       string       `json:"currency" gorm:"type:varchar(3);not null"`
	AmountCents    int64        `json:"amount_cents" gorm:"not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (Price) TableName() string { return "prices" }

type Repository interface {
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindBillingCycleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingCycle, error)
	FindPrice(ctx context.Context, db *gorm.DB, planID, cycleID snowflake.ID, currency string) (*Price, error)
}

type Service interface {
	GetPlan(ctx context.Context, id snowflake.ID) (Plan, error)
	GetBillingCycle(ctx context.Context, id snowflake.ID) (BillingCycle, error)
	ResolvePrice(ctx context.Context, planID, cycleID snowflake.ID, currency string) (Price, error)
}
