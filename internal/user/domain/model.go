package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Email             string       `json:"email" gorm:"type:text;not null;uniqueIndex"`
	FirstName         string       `json:"first_name" gorm:"type:text"`
	LastName          string       `json:"last_name" gorm:"type:text"`
	PreferredCurrency string       `json:"preferred_currency" gorm:"type:varchar(3);default:'CLP'"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time    `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
}
