package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/cursolabs/cursopay/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() userdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*userdomain.User, error) {
	var u userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, first_name, last_name, preferred_currency, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(&u).Error
	if err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, nil
	}
	return &u, nil
}
