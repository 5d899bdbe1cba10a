package domain

import "time"

type Product struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"not null"`
	Image     string    `json:"image"`
	Price     int64     `json:"price" gorm:"not null"` // paise
	Stock     int       `json:"stock" gorm:"not null;default:0"`
	IsActive  bool      `json:"isActive" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}
