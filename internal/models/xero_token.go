package models

import "time"

type XeroToken struct {
	TokenIdentifier string    `gorm:"primaryKey"`
	AccessToken     string    `json:"-"`
	RefreshToken    string    `json:"-"`
	TenantID        string    `json:"tenant_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
