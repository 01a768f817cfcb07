package models

// AdminUser represents an operator allowed to change gateway settings and
// trigger manual payment checks.
type AdminUser struct {
	BaseModel
	Email        string `gorm:"uniqueIndex" json:"email"`
	PasswordHash string `json:"-"`
}
