package domain

import "time"

const (
	RoleDigital  = "digital"
	RoleOperador = "operador"
)

// SysUser is a platform account. Role "digital" is the admin profile allowed
// to log in; "operador" accounts only own lines.
type SysUser struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	Name      string    `gorm:"index" json:"name" form:"name"`
	Email     string    `gorm:"uniqueIndex" json:"email" form:"email"`
	Password  string    `json:"-" form:"-"`
	Role      string    `gorm:"index" json:"role" form:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName Specify table name
func (SysUser) TableName() string {
	return "sys_user"
}
