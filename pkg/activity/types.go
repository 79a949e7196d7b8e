package activity

import (
	"time"

	"github.com/platinummonkey/portal/pkg/rbac"
)

// RoleInfo is the role snapshot stored with each sign-in
type RoleInfo struct {
	RoleName       string    `json:"role_name"`
	DivisionName   *string   `json:"division_name"`
	IsAdmin        bool      `json:"is_admin"`
	LoginTimestamp time.Time `json:"login_timestamp"`
}

// Entry is one login_activity row
type Entry struct {
	ID        int64     `json:"id"`
	UserEmail string    `json:"user_email"`
	RoleInfo  RoleInfo  `json:"role_info"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry snapshots record at time at
func NewEntry(record *rbac.RoleRecord, at time.Time) *Entry {
	at = at.UTC()
	info := RoleInfo{
		RoleName:       record.RoleName,
		IsAdmin:        record.IsAdmin,
		LoginTimestamp: at,
	}
	if record.HasDivision() {
		name := *record.DivisionName
		info.DivisionName = &name
	}
	return &Entry{
		UserEmail: record.UserEmail,
		RoleInfo:  info,
		CreatedAt: at,
	}
}
