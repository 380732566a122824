package store

import "gorm.io/gorm"

// Role is the organizational role of the caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleDirector Role = "director"
	RoleStaff    Role = "staff"
)

// Scope limits queries to what a caller may see: directors see the
// dormitories of their organization, staff see the single dormitory they work
// in, admins see everything and any other caller sees nothing.
type Scope struct {
	Role           Role
	OrganizationID int64
	DormitoryID    int64
}

// Admin is the unrestricted scope used by background jobs.
var Admin = Scope{Role: RoleAdmin}

// Dormitories restricts a query over the dormitories table.
func (s Scope) Dormitories() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch s.Role {
		case RoleAdmin:
			return db
		case RoleDirector:
			return db.Where("dormitories.organization_id = ?", s.OrganizationID)
		case RoleStaff:
			return db.Where("dormitories.id = ?", s.DormitoryID)
		default:
			return db.Where("1 = 0")
		}
	}
}

// Owned restricts a query over a table carrying a dormitory_id column.
func (s Scope) Owned(table string) func(*gorm.DB) *gorm.DB {
	column := table + ".dormitory_id"
	return func(db *gorm.DB) *gorm.DB {
		switch s.Role {
		case RoleAdmin:
			return db
		case RoleDirector:
			return db.Where(column+" IN (?)",
				db.Session(&gorm.Session{NewDB: true}).Table("dormitories").Select("id").Where("organization_id = ?", s.OrganizationID))
		case RoleStaff:
			return db.Where(column+" = ?", s.DormitoryID)
		default:
			return db.Where("1 = 0")
		}
	}
}
