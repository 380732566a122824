package model

import (
	"strconv"
	"strings"
	"time"
)

// Resident is a person currently or formerly housed in a dormitory.
type Resident struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	DormitoryID  int64      `gorm:"index;not null" json:"dormitoryId"`
	RoomID       *int64     `gorm:"index" json:"roomId"`
	FirstName    string     `gorm:"size:100;not null" json:"firstName"`
	LastName     string     `gorm:"size:100;not null" json:"lastName"`
	Faculty      string     `gorm:"size:200" json:"faculty"`
	Phone        string     `gorm:"size:32" json:"phone"`
	ArrivalDate  *time.Time `json:"arrivalDate"`
	CheckoutDate *time.Time `json:"checkoutDate"`
	// PaidTotal is the cumulative amount paid, in whole currency units.
	PaidTotal int64     `gorm:"not null;default:0" json:"paidTotal"`
	Present   bool      `gorm:"not null;default:false" json:"present"`
	Blocked   bool      `gorm:"not null;default:false" json:"blocked"`
	Deleted   bool      `gorm:"not null;default:false;index" json:"deleted"`
	DeletedBy string    `gorm:"size:200" json:"deletedBy,omitempty"`
	Photo     []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Dormitory *Dormitory `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Room      *Room      `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
}

// FullName is the name registered on devices.
func (r *Resident) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// DeviceID is the identifier devices know the resident by.
func (r *Resident) DeviceID() string {
	return strconv.FormatInt(r.ID, 10)
}
