package model

import "time"

// Device is a physical access-control unit installed in a dormitory.
type Device struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	DormitoryID int64  `gorm:"index;not null" json:"dormitoryId"`
	Address     string `gorm:"size:64;not null" json:"address"` // host[:port]
	Username    string `gorm:"size:100;not null" json:"-"`
	Password    string `gorm:"size:100;not null" json:"-"`
	// Entrance devices take part in enroll/revoke fan-out; the rest only see
	// block/unblock.
	Entrance  bool      `gorm:"not null" json:"entrance"`
	Main      bool      `gorm:"not null" json:"main"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Dormitory *Dormitory `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
