package model

import (
	"errors"
	"time"
)

// Dormitory represents a managed residential facility with its own rent
// schedule and access-control devices.
type Dormitory struct {
	ID             int64  `gorm:"primaryKey" json:"id"`
	OrganizationID int64  `gorm:"index;not null" json:"organizationId"`
	Name           string `gorm:"size:300;not null" json:"name"`
	Address        string `gorm:"size:300" json:"address"`
	// MonthlyRent is in whole currency units.
	MonthlyRent int64 `gorm:"not null;default:0" json:"monthlyRent"`
	// MinRequiredMonths is the contractual floor: once a tenancy reaches it the
	// owed amount stops growing.
	MinRequiredMonths int64     `gorm:"not null" json:"minRequiredMonths"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`

	// Associations
	Devices   []Device   `gorm:"foreignKey:DormitoryID" json:"devices,omitempty"`
	Rooms     []Room     `gorm:"foreignKey:DormitoryID" json:"rooms,omitempty"`
	Residents []Resident `gorm:"foreignKey:DormitoryID" json:"-"`
}

// Validate rejects negative rent schedules.
func (d *Dormitory) Validate() error {
	if d.Name == "" {
		return errors.New("dormitory name is required")
	}
	if d.MonthlyRent < 0 {
		return errors.New("monthly rent must not be negative")
	}
	if d.MinRequiredMonths < 0 {
		return errors.New("minimum required months must not be negative")
	}
	return nil
}

// EntranceDevices returns the devices that gate presence.
func (d *Dormitory) EntranceDevices() []Device {
	var out []Device
	for _, dev := range d.Devices {
		if dev.Entrance {
			out = append(out, dev)
		}
	}
	return out
}

// MainDevice returns the device designated as main, if any.
func (d *Dormitory) MainDevice() (Device, bool) {
	for _, dev := range d.Devices {
		if dev.Main {
			return dev, true
		}
	}
	return Device{}, false
}
