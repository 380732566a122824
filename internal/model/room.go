package model

import "time"

// Room is a numbered room inside a dormitory. Number is unique per dormitory.
type Room struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	DormitoryID int64     `gorm:"not null;uniqueIndex:idx_room_dormitory_number" json:"dormitoryId"`
	Number      string    `gorm:"size:5;not null;uniqueIndex:idx_room_dormitory_number" json:"number"`
	Size        int       `gorm:"not null" json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	Dormitory *Dormitory `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// RoomOccupancy is a room together with its count of active residents.
type RoomOccupancy struct {
	Room
	Occupied int `json:"occupied"`
}

// FreeSlots returns the remaining capacity, never negative.
func (r RoomOccupancy) FreeSlots() int {
	if r.Occupied >= r.Size {
		return 0
	}
	return r.Size - r.Occupied
}
