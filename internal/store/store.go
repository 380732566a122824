package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dormitory-access-backend/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist or is outside the scope.
	ErrNotFound = errors.New("record not found")
	// ErrIntegrity is returned when a write would break a data invariant.
	ErrIntegrity = errors.New("data integrity violation")
	// ErrForbidden is returned when the scope may see a record but not change it.
	ErrForbidden = errors.New("operation not permitted")
)

// ResidentStatus filters residents by presence and deletion.
type ResidentStatus string

const (
	StatusActive  ResidentStatus = ""
	StatusInside  ResidentStatus = "in_dormitory"
	StatusOutside ResidentStatus = "out_dormitory"
	StatusDeleted ResidentStatus = "deleted"
)

// ResidentFilter narrows a resident listing.
type ResidentFilter struct {
	Status      ResidentStatus
	DormitoryID int64
	Room        string
	Name        string
	Faculty     string
}

// RoomFilter narrows a room listing. Status is "free", "full" or empty.
type RoomFilter struct {
	DormitoryID int64
	Number      string
	Status      string
}

// RoomUpdate carries the room fields to change; nil fields are kept.
type RoomUpdate struct {
	Number *string
	Size   *int
}

// DormitoryStats counts the residents of one dormitory.
type DormitoryStats struct {
	Total       int64 `json:"total"`
	InDormitory int64 `json:"inDormitory"`
	Deleted     int64 `json:"deleted"`
}

// Store defines the record-store operations used by the service.
type Store interface {
	DB() *gorm.DB

	CreateDormitory(ctx context.Context, d *model.Dormitory) error
	ListDormitories(ctx context.Context, scope Scope) ([]model.Dormitory, error)
	GetDormitory(ctx context.Context, scope Scope, id int64) (*model.Dormitory, error)
	UpdateDormitory(ctx context.Context, scope Scope, d *model.Dormitory) error
	DormitoryStats(ctx context.Context, dormitoryIDs []int64) (map[int64]DormitoryStats, error)
	CreateDevice(ctx context.Context, d *model.Device) error

	CreateRoom(ctx context.Context, r *model.Room) error
	ListRooms(ctx context.Context, scope Scope, f RoomFilter) ([]model.RoomOccupancy, error)
	GetRoom(ctx context.Context, id int64) (model.RoomOccupancy, error)
	UpdateRoom(ctx context.Context, scope Scope, id int64, u RoomUpdate) (model.RoomOccupancy, error)
	DeleteRoom(ctx context.Context, scope Scope, id int64) error

	CreateResident(ctx context.Context, r *model.Resident) error
	GetResident(ctx context.Context, scope Scope, id int64) (*model.Resident, error)
	ListResidents(ctx context.Context, scope Scope, f ResidentFilter) ([]model.Resident, error)
	ActiveResidents(ctx context.Context, dormitoryID int64) ([]model.Resident, error)
	ResidentsByDormitory(ctx context.Context, dormitoryIDs []int64) (map[int64][]model.Resident, error)
	UpdateResident(ctx context.Context, r *model.Resident, fields ...string) error
	DeleteResident(ctx context.Context, id int64) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", what, id, err)
}

func (s *gormStore) CreateDormitory(ctx context.Context, d *model.Dormitory) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if err := s.db.WithContext(ctx).Omit("Devices", "Rooms", "Residents").Create(d).Error; err != nil {
		return fmt.Errorf("failed to create dormitory: %w", err)
	}
	return nil
}

func (s *gormStore) ListDormitories(ctx context.Context, scope Scope) ([]model.Dormitory, error) {
	var dorms []model.Dormitory
	if err := s.db.WithContext(ctx).Scopes(scope.Dormitories()).Order("name").Find(&dorms).Error; err != nil {
		return nil, fmt.Errorf("failed to list dormitories: %w", err)
	}
	return dorms, nil
}

// GetDormitory loads a dormitory with its devices.
func (s *gormStore) GetDormitory(ctx context.Context, scope Scope, id int64) (*model.Dormitory, error) {
	var d model.Dormitory
	err := s.db.WithContext(ctx).
		Scopes(scope.Dormitories()).
		Preload("Devices", func(db *gorm.DB) *gorm.DB { return db.Order("devices.id") }).
		First(&d, "dormitories.id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "dormitory", id)
	}
	return &d, nil
}

// UpdateDormitory writes the name, address and rent schedule of d. Staff may
// read their dormitory but not change it.
func (s *gormStore) UpdateDormitory(ctx context.Context, scope Scope, d *model.Dormitory) error {
	if scope.Role != RoleAdmin && scope.Role != RoleDirector {
		return fmt.Errorf("%w: only directors edit dormitories", ErrForbidden)
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	err := s.db.WithContext(ctx).
		Model(&model.Dormitory{}).
		Scopes(scope.Dormitories()).
		Where("dormitories.id = ?", d.ID).
		Updates(map[string]interface{}{
			"name":                d.Name,
			"address":             d.Address,
			"monthly_rent":        d.MonthlyRent,
			"min_required_months": d.MinRequiredMonths,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update dormitory %d: %w", d.ID, err)
	}
	return nil
}

// DormitoryStats counts active, present and deleted residents per dormitory.
// Dormitories without residents are absent from the result.
func (s *gormStore) DormitoryStats(ctx context.Context, dormitoryIDs []int64) (map[int64]DormitoryStats, error) {
	out := make(map[int64]DormitoryStats, len(dormitoryIDs))
	if len(dormitoryIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		DormitoryID int64
		DormitoryStats
	}
	err := s.db.WithContext(ctx).
		Model(&model.Resident{}).
		Select("dormitory_id, "+
			"COUNT(CASE WHEN deleted = ? THEN 1 END) AS total, "+
			"COUNT(CASE WHEN deleted = ? AND present = ? THEN 1 END) AS in_dormitory, "+
			"COUNT(CASE WHEN deleted = ? THEN 1 END) AS deleted",
			false, false, true, true).
		Where("dormitory_id IN ?", dormitoryIDs).
		Group("dormitory_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count residents: %w", err)
	}
	for _, r := range rows {
		out[r.DormitoryID] = r.DormitoryStats
	}
	return out, nil
}

func (s *gormStore) CreateDevice(ctx context.Context, d *model.Device) error {
	if err := s.db.WithContext(ctx).Omit("Dormitory").Create(d).Error; err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (s *gormStore) CreateRoom(ctx context.Context, r *model.Room) error {
	if r.Size < 0 {
		return fmt.Errorf("%w: room size must not be negative", ErrIntegrity)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&model.Room{}).
			Where("dormitory_id = ? AND number = ?", r.DormitoryID, r.Number).
			Count(&taken).Error; err != nil {
			return fmt.Errorf("failed to check room number: %w", err)
		}
		if taken > 0 {
			return fmt.Errorf("%w: room %s already exists in dormitory %d", ErrIntegrity, r.Number, r.DormitoryID)
		}
		if err := tx.Omit("Dormitory").Create(r).Error; err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		return nil
	})
}

func (s *gormStore) occupancy(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&model.Room{}).
		Select("rooms.*, COUNT(residents.id) AS occupied").
		Joins("LEFT JOIN residents ON residents.room_id = rooms.id AND residents.deleted = ?", false).
		Group("rooms.id")
}

func (s *gormStore) ListRooms(ctx context.Context, scope Scope, f RoomFilter) ([]model.RoomOccupancy, error) {
	q := s.occupancy(ctx).Scopes(scope.Owned("rooms"))
	if f.DormitoryID != 0 {
		q = q.Where("rooms.dormitory_id = ?", f.DormitoryID)
	}
	if f.Number != "" {
		q = q.Where("rooms.number LIKE ?", "%"+f.Number+"%")
	}
	switch f.Status {
	case "free":
		q = q.Having("COUNT(residents.id) < rooms.size")
	case "full":
		q = q.Having("COUNT(residents.id) >= rooms.size")
	}

	var rooms []model.RoomOccupancy
	if err := q.Order("rooms.dormitory_id, rooms.number").Scan(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func (s *gormStore) GetRoom(ctx context.Context, id int64) (model.RoomOccupancy, error) {
	var rooms []model.RoomOccupancy
	if err := s.occupancy(ctx).Where("rooms.id = ?", id).Scan(&rooms).Error; err != nil {
		return model.RoomOccupancy{}, fmt.Errorf("failed to load room %d: %w", id, err)
	}
	if len(rooms) == 0 {
		return model.RoomOccupancy{}, fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	return rooms[0], nil
}

// UpdateRoom renumbers or resizes a room. The number stays unique within the
// dormitory and the size never drops below the current occupancy.
func (s *gormStore) UpdateRoom(ctx context.Context, scope Scope, id int64, u RoomUpdate) (model.RoomOccupancy, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.Room
		err := tx.Scopes(scope.Owned("rooms")).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&room, "rooms.id = ?", id).Error
		if err != nil {
			return notFound(err, "room", id)
		}

		changes := map[string]interface{}{}
		if u.Number != nil && *u.Number != room.Number {
			var taken int64
			if err := tx.Model(&model.Room{}).
				Where("dormitory_id = ? AND number = ? AND id <> ?", room.DormitoryID, *u.Number, id).
				Count(&taken).Error; err != nil {
				return fmt.Errorf("failed to check room number: %w", err)
			}
			if taken > 0 {
				return fmt.Errorf("%w: room %s already exists in dormitory %d", ErrIntegrity, *u.Number, room.DormitoryID)
			}
			changes["number"] = *u.Number
		}
		if u.Size != nil && *u.Size != room.Size {
			if *u.Size < 0 {
				return fmt.Errorf("%w: room size must not be negative", ErrIntegrity)
			}
			var occupied int64
			if err := tx.Model(&model.Resident{}).
				Where("room_id = ? AND deleted = ?", id, false).
				Count(&occupied).Error; err != nil {
				return fmt.Errorf("failed to count residents of room %d: %w", id, err)
			}
			if int64(*u.Size) < occupied {
				return fmt.Errorf("%w: room %s has %d resident(s), size %d is too small", ErrIntegrity, room.Number, occupied, *u.Size)
			}
			changes["size"] = *u.Size
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&room).Updates(changes).Error; err != nil {
			return fmt.Errorf("failed to update room %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return model.RoomOccupancy{}, err
	}
	return s.GetRoom(ctx, id)
}

// DeleteRoom removes an empty room. A room that any resident is assigned to
// is never deleted and never cascades.
func (s *gormStore) DeleteRoom(ctx context.Context, scope Scope, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room model.Room
		if err := tx.Scopes(scope.Owned("rooms")).First(&room, "rooms.id = ?", id).Error; err != nil {
			return notFound(err, "room", id)
		}

		var assigned int64
		if err := tx.Model(&model.Resident{}).Where("room_id = ?", id).Count(&assigned).Error; err != nil {
			return fmt.Errorf("failed to count residents of room %d: %w", id, err)
		}
		if assigned > 0 {
			return fmt.Errorf("%w: room %s has %d resident(s) assigned", ErrIntegrity, room.Number, assigned)
		}

		if err := tx.Delete(&model.Room{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete room %d: %w", id, err)
		}
		return nil
	})
}

// reserveSlot locks the room r is assigned to and checks it still has space
// for r. Concurrent writers for the same room queue on the row lock.
func reserveSlot(tx *gorm.DB, r *model.Resident) error {
	var room model.Room
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", *r.RoomID).Error; err != nil {
		return notFound(err, "room", *r.RoomID)
	}
	if room.DormitoryID != r.DormitoryID {
		return fmt.Errorf("%w: room %s belongs to another dormitory", ErrIntegrity, room.Number)
	}

	q := tx.Model(&model.Resident{}).Where("room_id = ? AND deleted = ?", room.ID, false)
	if r.ID != 0 {
		q = q.Where("id <> ?", r.ID)
	}
	var occupied int64
	if err := q.Count(&occupied).Error; err != nil {
		return fmt.Errorf("failed to count residents of room %d: %w", room.ID, err)
	}
	if occupied >= int64(room.Size) {
		return fmt.Errorf("%w: room %s is full (%d/%d)", ErrIntegrity, room.Number, occupied, room.Size)
	}
	return nil
}

func writes(fields []string, name string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

// CreateResident inserts r. When r has a room, the capacity check and the
// insert happen in one transaction.
func (s *gormStore) CreateResident(ctx context.Context, r *model.Resident) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.RoomID != nil && !r.Deleted {
			if err := reserveSlot(tx, r); err != nil {
				return err
			}
		}
		if err := tx.Omit("Dormitory", "Room").Create(r).Error; err != nil {
			return fmt.Errorf("failed to create resident: %w", err)
		}
		return nil
	})
}

func (s *gormStore) GetResident(ctx context.Context, scope Scope, id int64) (*model.Resident, error) {
	var r model.Resident
	err := s.db.WithContext(ctx).
		Scopes(scope.Owned("residents")).
		Omit("photo").
		First(&r, "residents.id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "resident", id)
	}
	return &r, nil
}

func (s *gormStore) ListResidents(ctx context.Context, scope Scope, f ResidentFilter) ([]model.Resident, error) {
	q := s.db.WithContext(ctx).
		Model(&model.Resident{}).
		Scopes(scope.Owned("residents")).
		Omit("photo")

	switch f.Status {
	case StatusInside:
		q = q.Where("residents.present = ? AND residents.deleted = ?", true, false)
	case StatusOutside:
		q = q.Where("residents.present = ? AND residents.deleted = ?", false, false)
	case StatusDeleted:
		q = q.Where("residents.deleted = ?", true)
	default:
		q = q.Where("residents.deleted = ?", false)
	}
	if f.DormitoryID != 0 {
		q = q.Where("residents.dormitory_id = ?", f.DormitoryID)
	}
	if f.Room != "" {
		q = q.Joins("JOIN rooms ON rooms.id = residents.room_id").Where("rooms.number LIKE ?", "%"+f.Room+"%")
	}
	if f.Name != "" {
		like := "%" + f.Name + "%"
		q = q.Where("residents.first_name LIKE ? OR residents.last_name LIKE ?", like, like)
	}
	if f.Faculty != "" {
		q = q.Where("residents.faculty LIKE ?", "%"+f.Faculty+"%")
	}

	var residents []model.Resident
	if err := q.Order("residents.room_id, residents.last_name, residents.first_name").Find(&residents).Error; err != nil {
		return nil, fmt.Errorf("failed to list residents: %w", err)
	}
	return residents, nil
}

// ActiveResidents returns the non-deleted residents of a dormitory, photos included.
func (s *gormStore) ActiveResidents(ctx context.Context, dormitoryID int64) ([]model.Resident, error) {
	var residents []model.Resident
	err := s.db.WithContext(ctx).
		Where("dormitory_id = ? AND deleted = ?", dormitoryID, false).
		Order("id").
		Find(&residents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load residents of dormitory %d: %w", dormitoryID, err)
	}
	return residents, nil
}

// ResidentsByDormitory groups every resident of the given dormitories, deleted
// ones included since they still carry billing history.
func (s *gormStore) ResidentsByDormitory(ctx context.Context, dormitoryIDs []int64) (map[int64][]model.Resident, error) {
	out := make(map[int64][]model.Resident, len(dormitoryIDs))
	if len(dormitoryIDs) == 0 {
		return out, nil
	}
	var residents []model.Resident
	err := s.db.WithContext(ctx).
		Omit("photo").
		Where("dormitory_id IN ?", dormitoryIDs).
		Order("id").
		Find(&residents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load residents: %w", err)
	}
	for _, r := range residents {
		out[r.DormitoryID] = append(out[r.DormitoryID], r)
	}
	return out, nil
}

// UpdateResident writes the named columns of r, or every column when none are
// named. Moving an active resident into a room re-checks its capacity.
func (s *gormStore) UpdateResident(ctx context.Context, r *model.Resident, fields ...string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.RoomID != nil && !r.Deleted && writes(fields, "RoomID") {
			if err := reserveSlot(tx, r); err != nil {
				return err
			}
		}
		q := tx.Model(r)
		var err error
		if len(fields) == 0 {
			err = q.Omit("Dormitory", "Room", "photo").Save(r).Error
		} else {
			err = q.Select(fields).Updates(r).Error
		}
		if err != nil {
			return fmt.Errorf("failed to update resident %d: %w", r.ID, err)
		}
		return nil
	})
}

// DeleteResident removes the record outright; used to discard a resident
// whose enrollment never reached the devices.
func (s *gormStore) DeleteResident(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Delete(&model.Resident{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete resident %d: %w", id, err)
	}
	return nil
}
