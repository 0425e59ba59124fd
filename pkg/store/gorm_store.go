package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"giftpool/pkg/domain"
)

const migrateLockID int64 = 47194719

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &GiftModel{}, &GiftOpeningModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM gift_opening_models o
				WHERE NOT EXISTS (SELECT 1 FROM gift_models g WHERE g.id = o.gift_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'gift_opening_models'
					AND constraint_name = 'gift_opening_models_gift_id_fkey'
				) THEN
					ALTER TABLE gift_opening_models
					ADD CONSTRAINT gift_opening_models_gift_id_fkey
					FOREIGN KEY (gift_id) REFERENCES gift_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure opening foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Create(&model).Error
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveGift stores a new gift record.
func (s *GormStore) SaveGift(g domain.Gift) error {
	model, err := giftToModel(g)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetGift retrieves a gift.
func (s *GormStore) GetGift(id string) (domain.Gift, bool, error) {
	var model GiftModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Gift{}, false, nil
		}
		return domain.Gift{}, false, err
	}
	return giftFromModel(model), true, nil
}

// ListGiftsByCreator returns a creator's gifts, newest first.
func (s *GormStore) ListGiftsByCreator(creatorID string) ([]domain.Gift, error) {
	return s.listGifts("created_at DESC", "creator_id = ?", creatorID)
}

// ListGiftsByRecipient returns a recipient's gifts, most recently claimed first.
func (s *GormStore) ListGiftsByRecipient(recipientID string) ([]domain.Gift, error) {
	return s.listGifts("claimed_at DESC NULLS LAST", "recipient_id = ?", recipientID)
}

// ListPoolGifts returns unclaimed pool gifts not created by the given user.
func (s *GormStore) ListPoolGifts(excludeCreatorID string) ([]domain.Gift, error) {
	return s.listGifts("created_at ASC",
		"status = ? AND recipient_id IS NULL AND creator_id <> ?",
		string(domain.StatusInPool), excludeCreatorID)
}

func (s *GormStore) listGifts(order string, cond string, args ...any) ([]domain.Gift, error) {
	var models []GiftModel
	if err := s.db.Where(cond, args...).Order(order).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Gift, 0, len(models))
	for _, m := range models {
		res = append(res, giftFromModel(m))
	}
	return res, nil
}

// ClaimGift assigns the gift to a recipient with a single conditional write.
// The WHERE clause on status/recipient makes concurrent claims race at the
// database: exactly one update matches, the rest see ok=false.
func (s *GormStore) ClaimGift(id, recipientID string, claimedAt time.Time) (domain.Gift, bool, error) {
	res := s.db.Model(&GiftModel{}).
		Where("id = ? AND status = ? AND recipient_id IS NULL", id, string(domain.StatusInPool)).
		Updates(map[string]any{
			"recipient_id": recipientID,
			"status":       string(domain.StatusClaimed),
			"claimed_at":   claimedAt.UTC(),
		})
	if res.Error != nil {
		return domain.Gift{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Gift{}, false, nil
	}
	return s.mustGetGift(id)
}

// OpenGift marks the gift opened. Conditioned on recipient ownership only,
// so re-opening an opened gift applies the same state again.
func (s *GormStore) OpenGift(id, recipientID string) (domain.Gift, bool, error) {
	res := s.db.Model(&GiftModel{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Updates(map[string]any{
			"wrapped": false,
			"status":  string(domain.StatusOpened),
		})
	if res.Error != nil {
		return domain.Gift{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Gift{}, false, nil
	}
	return s.mustGetGift(id)
}

func (s *GormStore) mustGetGift(id string) (domain.Gift, bool, error) {
	gift, ok, err := s.GetGift(id)
	if err != nil {
		return domain.Gift{}, false, err
	}
	if !ok {
		return domain.Gift{}, false, fmt.Errorf("gift %s vanished after update", id)
	}
	return gift, true, nil
}

// AppendOpening records a gift opening event.
func (s *GormStore) AppendOpening(o domain.GiftOpening) error {
	model := openingToModel(o)
	return s.db.Create(&model).Error
}

// ListOpeningsByGift returns opening events for a gift in insertion order.
func (s *GormStore) ListOpeningsByGift(giftID string) ([]domain.GiftOpening, error) {
	var models []GiftOpeningModel
	if err := s.db.Where("gift_id = ?", giftID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.GiftOpening, 0, len(models))
	for _, m := range models {
		res = append(res, openingFromModel(m))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	}
}

func giftToModel(g domain.Gift) (GiftModel, error) {
	objects, err := json.Marshal(g.Objects)
	if err != nil {
		return GiftModel{}, fmt.Errorf("encode objects: %w", err)
	}
	var recipientID *string
	if g.RecipientID != "" {
		value := g.RecipientID
		recipientID = &value
	}
	return GiftModel{
		ID:          g.ID,
		CreatorID:   g.CreatorID,
		RecipientID: recipientID,
		Name:        g.Name,
		Prompt:      g.Prompt,
		ModelURL:    g.ModelURL,
		Objects:     objects,
		Wrapped:     g.Wrapped,
		Status:      string(g.Status),
		CreatedAt:   g.CreatedAt,
		ClaimedAt:   g.ClaimedAt,
	}, nil
}

func giftFromModel(m GiftModel) domain.Gift {
	var objects []domain.GiftObject
	if len(m.Objects) > 0 {
		_ = json.Unmarshal(m.Objects, &objects)
	}
	recipientID := ""
	if m.RecipientID != nil {
		recipientID = *m.RecipientID
	}
	return domain.Gift{
		ID:          m.ID,
		CreatorID:   m.CreatorID,
		RecipientID: recipientID,
		Name:        m.Name,
		Prompt:      m.Prompt,
		ModelURL:    m.ModelURL,
		Objects:     objects,
		Wrapped:     m.Wrapped,
		Status:      domain.GiftStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		ClaimedAt:   m.ClaimedAt,
	}
}

func openingToModel(o domain.GiftOpening) GiftOpeningModel {
	return GiftOpeningModel{
		ID:        o.ID,
		GiftID:    o.GiftID,
		OpenerID:  o.OpenerID,
		CreatedAt: o.CreatedAt,
	}
}

func openingFromModel(m GiftOpeningModel) domain.GiftOpening {
	return domain.GiftOpening{
		ID:        m.ID,
		GiftID:    m.GiftID,
		OpenerID:  m.OpenerID,
		CreatedAt: m.CreatedAt,
	}
}
