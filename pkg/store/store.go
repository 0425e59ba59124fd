package store

import (
	"time"

	"giftpool/pkg/domain"
)

// Store defines persistence operations for users, gifts, and openings.
//
// ClaimGift and OpenGift are conditional writes: they mutate the row only
// when its current state matches the transition's precondition and report
// ok=false otherwise. Concurrent claims on one gift must yield exactly one
// ok=true.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// gifts
	SaveGift(domain.Gift) error
	GetGift(id string) (domain.Gift, bool, error)
	ListGiftsByCreator(creatorID string) ([]domain.Gift, error)
	ListGiftsByRecipient(recipientID string) ([]domain.Gift, error)
	ListPoolGifts(excludeCreatorID string) ([]domain.Gift, error)
	ClaimGift(id, recipientID string, claimedAt time.Time) (domain.Gift, bool, error)
	OpenGift(id, recipientID string) (domain.Gift, bool, error)

	// openings (append-only)
	AppendOpening(domain.GiftOpening) error
	ListOpeningsByGift(giftID string) ([]domain.GiftOpening, error)
}
