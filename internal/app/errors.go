package app

import "errors"

// Input limits enforced before any persistence call.
const (
	MaxNameLength     = 200
	MaxPromptLength   = 500
	MaxEmailLength    = 255
	MaxModelURLLength = 2000
	MaxObjects        = 50

	MinTextureSize      = 128
	MaxTextureSize      = 1024
	MinDecimationTarget = 10_000
	MaxDecimationTarget = 500_000
)

// Validation failures. Rejected before touching any collaborator.
var (
	ErrInvalidUserID    = errors.New("invalid user ID format")
	ErrInvalidGiftID    = errors.New("invalid gift ID format")
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrPromptRequired   = errors.New("prompt is required")
	ErrNameRequired     = errors.New("name is required")
	ErrModelRequired    = errors.New("a model URL or at least one object is required")
	ErrModelURLTooLong  = errors.New("model URL too long")
	ErrTooManyObjects   = errors.New("too many objects")
	ErrTextureSizeRange = errors.New("texture size out of range")
	ErrDecimationRange  = errors.New("decimation target out of range")
	ErrNotTempObject    = errors.New("can only delete temporary files")
)

var (
	// ErrGiftUnavailable covers both "already claimed" and "not in the
	// pool": callers get one uniform answer when they lose the claim race.
	ErrGiftUnavailable = errors.New("gift is no longer available")

	// ErrSelfClaim is returned when a user tries to claim their own gift.
	ErrSelfClaim = errors.New("cannot claim your own gift")

	ErrGiftNotFound = errors.New("gift not found")
	ErrUserNotFound = errors.New("user not found")

	// ErrNotRecipient deliberately reads the same for "absent" and "not
	// yours" so non-owners cannot probe for gift existence.
	ErrNotRecipient = errors.New("gift not found or not yours to open")
)

// IsValidation reports whether the error is an input validation failure.
func IsValidation(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidUserID, ErrInvalidGiftID, ErrInvalidEmail,
		ErrPromptRequired, ErrNameRequired, ErrModelRequired,
		ErrModelURLTooLong, ErrTooManyObjects,
		ErrTextureSizeRange, ErrDecimationRange, ErrNotTempObject,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
