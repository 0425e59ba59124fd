package domain

import "time"

type GiftStatus string

const (
	StatusInPool  GiftStatus = "in_pool"
	StatusClaimed GiftStatus = "claimed"
	StatusOpened  GiftStatus = "opened"
)

// Vec3 is an x/y/z triple used for object placement.
type Vec3 [3]float64

// IsZero reports whether all components are zero, i.e. the value was left
// unset by the client.
func (v Vec3) IsZero() bool {
	return v == Vec3{}
}

// GiftObject is one placed model inside a gift scene. The first object is
// always the primary model the gift was wrapped around.
type GiftObject struct {
	URL      string `json:"url"`
	Format   string `json:"format,omitempty"`
	Position Vec3   `json:"position"`
	Rotation Vec3   `json:"rotation"`
	Scale    Vec3   `json:"scale"`
}

// DefaultPlacement returns the placement applied to a primary model when the
// wrapper did not position it explicitly.
func DefaultPlacement(url, format string) GiftObject {
	return GiftObject{
		URL:      url,
		Format:   format,
		Position: Vec3{0, 0.5, 0},
		Rotation: Vec3{0, 0, 0},
		Scale:    Vec3{1, 1, 1},
	}
}

type Gift struct {
	ID          string       `json:"id"`
	CreatorID   string       `json:"creatorId"`
	RecipientID string       `json:"recipientId,omitempty"`
	Name        string       `json:"name"`
	Prompt      string       `json:"prompt,omitempty"`
	ModelURL    string       `json:"modelUrl,omitempty"`
	Objects     []GiftObject `json:"objects"`
	Wrapped     bool         `json:"wrapped"`
	Status      GiftStatus   `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	ClaimedAt   *time.Time   `json:"claimedAt,omitempty"`

	// CreatorEmail is resolved at read time for pool presentation and is
	// never persisted on the gift row.
	CreatorEmail string `json:"creatorEmail,omitempty"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// GiftOpening is an append-only audit record of a gift being claimed.
type GiftOpening struct {
	ID        string    `json:"id"`
	GiftID    string    `json:"giftId"`
	OpenerID  string    `json:"openerId"`
	CreatedAt time.Time `json:"createdAt"`
}
