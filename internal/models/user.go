package models

import "time"

const DefaultAbout = "Hey there!"

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
	UserBanned   UserStatus = "banned"
)

type Settings struct {
	ReadReceipts bool `bson:"read_receipts" json:"readReceipts"`
}

// Contact maps a phone number to the owner's display name for it.
type Contact struct {
	Phone string `bson:"phone" json:"phone"`
	Name  string `bson:"name" json:"name"`
}

type User struct {
	ID         string     `bson:"_id" json:"id"`
	Phone      string     `bson:"phone" json:"phone"`
	Name       string     `bson:"name" json:"name"`
	ProfilePic string     `bson:"profile_pic" json:"profilePic"`
	About      string     `bson:"about" json:"about"`
	IsOnline   bool       `bson:"is_online" json:"isOnline"`
	LastSeen   time.Time  `bson:"last_seen" json:"lastSeen"`
	Settings   Settings   `bson:"settings" json:"settings"`
	Status     UserStatus `bson:"status" json:"status"`
	Contacts   []Contact  `bson:"contacts" json:"contacts"`
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updatedAt"`
}

// ContactName returns the display name the user saved for phone, if any.
func (u *User) ContactName(phone string) (string, bool) {
	for _, c := range u.Contacts {
		if c.Phone == phone {
			return c.Name, true
		}
	}
	return "", false
}

// ProfileUpdate carries the optional profile fields; nil means unchanged.
type ProfileUpdate struct {
	Name       *string
	About      *string
	ProfilePic *string
}

// PublicUser is what other users get to see.
type PublicUser struct {
	ID         string    `json:"id"`
	Phone      string    `json:"phone"`
	Name       string    `json:"name"`
	ProfilePic string    `json:"profilePic"`
	About      string    `json:"about"`
	IsOnline   bool      `json:"isOnline"`
	LastSeen   time.Time `json:"lastSeen"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Phone:      u.Phone,
		Name:       u.Name,
		ProfilePic: u.ProfilePic,
		About:      u.About,
		IsOnline:   u.IsOnline,
		LastSeen:   u.LastSeen,
		CreatedAt:  u.CreatedAt,
	}
}
