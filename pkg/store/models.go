// Package store provides the gorm-backed persistence for Grantly's users,
// groups, grants and API credentials
package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/grantly/grantly/pkg/types"
)

// User represents a user row
type User struct {
	UserID        string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	Username      string    `gorm:"uniqueIndex;not null" json:"username"`
	Email         string    `gorm:"index" json:"email,omitempty"`
	Password      string    `gorm:"not null" json:"-"`
	Status        int       `gorm:"not null;default:1" json:"status"`
	GroupID       string    `gorm:"type:varchar(36)" json:"group_id,omitempty"`
	Token         string    `gorm:"index" json:"-"`
	LastSignin    time.Time `json:"last_signin,omitempty"`
	LastPwChange  time.Time `json:"last_pw_change,omitempty"`
	ActivationKey string    `json:"-"`
	IP            string    `json:"ip,omitempty"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

// BeforeCreate hook for User model
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UserID == "" {
		u.UserID = uuid.New().String()
	}
	return nil
}

// Record converts the row to the shared UserRecord type
func (u *User) Record() *types.UserRecord {
	return &types.UserRecord{
		UserID:        u.UserID,
		Username:      u.Username,
		Email:         u.Email,
		Password:      u.Password,
		Status:        types.UserStatus(u.Status),
		GroupID:       u.GroupID,
		Token:         u.Token,
		LastSignin:    u.LastSignin,
		LastPwChange:  u.LastPwChange,
		ActivationKey: u.ActivationKey,
		IP:            u.IP,
	}
}

// Group represents a group (role) and its grant rules as a JSON document
// of the form {"include": [...], "exclude": [...]}
type Group struct {
	GroupID   string    `gorm:"primaryKey;type:varchar(36)" json:"group_id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	Grants    string    `gorm:"type:text" json:"grants"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// BeforeCreate hook for Group model
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.GroupID == "" {
		g.GroupID = uuid.New().String()
	}
	return nil
}

// UserGroup is the many-to-many membership row
type UserGroup struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)"`
	GroupID   string    `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `gorm:"not null"`
}

// UserGrant stores one user's individual grant overrides as a JSON
// document mirroring the Group.Grants shape
type UserGrant struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	Grants    string    `gorm:"type:text" json:"grants"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// APICredential represents an API key row with its validation gates
type APICredential struct {
	APIKey           string    `gorm:"primaryKey" json:"api_key"`
	APISecret        string    `json:"-"`
	UserID           string    `gorm:"not null;type:varchar(36);index" json:"user_id"`
	Status           int       `gorm:"not null;default:1" json:"status"`
	RequireSignature bool      `gorm:"not null;default:false" json:"require_signature"`
	AllowedIPs       string    `json:"allowed_ips,omitempty"` // comma separated
	HeaderKey        string    `json:"header_key,omitempty"`
	HeaderValue      string    `json:"header_value,omitempty"`
	HTTPSOnly        bool      `gorm:"not null;default:false" json:"https_only"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

// Credential converts the row to the shared APICredential type
func (c *APICredential) Credential() *types.APICredential {
	var ips []string
	if c.AllowedIPs != "" {
		for _, ip := range strings.Split(c.AllowedIPs, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	return &types.APICredential{
		APIKey:           c.APIKey,
		APISecret:        c.APISecret,
		UserID:           c.UserID,
		Status:           types.UserStatus(c.Status),
		RequireSignature: c.RequireSignature,
		AllowedIPs:       ips,
		HeaderKey:        c.HeaderKey,
		HeaderValue:      c.HeaderValue,
		HTTPSOnly:        c.HTTPSOnly,
	}
}
