package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	Price           decimal.Decimal
	DurationMinutes int
	CreatedAt       time.Time
}

type Staff struct {
	ID         string
	BusinessID string
	Name       string
	Phone      string
	AvatarURL  string
	IsActive   bool
}

type BlockedInterval struct {
	ID         string
	BusinessID string
	Date       time.Time
	StartTime  string
	EndTime    string
	Reason     string
}

type WaitingListEntry struct {
	ID          string
	BusinessID  string
	ClientName  string
	ClientPhone string
	Date        time.Time
	ServiceID   string
	CreatedAt   time.Time
}

type BusinessProfile struct {
	BusinessID    string
	Name          string
	Timezone      string
	BufferMinutes int
	WhatsAppPhone string
}

// Location resolves the profile's IANA timezone, falling back to UTC.
func (p BusinessProfile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
