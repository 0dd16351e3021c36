package models

import "time"

// UsageRecord is one user's counter for one KST day.
type UsageRecord struct {
	Email     string     `json:"email"`
	Date      string     `json:"date"`
	Count     int        `json:"count"`
	LastReset *time.Time `json:"lastReset,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// UsageStatus is the quota view returned by checks and increments.
type UsageStatus struct {
	Email     string `json:"email"`
	Allowed   bool   `json:"allowed"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	ResetTime string `json:"resetTime"`
}

type UserUsage struct {
	Usage   UsageStatus   `json:"usage"`
	History []UsageRecord `json:"history"`
}
