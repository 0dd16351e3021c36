package models

import "time"

type DailyStat struct {
	Date          string  `json:"date"`
	TotalSearches int     `json:"totalSearches"`
	UniqueUsers   int     `json:"uniqueUsers"`
	AvgPerUser    float64 `json:"avgPerUser"`
}

type UserCounts struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
	Banned   int64 `json:"banned"`
	Online   int64 `json:"online"`
}

type TopUser struct {
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	TotalUsage int    `json:"totalUsage"`
	DailyLimit int    `json:"dailyLimit"`
	Days       int    `json:"days"`
}

// QuotaDistribution buckets users by today's used/dailyLimit ratio.
type QuotaDistribution struct {
	VeryLow int `json:"veryLow"`
	Low     int `json:"low"`
	Medium  int `json:"medium"`
	High    int `json:"high"`
}

type QuotaSummary struct {
	Distribution    QuotaDistribution `json:"distribution"`
	TotalRemaining  int               `json:"totalRemaining"`
	AvgDailyLimit   float64           `json:"avgDailyLimit"`
	UsersConsidered int               `json:"usersConsidered"`
}

// QuotaSnapshot is the minimal per-user input to the quota histogram.
type QuotaSnapshot struct {
	Email      string
	DailyLimit int
	Used       int
}

type StatsWindow struct {
	Start string `json:"startDate"`
	End   string `json:"endDate"`
	Days  int    `json:"days"`
}

type Stats struct {
	Window      StatsWindow  `json:"window"`
	Today       DailyStat    `json:"today"`
	Daily       []DailyStat  `json:"daily"`
	Users       UserCounts   `json:"users"`
	TopUsers    []TopUser    `json:"topUsers"`
	Quota       QuotaSummary `json:"quota"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

type StatsQuery struct {
	Period    string
	StartDate string
	EndDate   string
	Top       int
}
