package domain

import (
	"fmt"
	"strings"
)

// MarketStatus represents the lifecycle state of a market. Markets are never
// deleted; they move out of Active instead.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "Active"
	MarketStatusClosed    MarketStatus = "Closed"
	MarketStatusResolved  MarketStatus = "Resolved"
	MarketStatusCancelled MarketStatus = "Cancelled"
)

// ParseMarketStatus maps a case-insensitive status string to a MarketStatus.
func ParseMarketStatus(s string) (MarketStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return MarketStatusActive, nil
	case "closed":
		return MarketStatusClosed, nil
	case "resolved":
		return MarketStatusResolved, nil
	case "cancelled", "canceled":
		return MarketStatusCancelled, nil
	}
	return "", fmt.Errorf("unknown market status %q", s)
}

// Market is a binary prediction market as observed by the client.
//
// CurrentPrice is a percentage in [0,100]. It is stored as delivered by the
// source and never recomputed from the share totals.
type Market struct {
	ID             int64        `json:"id"`
	Question       string       `json:"question"`
	Description    string       `json:"description"`
	Creator        string       `json:"creator"`
	EndTime        int64        `json:"endTime"`
	CreatedAt      int64        `json:"createdAt"`
	TotalYesShares float64      `json:"totalYesShares"`
	TotalNoShares  float64      `json:"totalNoShares"`
	TotalVolume    float64      `json:"totalVolume"`
	Resolved       bool         `json:"resolved"`
	Outcome        bool         `json:"outcome"`
	Status         MarketStatus `json:"status"`
	CurrentPrice   float64      `json:"currentPrice"`
}

// MarketPatch is a partial market update. Nil fields are left untouched.
type MarketPatch struct {
	Question       *string
	Description    *string
	Creator        *string
	EndTime        *int64
	CreatedAt      *int64
	TotalYesShares *float64
	TotalNoShares  *float64
	TotalVolume    *float64
	Resolved       *bool
	Outcome        *bool
	Status         *MarketStatus
	CurrentPrice   *float64
}

// Empty reports whether the patch carries no fields.
func (p MarketPatch) Empty() bool {
	return p == MarketPatch{}
}

// Apply returns m with every non-nil field of p merged in.
func (p MarketPatch) Apply(m Market) Market {
	if p.Question != nil {
		m.Question = *p.Question
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Creator != nil {
		m.Creator = *p.Creator
	}
	if p.EndTime != nil {
		m.EndTime = *p.EndTime
	}
	if p.CreatedAt != nil {
		m.CreatedAt = *p.CreatedAt
	}
	if p.TotalYesShares != nil {
		m.TotalYesShares = *p.TotalYesShares
	}
	if p.TotalNoShares != nil {
		m.TotalNoShares = *p.TotalNoShares
	}
	if p.TotalVolume != nil {
		m.TotalVolume = *p.TotalVolume
	}
	if p.Resolved != nil {
		m.Resolved = *p.Resolved
	}
	if p.Outcome != nil {
		m.Outcome = *p.Outcome
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.CurrentPrice != nil {
		m.CurrentPrice = *p.CurrentPrice
	}
	return m
}
