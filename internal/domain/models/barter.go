package models

import "time"

type BarterStatus string

const (
	BarterPending  BarterStatus = "pending"
	BarterApproved BarterStatus = "approved"
	BarterDeclined BarterStatus = "declined"
)

// Terminal reports whether no further transition is allowed from s.
func (s BarterStatus) Terminal() bool {
	return s == BarterApproved || s == BarterDeclined
}

type Barter struct {
	ID                 string       `json:"id"`
	ProductOfferedID   string       `json:"productOfferedId"`
	ProductRequestedID string       `json:"productRequestedId"`
	OfferedBy          string       `json:"offeredBy"`
	RequestedFrom      string       `json:"requestedFrom"`
	Status             BarterStatus `json:"status"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// BarterDetails is a barter with its references expanded.
type BarterDetails struct {
	ID               string       `json:"id"`
	ProductOffered   ItemSummary  `json:"productOfferedId"`
	ProductRequested ItemSummary  `json:"productRequestedId"`
	OfferedBy        UserSummary  `json:"offeredBy"`
	RequestedFrom    UserSummary  `json:"requestedFrom"`
	Status           BarterStatus `json:"status"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Barter strips the populated references back to ids.
func (d *BarterDetails) Barter() Barter {
	return Barter{
		ID:                 d.ID,
		ProductOfferedID:   d.ProductOffered.ID,
		ProductRequestedID: d.ProductRequested.ID,
		OfferedBy:          d.OfferedBy.ID,
		RequestedFrom:      d.RequestedFrom.ID,
		Status:             d.Status,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}
