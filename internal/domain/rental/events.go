// Package rental defines the typed domain events emitted by the rental
// marketplace contract. Values are produced by the chain event mapper after
// validation and are treated as read-only by every consumer.
package rental

import (
	"math/big"
	"time"
)

// Kind tags a domain event variant. It doubles as the publish topic.
type Kind string

const (
	KindRentalCreated     Kind = "rental_created"
	KindRentalCompleted   Kind = "rental_completed"
	KindRentalCancelled   Kind = "rental_cancelled"
	KindFundsReleased     Kind = "funds_released"
	KindReputationUpdated Kind = "reputation_updated"
	KindDisputeRaised     Kind = "dispute_raised"
	KindOfferReceived     Kind = "offer_received"
)

// Kinds lists every variant in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindRentalCreated,
		KindRentalCompleted,
		KindRentalCancelled,
		KindFundsReleased,
		KindReputationUpdated,
		KindDisputeRaised,
		KindOfferReceived,
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Valid reports whether k is a known variant.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Meta is the provenance shared by every event.
type Meta struct {
	Contract    string    `json:"contract"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint32    `json:"blockNumber"`
	ObservedAt  time.Time `json:"observedAt"`
}

// Event is the tagged union over the variants below.
type Event interface {
	Kind() Kind
	Metadata() Meta
	// Recipients returns the distinct addresses the event concerns.
	Recipients() []string
}

// RentalCreated is emitted when a tenant starts renting an NFT.
type RentalCreated struct {
	Meta
	RentalID    uint64    `json:"rentalId"`
	NFTContract string    `json:"nftContract"`
	TokenID     string    `json:"tokenId"`
	Lender      string    `json:"lender"`
	Tenant      string    `json:"tenant"`
	Price       *big.Int  `json:"price"`
	StartsAt    time.Time `json:"startsAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (e *RentalCreated) Kind() Kind           { return KindRentalCreated }
func (e *RentalCreated) Metadata() Meta       { return e.Meta }
func (e *RentalCreated) Recipients() []string { return distinct(e.Tenant, e.Lender) }

// Duration is the rental period.
func (e *RentalCreated) Duration() time.Duration {
	return e.ExpiresAt.Sub(e.StartsAt)
}

// RentalCompleted is emitted when a rental reaches its expiry and the NFT
// returns to the lender.
type RentalCompleted struct {
	Meta
	RentalID    uint64 `json:"rentalId"`
	NFTContract string `json:"nftContract"`
	TokenID     string `json:"tokenId"`
	Lender      string `json:"lender"`
	Tenant      string `json:"tenant"`
}

func (e *RentalCompleted) Kind() Kind           { return KindRentalCompleted }
func (e *RentalCompleted) Metadata() Meta       { return e.Meta }
func (e *RentalCompleted) Recipients() []string { return distinct(e.Tenant, e.Lender) }

// RentalCancelled is emitted when a rental is terminated early.
type RentalCancelled struct {
	Meta
	RentalID uint64 `json:"rentalId"`
	Lender   string `json:"lender"`
	Tenant   string `json:"tenant"`
	Reason   string `json:"reason,omitempty"`
}

func (e *RentalCancelled) Kind() Kind           { return KindRentalCancelled }
func (e *RentalCancelled) Metadata() Meta       { return e.Meta }
func (e *RentalCancelled) Recipients() []string { return distinct(e.Tenant, e.Lender) }

// FundsReleased is emitted when streamed rent is paid out.
type FundsReleased struct {
	Meta
	RentalID  uint64   `json:"rentalId"`
	Recipient string   `json:"recipient"`
	Amount    *big.Int `json:"amount"`
}

func (e *FundsReleased) Kind() Kind           { return KindFundsReleased }
func (e *FundsReleased) Metadata() Meta       { return e.Meta }
func (e *FundsReleased) Recipients() []string { return distinct(e.Recipient) }

// ReputationUpdated is emitted when a user's reputation score changes.
type ReputationUpdated struct {
	Meta
	User  string   `json:"user"`
	Score *big.Int `json:"score"`
}

func (e *ReputationUpdated) Kind() Kind           { return KindReputationUpdated }
func (e *ReputationUpdated) Metadata() Meta       { return e.Meta }
func (e *ReputationUpdated) Recipients() []string { return distinct(e.User) }

// DisputeRaised is emitted when either party opens a dispute.
type DisputeRaised struct {
	Meta
	RentalID     uint64 `json:"rentalId"`
	RaisedBy     string `json:"raisedBy"`
	Counterparty string `json:"counterparty"`
	Reason       string `json:"reason,omitempty"`
}

func (e *DisputeRaised) Kind() Kind           { return KindDisputeRaised }
func (e *DisputeRaised) Metadata() Meta       { return e.Meta }
func (e *DisputeRaised) Recipients() []string { return distinct(e.RaisedBy, e.Counterparty) }

// OfferReceived is emitted when a bidder makes an offer on a listed NFT.
type OfferReceived struct {
	Meta
	OfferID     uint64   `json:"offerId"`
	NFTContract string   `json:"nftContract"`
	TokenID     string   `json:"tokenId"`
	Owner       string   `json:"owner"`
	Bidder      string   `json:"bidder"`
	Amount      *big.Int `json:"amount"`
}

func (e *OfferReceived) Kind() Kind           { return KindOfferReceived }
func (e *OfferReceived) Metadata() Meta       { return e.Meta }
func (e *OfferReceived) Recipients() []string { return distinct(e.Owner) }

func distinct(addrs ...string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == a {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, a)
		}
	}
	return out
}
