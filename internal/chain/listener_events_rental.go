package chain

import (
	"fmt"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
)

// =============================================================================
// Rental Marketplace Events
// =============================================================================

// Contract event names emitted by the rental marketplace.
const (
	EventRentalCreated     = "RentalCreated"
	EventRentalCompleted   = "RentalCompleted"
	EventRentalCancelled   = "RentalCancelled"
	EventFundsReleased     = "FundsReleased"
	EventReputationUpdated = "ReputationUpdated"
	EventDisputeRaised     = "DisputeRaised"
	EventOfferMade         = "OfferMade"
)

// WatchedEvents maps each watched contract event name to the domain variant
// it produces.
var WatchedEvents = map[string]rental.Kind{
	EventRentalCreated:     rental.KindRentalCreated,
	EventRentalCompleted:   rental.KindRentalCompleted,
	EventRentalCancelled:   rental.KindRentalCancelled,
	EventFundsReleased:     rental.KindFundsReleased,
	EventReputationUpdated: rental.KindReputationUpdated,
	EventDisputeRaised:     rental.KindDisputeRaised,
	EventOfferMade:         rental.KindOfferReceived,
}

// WatchedEventNames returns the set of watched event names.
func WatchedEventNames() map[string]bool {
	out := make(map[string]bool, len(WatchedEvents))
	for name := range WatchedEvents {
		out[name] = true
	}
	return out
}

// MapEvent translates a raw contract notification into a domain event.
// Unknown event names yield ErrUnknownEvent; missing or unparseable fields
// yield an error wrapping ErrMalformed.
func MapEvent(event *ContractEvent) (rental.Event, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformed)
	}

	var (
		ev  rental.Event
		err error
	)
	switch event.EventName {
	case EventRentalCreated:
		ev, err = ParseRentalCreatedEvent(event)
	case EventRentalCompleted:
		ev, err = ParseRentalCompletedEvent(event)
	case EventRentalCancelled:
		ev, err = ParseRentalCancelledEvent(event)
	case EventFundsReleased:
		ev, err = ParseFundsReleasedEvent(event)
	case EventReputationUpdated:
		ev, err = ParseReputationUpdatedEvent(event)
	case EventDisputeRaised:
		ev, err = ParseDisputeRaisedEvent(event)
	case EventOfferMade:
		ev, err = ParseOfferMadeEvent(event)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event.EventName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, event.EventName, err)
	}
	return ev, nil
}

func metaOf(event *ContractEvent) (rental.Meta, error) {
	contract, err := NormalizeHash160(event.Contract)
	if err != nil {
		return rental.Meta{}, fmt.Errorf("parse contract: %w", err)
	}
	txHash, err := NormalizeTxHash(event.TxHash)
	if err != nil {
		return rental.Meta{}, fmt.Errorf("parse container: %w", err)
	}
	return rental.Meta{
		Contract:    contract,
		TxHash:      txHash,
		BlockNumber: event.BlockIndex,
		ObservedAt:  event.ObservedAt,
	}, nil
}

func checkState(event *ContractEvent, name string, want int) error {
	if event.EventName != name {
		return fmt.Errorf("not a %s event", name)
	}
	if len(event.State) < want {
		return fmt.Errorf("invalid event state: expected %d items, got %d", want, len(event.State))
	}
	return nil
}

func parseContractHash(item StackItem) (string, error) {
	u, err := ParseHash160(item)
	if err != nil {
		return "", err
	}
	return "0x" + u.StringLE(), nil
}

// ParseRentalCreatedEvent parses a RentalCreated event.
// Event: RentalCreated(rentalId, nftContract, tokenId, lender, tenant, price, startsAt, expiresAt)
func ParseRentalCreatedEvent(event *ContractEvent) (*rental.RentalCreated, error) {
	if err := checkState(event, EventRentalCreated, 8); err != nil {
		return nil, err
	}
	meta, err := metaOf(event)
	if err != nil {
		return nil, err
	}

	rentalID, err := ParseUint64(event.State[0])
	if err != nil {
		return nil, fmt.Errorf("parse rentalId: %w", err)
	}
	nftContract, err := parseContractHash(event.State[1])
	if err != nil {
		return nil, fmt.Errorf("parse nftContract: %w", err)
	}
	tokenID, err := ParseTokenID(event.State[2])
	if err != nil {
		return nil, fmt.Errorf("parse tokenId: %w", err)
	}
	lender, err := ParseAddress(event.State[3])
	if err != nil {
		return nil, fmt.Errorf("parse lender: %w", err)
	}
	tenant, err := ParseAddress(event.State[4])
	if err != nil {
		return nil, fmt.Errorf("parse tenant: %w", err)
	}
	price, err := ParseAmount(event.State[5])
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	startsAt, err := ParseTimestampMillis(event.State[6])
	if err != nil {
		return nil, fmt.Errorf("parse startsAt: %w", err)
	}
	expiresAt, err := ParseTimestampMillis(event.State[7])
	if err != nil {
		return nil, fmt.Errorf("parse expiresAt: %w", err)
	}
	if expiresAt.Before(startsAt) {
		return nil, fmt.Errorf("expiresAt %s before startsAt %s", expiresAt, startsAt)
	}

	return &rental.RentalCreated{
		Meta:        meta,
		RentalID:    rentalID,
		NFTContract: nftContract,
		TokenID:     tokenID,
		Lender:      lender,
		Tenant:      tenant,
		Price:       price,
		StartsAt:    startsAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// ParseRentalCompletedEvent parses a RentalCompleted event.
// Event: RentalCompleted(rentalId, nftContract, tokenId, lender, tenant)
func ParseRentalCompletedEvent(event *ContractEvent) (*rental.RentalCompleted, error) {
	if err := checkState(event, EventRentalCompleted, 5); err != nil {
		return nil, err
	}
	meta, err := metaOf(event)
	if err != nil {
		return nil, err
	}

	rentalID, err := ParseUint64(event.State[0])
	if err != nil {
		return nil, fmt.Errorf("parse rentalId: %w", err)
	}
	nftContract, err := parseContractHash(event.State[1])
	if err != nil {
		return nil, fmt.Errorf("parse nftContract: %w", err)
	}
	tokenID, err := ParseTokenID(event.State[2])
	if err != nil {
		return nil, fmt.Errorf("parse tokenId: %w", err)
	}
	lender, err := ParseAddress(event.State[3])
	if err != nil {
		return nil, fmt.Errorf("parse lender: %w", err)
	}
	tenant, err := ParseAddress(event.State[4])
	if err != nil {
		return nil, fmt.Errorf("parse tenant: %w", err)
	}

	return &rental.RentalCompleted{
		Meta:        meta,
		RentalID:    rentalID,
		NFTContract: nftContract,
		TokenID:     tokenID,
		Lender:      lender,
		Tenant:      tenant,
	}, nil
}

// ParseRentalCancelledEvent parses a RentalCancelled event. The reason is
// optional.
// Event: RentalCancelled(rentalId, lender, tenant[, reason])
func ParseRentalCancelledEvent(event *ContractEvent) (*rental.RentalCancelled, error) {
	if err := checkState(event, EventRentalCancelled, 3); err != nil {
		return nil, err
	}
	meta, err := metaOf(event)
	if err != nil {
		return nil, err
	}

	rentalID, err := ParseUint64(event.State[0])
	if err != nil {
		return nil, fmt.Errorf("parse rentalId: %w", err)
	}
	lender, err := ParseAddress(event.State[1])
	if err != nil {
		return nil, fmt.Errorf("parse lender: %w", err)
	}
	tenant, err := ParseAddress(event.State[2])
	if err != nil {
		return nil, fmt.Errorf("parse tenant: %w", err)
	}
	var reason string
	if len(event.State) > 3 {
		if reason, err = ParseStringFromItem(event.State[3]); err != nil {
			return nil, fmt.Errorf("parse reason: %w", err)
		}
	}

	return &rental.RentalCancelled{
		Meta:     meta,
		RentalID: rentalID,
		Lender:   lender,
		Tenant:   tenant,
		Reason:   reason,
	}, nil
}

// ParseFundsReleasedEvent parses a FundsReleased event.
// Event: FundsReleased(rentalId, recipient, amount)
func ParseFundsReleasedEvent(event *ContractEvent) (*rental.FundsReleased, error) {
	if err := checkState(event, EventFundsReleased, 3); err != nil {
		return nil, err
	}
	meta, err := metaOf(event)
	if err != nil {
		return nil, err
	}

	rentalID, err := ParseUint64(event.State[0])
	if err != nil {
		return nil, fmt.Errorf("parse rentalId: %w", err)
	}
	recipient, err := ParseAddress(event.State[1])
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	amount, err := ParseAmount(event.State[2])
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	return &rental.FundsReleased{
		Meta:      meta,
		RentalID:  rentalID,
		Recipient: recipient,
		Amount:    amount,
	}, nil
}

// ParseReputationUpdatedEvent parses a ReputationUpdated event.
// Event: ReputationUpdated(user, score)
func ParseReputationUpdatedEvent(event *ContractEvent) (*rental.ReputationUpdated, error) {
	if err := checkState(event, EventReputationUpdated, 2); err != nil {
		return nil, err
	}
	meta, err := metaOf(event)
	if err != nil {
		return nil, err
	}

	user, err := ParseAddress(event.State[0])
	if err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	score, err := ParseInteger(event.State[1])
	if err != nil {
		return nil, fmt.Errorf("parse score: %w", err)
	}

	return &rental.ReputationUpdated{
		Meta:  meta,
		User:  user,
		Score: score,
	}, nil
}

// ParseDisputeRaisedEvent parses a DisputeRaised event.
// Event: DisputeRaised(rentalId, raisedBy, counterparty, reason)
func ParseDisputeRaisedEvent(event *ContractEvent) (*rental.DisputeRaised, error) {
	if err := checkState(event, EventDisputeRaised, 4); err != nil {
		return nil, err
	}
	meta, err := metaOf(event)
	if err != nil {
		return nil, err
	}

	rentalID, err := ParseUint64(event.State[0])
	if err != nil {
		return nil, fmt.Errorf("parse rentalId: %w", err)
	}
	raisedBy, err := ParseAddress(event.State[1])
	if err != nil {
		return nil, fmt.Errorf("parse raisedBy: %w", err)
	}
	counterparty, err := ParseAddress(event.State[2])
	if err != nil {
		return nil, fmt.Errorf("parse counterparty: %w", err)
	}
	reason, err := ParseStringFromItem(event.State[3])
	if err != nil {
		return nil, fmt.Errorf("parse reason: %w", err)
	}

	return &rental.DisputeRaised{
		Meta:         meta,
		RentalID:     rentalID,
		RaisedBy:     raisedBy,
		Counterparty: counterparty,
		Reason:       reason,
	}, nil
}

// ParseOfferMadeEvent parses an OfferMade event.
// Event: OfferMade(offerId, nftContract, tokenId, owner, bidder, amount)
func ParseOfferMadeEvent(event *ContractEvent) (*rental.OfferReceived, error) {
	if err := checkState(event, EventOfferMade, 6); err != nil {
		return nil, err
	}
	meta, err := metaOf(event)
	if err != nil {
		return nil, err
	}

	offerID, err := ParseUint64(event.State[0])
	if err != nil {
		return nil, fmt.Errorf("parse offerId: %w", err)
	}
	nftContract, err := parseContractHash(event.State[1])
	if err != nil {
		return nil, fmt.Errorf("parse nftContract: %w", err)
	}
	tokenID, err := ParseTokenID(event.State[2])
	if err != nil {
		return nil, fmt.Errorf("parse tokenId: %w", err)
	}
	owner, err := ParseAddress(event.State[3])
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	bidder, err := ParseAddress(event.State[4])
	if err != nil {
		return nil, fmt.Errorf("parse bidder: %w", err)
	}
	amount, err := ParseAmount(event.State[5])
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	return &rental.OfferReceived{
		Meta:        meta,
		OfferID:     offerID,
		NFTContract: nftContract,
		TokenID:     tokenID,
		Owner:       owner,
		Bidder:      bidder,
		Amount:      amount,
	}, nil
}
