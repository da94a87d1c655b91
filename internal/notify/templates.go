package notify

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/R3E-Network/rentstream/internal/domain/rental"
)

// Addressed is a notification bound to its recipient.
type Addressed struct {
	Recipient    string
	Notification Notification
}

// BuildNotifications renders one notification per recipient of ev. Text
// differs by the recipient's role in the event.
func BuildNotifications(ev rental.Event) []Addressed {
	meta := ev.Metadata()
	base := map[string]any{
		"contract":    meta.Contract,
		"txHash":      meta.TxHash,
		"blockNumber": meta.BlockNumber,
	}

	var out []Addressed
	add := func(recipient, title, message string, extra map[string]any) {
		data := make(map[string]any, len(base)+len(extra))
		for k, v := range base {
			data[k] = v
		}
		for k, v := range extra {
			data[k] = v
		}
		out = append(out, Addressed{
			Recipient: recipient,
			Notification: Notification{
				Type:    ev.Kind(),
				Title:   title,
				Message: message,
				Data:    data,
			},
		})
	}

	switch e := ev.(type) {
	case *rental.RentalCreated:
		extra := map[string]any{
			"rentalId":  e.RentalID,
			"tokenId":   e.TokenID,
			"price":     e.Price.String(),
			"expiresAt": e.ExpiresAt,
		}
		for _, r := range e.Recipients() {
			if r == e.Tenant {
				add(r, "Rental started",
					fmt.Sprintf("You rented token %s for %s GAS until %s.", e.TokenID, formatFixed8(e.Price), e.ExpiresAt.Format("2006-01-02 15:04 MST")),
					extra)
			} else {
				add(r, "Your NFT was rented",
					fmt.Sprintf("Token %s was rented for %s GAS until %s.", e.TokenID, formatFixed8(e.Price), e.ExpiresAt.Format("2006-01-02 15:04 MST")),
					extra)
			}
		}
	case *rental.RentalCompleted:
		extra := map[string]any{"rentalId": e.RentalID, "tokenId": e.TokenID}
		for _, r := range e.Recipients() {
			if r == e.Tenant {
				add(r, "Rental completed", fmt.Sprintf("Your rental of token %s has ended.", e.TokenID), extra)
			} else {
				add(r, "Rental completed", fmt.Sprintf("Token %s has been returned to you.", e.TokenID), extra)
			}
		}
	case *rental.RentalCancelled:
		extra := map[string]any{"rentalId": e.RentalID, "reason": e.Reason}
		msg := fmt.Sprintf("Rental #%d was cancelled.", e.RentalID)
		if e.Reason != "" {
			msg = fmt.Sprintf("Rental #%d was cancelled: %s.", e.RentalID, strings.TrimSuffix(e.Reason, "."))
		}
		for _, r := range e.Recipients() {
			add(r, "Rental cancelled", msg, extra)
		}
	case *rental.FundsReleased:
		add(e.Recipient, "Funds released",
			fmt.Sprintf("%s GAS from rental #%d was released to you.", formatFixed8(e.Amount), e.RentalID),
			map[string]any{"rentalId": e.RentalID, "amount": e.Amount.String()})
	case *rental.ReputationUpdated:
		add(e.User, "Reputation updated",
			fmt.Sprintf("Your reputation score is now %s.", e.Score.String()),
			map[string]any{"score": e.Score.String()})
	case *rental.DisputeRaised:
		extra := map[string]any{"rentalId": e.RentalID, "raisedBy": e.RaisedBy, "reason": e.Reason}
		for _, r := range e.Recipients() {
			if r == e.RaisedBy {
				add(r, "Dispute opened", fmt.Sprintf("Your dispute on rental #%d was recorded.", e.RentalID), extra)
			} else {
				add(r, "Dispute raised against you", fmt.Sprintf("A dispute was raised on rental #%d: %s", e.RentalID, e.Reason), extra)
			}
		}
	case *rental.OfferReceived:
		add(e.Owner, "New offer",
			fmt.Sprintf("You received an offer of %s GAS for token %s.", formatFixed8(e.Amount), e.TokenID),
			map[string]any{"offerId": e.OfferID, "tokenId": e.TokenID, "bidder": e.Bidder, "amount": e.Amount.String()})
	}
	return out
}

var fixed8 = big.NewInt(100_000_000)

// formatFixed8 renders an amount in the 8-decimal GAS unit, trimming
// trailing zeros.
func formatFixed8(n *big.Int) string {
	if n == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Set(n)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	whole, frac := new(big.Int).QuoRem(abs, fixed8, new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	digits := frac.String()
	f := strings.TrimRight(strings.Repeat("0", 8-len(digits))+digits, "0")
	return sign + whole.String() + "." + f
}
