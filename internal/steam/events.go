package steam

import "errors"

// ErrRateLimited is returned by clients when the platform throttles us.
// Login backoff switches to the exponential ladder on this error.
var ErrRateLimited = errors.New("rate limited by trading platform")

// OfferState 外部报价的状态
type OfferState string

const (
	OfferActive        OfferState = "Active"
	OfferAccepted      OfferState = "Accepted"
	OfferDeclined      OfferState = "Declined"
	OfferCanceled      OfferState = "Canceled"
	OfferExpired       OfferState = "Expired"
	OfferInvalidItems  OfferState = "InvalidItems"
	OfferCanceledBy2FA OfferState = "CanceledBySecondFactor"
)

// Failure reports whether the state terminates the offer without
// the items changing hands.
func (s OfferState) Failure() bool {
	switch s {
	case OfferDeclined, OfferCanceled, OfferExpired, OfferInvalidItems, OfferCanceledBy2FA:
		return true
	}
	return false
}

// OfferEvent 外部平台推送的报价状态变化
type OfferEvent struct {
	OfferID  string     `json:"offer_id"`
	BotID    string     `json:"bot_id"`
	OldState OfferState `json:"old_state"`
	NewState OfferState `json:"new_state"`
}
