package domain

import "time"

// EventSchemaVersion is stamped on every broadcast envelope and settlement
// result. Bump it on any incompatible payload change.
const EventSchemaVersion = 1

// EventType names a broadcast event.
type EventType string

const (
	EventRoundOpened       EventType = "roundOpened"
	EventRoundStateChanged EventType = "roundStateChanged"
	EventRoundTick         EventType = "roundTick"
	EventRoundSettled      EventType = "roundSettled"
	EventBetPlaced         EventType = "betPlaced"
	EventBetCancelled      EventType = "betCancelled"
	EventBetSettled        EventType = "betSettled"
	EventWalletUpdated     EventType = "walletUpdated"
)

// Envelope wraps every payload published to clients.
type Envelope struct {
	V       int       `json:"v"`
	Type    EventType `json:"type"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

// RoundPayload accompanies roundOpened and roundStateChanged.
type RoundPayload struct {
	RoundID     string     `json:"roundId"`
	RoundNumber int64      `json:"roundNumber"`
	Class       string     `json:"class"`
	State       RoundState `json:"state"`
	OpenedAt    time.Time  `json:"openedAt"`
	FreezeAt    time.Time  `json:"freezeAt"`
	ClosesAt    time.Time  `json:"closesAt"`
}

// TickPayload is the countdown heartbeat for one class.
type TickPayload struct {
	RoundID          string     `json:"roundId"`
	RoundNumber      int64      `json:"roundNumber"`
	Class            string     `json:"class"`
	State            RoundState `json:"state"`
	SecondsRemaining int64      `json:"secondsRemaining"`
}

// BetTotalPayload accompanies betPlaced and betCancelled.
type BetTotalPayload struct {
	RoundID  string `json:"roundId"`
	Market   Market `json:"market"`
	Side     Side   `json:"side"`
	NewTotal int64  `json:"newTotal"`
}

// WalletPayload is delivered on the owning user's private channel only.
type WalletPayload struct {
	Mode      WalletMode `json:"mode"`
	Available int64      `json:"available"`
	Held      int64      `json:"held"`
}

// BetSettledPayload tells a user how one of their bets resolved.
type BetSettledPayload struct {
	BetID   string    `json:"betId"`
	RoundID string    `json:"roundId"`
	Status  BetStatus `json:"status"`
	Payout  int64     `json:"payout"`
}

// UserPayout is one user's aggregate outcome in a round and mode.
type UserPayout struct {
	UserID string     `json:"userId"`
	Mode   WalletMode `json:"mode"`
	Staked int64      `json:"staked"`
	Payout int64      `json:"payout"`
	Delta  int64      `json:"delta"`
}

// SettlementResult is produced once by settlement and consumed verbatim by
// the broadcaster, the history API and the archive.
type SettlementResult struct {
	SchemaVersion       int          `json:"schemaVersion"`
	RoundID             string       `json:"roundId"`
	RoundNumber         int64        `json:"roundNumber"`
	Class               string       `json:"class"`
	OuterWinner         Side         `json:"outerWinner,omitempty"`
	MiddleWinner        Side         `json:"middleWinner,omitempty"`
	InnerWinner         Side         `json:"innerWinner,omitempty"`
	IndecisionTriggered bool         `json:"indecisionTriggered"`
	Totals              MarketTotals `json:"totals"`
	Payouts             []UserPayout `json:"payouts"`
	SettledAt           time.Time    `json:"settledAt"`
}
