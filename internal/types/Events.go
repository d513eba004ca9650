/*

Observable side effects of vault and router operations. Every event carries
the economically relevant amounts and addresses so an off-chain auditor can
reconstruct the ledger history from the journal alone.

*/

package types

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Event is an observable side effect emitted by the vault or the router.
type Event interface {
	// Kind returns a stable identifier for the event type.
	Kind() string
}

// EventSink receives emitted events. Implementations must not call back into
// the emitting component.
type EventSink interface {
	Record(event Event)
}

// Vault events.

type DepositEvent struct {
	Sender   Address     `json:"sender"`
	Receiver Address     `json:"receiver"`
	Assets   sdkmath.Int `json:"assets"`
	Shares   sdkmath.Int `json:"shares"`
}

func (DepositEvent) Kind() string { return "deposit" }

type WithdrawEvent struct {
	Caller      Address     `json:"caller"`
	Receiver    Address     `json:"receiver"`
	Owner       Address     `json:"owner"`
	GrossAssets sdkmath.Int `json:"gross_assets"`
	Fee         sdkmath.Int `json:"fee"`
	NetAssets   sdkmath.Int `json:"net_assets"`
	Shares      sdkmath.Int `json:"shares"`
}

func (WithdrawEvent) Kind() string { return "withdraw" }

type TransferEvent struct {
	From   Address     `json:"from"`
	To     Address     `json:"to"`
	Amount sdkmath.Int `json:"amount"`
}

func (TransferEvent) Kind() string { return "transfer" }

type ApprovalEvent struct {
	Owner   Address     `json:"owner"`
	Spender Address     `json:"spender"`
	Amount  sdkmath.Int `json:"amount"`
}

func (ApprovalEvent) Kind() string { return "approval" }

type GhostMintEvent struct {
	To     Address     `json:"to"`
	Amount sdkmath.Int `json:"amount"`
}

func (GhostMintEvent) Kind() string { return "ghost_mint" }

type GhostBurnEvent struct {
	From   Address     `json:"from"`
	Amount sdkmath.Int `json:"amount"`
}

func (GhostBurnEvent) Kind() string { return "ghost_burn" }

type RebaseIndexUpdatedEvent struct {
	OldIndex sdkmath.Int `json:"old_index"`
	NewIndex sdkmath.Int `json:"new_index"`
}

func (RebaseIndexUpdatedEvent) Kind() string { return "rebase_index_updated" }

type DepositedAssetsUpdatedEvent struct {
	OldTotal sdkmath.Int `json:"old_total"`
	NewTotal sdkmath.Int `json:"new_total"`
}

func (DepositedAssetsUpdatedEvent) Kind() string { return "deposited_assets_updated" }

type RedemptionFeeUpdatedEvent struct {
	OldBps uint64 `json:"old_bps"`
	NewBps uint64 `json:"new_bps"`
}

func (RedemptionFeeUpdatedEvent) Kind() string { return "redemption_fee_updated" }

type TreasuryUpdatedEvent struct {
	OldTreasury Address `json:"old_treasury"`
	NewTreasury Address `json:"new_treasury"`
}

func (TreasuryUpdatedEvent) Kind() string { return "treasury_updated" }

type RouterUpdatedEvent struct {
	OldRouter Address `json:"old_router"`
	NewRouter Address `json:"new_router"`
}

func (RouterUpdatedEvent) Kind() string { return "router_updated" }

type PauseEvent struct {
	Paused bool `json:"paused"`
}

func (PauseEvent) Kind() string { return "pause" }

type BlacklistEvent struct {
	Account     Address `json:"account"`
	Blacklisted bool    `json:"blacklisted"`
}

func (BlacklistEvent) Kind() string { return "blacklist" }

// Router events.

type AssetAddedEvent struct {
	Asset YieldAsset `json:"asset"`
}

func (AssetAddedEvent) Kind() string { return "asset_added" }

type AssetRemovedEvent struct {
	Token Address `json:"token"`
}

func (AssetRemovedEvent) Kind() string { return "asset_removed" }

type WeightsUpdatedEvent struct {
	Tokens  []Address `json:"tokens"`
	Weights []uint64  `json:"weights"`
}

func (WeightsUpdatedEvent) Kind() string { return "weights_updated" }

type AssetDrainedEvent struct {
	Token  Address     `json:"token"`
	Amount sdkmath.Int `json:"amount"`
}

func (AssetDrainedEvent) Kind() string { return "asset_drained" }

type DrainFailedEvent struct {
	Token  Address `json:"token"`
	Reason string  `json:"reason"`
}

func (DrainFailedEvent) Kind() string { return "drain_failed" }

type ProtocolDepositEvent struct {
	Token  Address     `json:"token"`
	Amount sdkmath.Int `json:"amount"`
}

func (ProtocolDepositEvent) Kind() string { return "protocol_deposit" }

type ProtocolWithdrawEvent struct {
	Token  Address     `json:"token"`
	Amount sdkmath.Int `json:"amount"`
}

func (ProtocolWithdrawEvent) Kind() string { return "protocol_withdraw" }

type YieldAccruedEvent struct {
	PreviousValue sdkmath.Int `json:"previous_value"`
	CurrentValue  sdkmath.Int `json:"current_value"`
	Delta         sdkmath.Int `json:"delta"`
	OldIndex      sdkmath.Int `json:"old_index"`
	NewIndex      sdkmath.Int `json:"new_index"`
	Timestamp     time.Time   `json:"timestamp"`
}

func (YieldAccruedEvent) Kind() string { return "yield_accrued" }

type AccrualIntervalUpdatedEvent struct {
	OldSeconds uint64 `json:"old_seconds"`
	NewSeconds uint64 `json:"new_seconds"`
}

func (AccrualIntervalUpdatedEvent) Kind() string { return "accrual_interval_updated" }

type DonationRescuedEvent struct {
	Recipient Address     `json:"recipient"`
	Amount    sdkmath.Int `json:"amount"`
}

func (DonationRescuedEvent) Kind() string { return "donation_rescued" }

// MemorySink collects events in memory. Used by tests and as a default sink
// when no journal is configured.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink returns an empty in-memory event sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the event to the sink.
func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of all recorded events in emission order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfKind returns all recorded events with the given kind.
func (s *MemorySink) OfKind(kind string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink returns a sink that forwards to every non-nil sink given.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Record(event Event) {
	for _, s := range m.sinks {
		s.Record(event)
	}
}
