package lending

import (
	"math/big"

	"github.com/google/uuid"
)

const (
	EventDeposit           = "lending.deposit"
	EventWithdraw          = "lending.withdraw"
	EventBorrow            = "lending.borrow"
	EventRepay             = "lending.repay"
	EventCollateralAdded   = "lending.collateral.added"
	EventCollateralRemoved = "lending.collateral.removed"
	EventAccrued           = "lending.accrued"
	EventLiquidated        = "lending.liquidated"
	EventSocialized        = "lending.socialized"
	EventStaked            = "lending.staked"
	EventUnstakeInitiated  = "lending.unstake.initiated"
	EventUnstakeFinalized  = "lending.unstake.finalized"
	EventFlashLoan         = "lending.flashloan"
	EventReserveDeposit    = "lending.reserve.deposit"
	EventReserveWithdraw   = "lending.reserve.withdraw"
	EventGovernanceUpdated = "lending.governance.updated"
	EventPriceUpdated      = "lending.price.updated"
)

// Event is a structured record of a state change, emitted after the change
// has been applied to state.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Height     uint64            `json:"height"`
	Time       uint64            `json:"time"`
	Attributes map[string]string `json:"attributes"`
}

func amountAttr(v *big.Int) string {
	return clone(v).String()
}

func (e *Engine) emit(typ string, attrs map[string]string) {
	e.events = append(e.events, Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Height:     e.height,
		Time:       e.now,
		Attributes: attrs,
	})
}

// Events returns the events emitted since the last drain.
func (e *Engine) Events() []Event {
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// DrainEvents returns and clears the buffered events.
func (e *Engine) DrainEvents() []Event {
	out := e.events
	e.events = nil
	return out
}
