package lending

import (
	"fmt"
	"math/big"

	"lendmarket/crypto"
)

// DefaultFlashLoanFeeBps is the flash-loan fee in basis points.
const DefaultFlashLoanFeeBps uint64 = 1

// FlashLoanReceiver is called with borrowed funds already transferred to its
// Address. It must return amount + fee to lender through bank before
// returning.
type FlashLoanReceiver interface {
	Address() crypto.Address
	OnFlashLoan(bank Bank, lender crypto.Address, asset string, amount, fee *big.Int, data []byte) error
}

// FlashLoanFee is amount × bps / 10000, rounded down.
func FlashLoanFee(amount *big.Int, bps uint64) *big.Int {
	return mulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// FlashLoan lends amount of the base asset to an allow-listed receiver for the
// duration of the call. Everything returned above the principal is kept as
// LP yield.
func (e *Engine) FlashLoan(initiator crypto.Address, receiverName string, amount *big.Int, data []byte) (*big.Int, error) {
	market, err := e.begin(FeatureFlashLoan)
	if err != nil {
		return nil, err
	}
	if !isPositive(amount) {
		return nil, ErrZeroAmount
	}
	gov, err := e.state.Governance()
	if err != nil {
		return nil, err
	}
	receiver, registered := e.receivers[receiverName]
	if gov == nil || !gov.receiverAllowed(receiverName) || !registered {
		return nil, ErrFlashLoanNotAllowed
	}
	if amount.Cmp(market.Cash) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	fee := FlashLoanFee(amount, market.FlashLoanFeeBps)
	before, err := e.state.Balance(market.BaseAsset, e.marketAddr)
	if err != nil {
		return nil, err
	}
	if err := e.state.Transfer(market.BaseAsset, e.marketAddr, receiver.Address(), amount); err != nil {
		return nil, err
	}
	if err := receiver.OnFlashLoan(e.state, e.marketAddr, market.BaseAsset, clone(amount), clone(fee), data); err != nil {
		return nil, fmt.Errorf("lending: flash loan receiver %s: %w", receiverName, err)
	}
	after, err := e.state.Balance(market.BaseAsset, e.marketAddr)
	if err != nil {
		return nil, err
	}
	if after.Cmp(new(big.Int).Add(before, fee)) < 0 {
		return nil, ErrFlashLoanNotRepaid
	}
	earned := new(big.Int).Sub(after, before)
	market.Cash.Add(market.Cash, earned)
	market.TotalAssets.Add(market.TotalAssets, earned)
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	e.emit(EventFlashLoan, map[string]string{
		"initiator": initiator.String(),
		"receiver":  receiverName,
		"amount":    amountAttr(amount),
		"fee":       amountAttr(earned),
	})
	return earned, nil
}
