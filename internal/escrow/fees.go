package escrow

import (
	"math/big"

	"github.com/clearhold/clearhold/internal/amount"
)

// MaxFeeBips is the denominator of the fee rate. A fee rate is expressed in
// basis points and must satisfy 0 <= bips < MaxFeeBips.
const MaxFeeBips = 10000

// ValidFeeBips reports whether bips is an acceptable platform fee rate.
func ValidFeeBips(bips int) bool {
	return bips >= 0 && bips < MaxFeeBips
}

// SplitFee divides total into a platform fee and a net payout.
//
//	fee = floor(total * bips / 10000)
//	net = total - fee
//
// The two parts always sum to total exactly; rounding loss accrues to the
// payee's net, never to the fee.
func SplitFee(total string, bips int) (fee, net string, err error) {
	if !ValidFeeBips(bips) {
		return "", "", ErrInvalidFeeBips
	}
	v, ok := amount.Parse(total)
	if !ok || v.Sign() <= 0 {
		return "", "", ErrInvalidAmount
	}

	feeV := new(big.Int).Mul(v, big.NewInt(int64(bips)))
	feeV.Quo(feeV, big.NewInt(MaxFeeBips))
	netV := new(big.Int).Sub(v, feeV)

	return amount.Format(feeV), amount.Format(netV), nil
}
