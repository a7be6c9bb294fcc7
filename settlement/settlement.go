// Package settlement computes the money split for a vehicle sale. All
// amounts are integer minor units; the commission rate is expressed in
// basis points so the split stays exact for every input.
package settlement

import (
	"errors"
	"fmt"
)

// BasisPointDivisor converts basis points to a rate (500 bp = 5%).
const BasisPointDivisor = 10000

var (
	ErrNegativeAmount      = errors.New("settlement: negative amount")
	ErrInvalidRate         = errors.New("settlement: commission rate out of range")
	ErrDeductionExceedsNet = errors.New("settlement: repair deduction exceeds seller proceeds")
)

// Params are the inputs of one settlement computation.
type Params struct {
	CarPrice         int64
	DeliveryCost     int64
	RepairDeduction  int64
	CommissionRateBP int64
}

// Settlement is the resulting split. The conservation identity
//
//	BuyerTotal == SellerNet + PlatformFee + RepairDeduction + DeliveryCost
//
// holds exactly for every accepted input.
type Settlement struct {
	BuyerTotal  int64
	SellerNet   int64
	PlatformFee int64
}

// Compute derives the split. It has no side effects and fails only on
// negative inputs, a rate at or above 100%, or a deduction that would push
// the seller payout below zero.
func Compute(p Params) (Settlement, error) {
	if p.CarPrice < 0 || p.DeliveryCost < 0 || p.RepairDeduction < 0 {
		return Settlement{}, fmt.Errorf("%w: price=%d delivery=%d repair=%d",
			ErrNegativeAmount, p.CarPrice, p.DeliveryCost, p.RepairDeduction)
	}
	if p.CommissionRateBP < 0 || p.CommissionRateBP >= BasisPointDivisor {
		return Settlement{}, fmt.Errorf("%w: %d bp", ErrInvalidRate, p.CommissionRateBP)
	}

	fee := roundHalfUp(p.CarPrice*p.CommissionRateBP, BasisPointDivisor)

	// A payout instruction can never carry a negative amount.
	if p.RepairDeduction > p.CarPrice-fee {
		return Settlement{}, fmt.Errorf("%w: deduction=%d proceeds=%d",
			ErrDeductionExceedsNet, p.RepairDeduction, p.CarPrice-fee)
	}

	return Settlement{
		BuyerTotal:  p.CarPrice + p.DeliveryCost,
		PlatformFee: fee,
		SellerNet:   p.CarPrice - fee - p.RepairDeduction,
	}, nil
}

// roundHalfUp divides num by den rounding .5 away from zero. Inputs are
// non-negative by the time we get here.
func roundHalfUp(num, den int64) int64 {
	return (num + den/2) / den
}
