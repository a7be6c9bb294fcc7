package settlement_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carvault/settlement"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		params  settlement.Params
		want    settlement.Settlement
		wantErr error
	}{
		{
			name: "ReferenceSale",
			params: settlement.Params{
				CarPrice:         200000,
				CommissionRateBP: 500,
			},
			want: settlement.Settlement{
				BuyerTotal:  200000,
				SellerNet:   190000,
				PlatformFee: 10000,
			},
		},
		{
			name: "DeliveryAndRepair",
			params: settlement.Params{
				CarPrice:         150000,
				DeliveryCost:     2500,
				RepairDeduction:  12000,
				CommissionRateBP: 500,
			},
			want: settlement.Settlement{
				BuyerTotal:  152500,
				SellerNet:   130500,
				PlatformFee: 7500,
			},
		},
		{
			name: "FeeRoundsHalfUp",
			params: settlement.Params{
				CarPrice:         999,
				CommissionRateBP: 500, // 49.95 -> 50
			},
			want: settlement.Settlement{
				BuyerTotal:  999,
				SellerNet:   949,
				PlatformFee: 50,
			},
		},
		{
			name: "ZeroRate",
			params: settlement.Params{
				CarPrice: 100,
			},
			want: settlement.Settlement{
				BuyerTotal:  100,
				SellerNet:   100,
				PlatformFee: 0,
			},
		},
		{
			name:    "NegativePrice",
			params:  settlement.Params{CarPrice: -1, CommissionRateBP: 500},
			wantErr: settlement.ErrNegativeAmount,
		},
		{
			name:    "NegativeRepairDeduction",
			params:  settlement.Params{CarPrice: 100, RepairDeduction: -5, CommissionRateBP: 500},
			wantErr: settlement.ErrNegativeAmount,
		},
		{
			name:    "RateAtFullPrice",
			params:  settlement.Params{CarPrice: 100, CommissionRateBP: 10000},
			wantErr: settlement.ErrInvalidRate,
		},
		{
			name:    "DeductionAbovePrice",
			params:  settlement.Params{CarPrice: 100000, RepairDeduction: 150000, CommissionRateBP: 1000},
			wantErr: settlement.ErrDeductionExceedsNet,
		},
		{
			name:    "DeductionAboveProceedsAfterFee",
			params:  settlement.Params{CarPrice: 100000, RepairDeduction: 95000, CommissionRateBP: 1000},
			wantErr: settlement.ErrDeductionExceedsNet,
		},
		{
			name: "DeductionAtExactProceeds",
			params: settlement.Params{
				CarPrice:         100000,
				RepairDeduction:  90000,
				CommissionRateBP: 1000,
			},
			want: settlement.Settlement{
				BuyerTotal:  100000,
				SellerNet:   0,
				PlatformFee: 10000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := settlement.Compute(tt.params)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Every accepted input must conserve money: what the buyer pays in equals
// what leaves the vault across seller, platform, repair shop and carrier.
func TestCompute_Conservation(t *testing.T) {
	prices := []int64{0, 1, 3, 999, 1001, 200000, 123457, 1<<40 + 7}
	deliveries := []int64{0, 1, 2500, 9999}
	repairs := []int64{0, 1, 12000, 33333}
	rates := []int64{0, 1, 3, 499, 500, 501, 2550, 9999}

	for _, price := range prices {
		for _, delivery := range deliveries {
			for _, repair := range repairs {
				for _, rate := range rates {
					s, err := settlement.Compute(settlement.Params{
						CarPrice:         price,
						DeliveryCost:     delivery,
						RepairDeduction:  repair,
						CommissionRateBP: rate,
					})
					if errors.Is(err, settlement.ErrDeductionExceedsNet) {
						continue
					}
					require.NoError(t, err)
					require.Equal(t, s.BuyerTotal, s.SellerNet+s.PlatformFee+repair+delivery,
						"price=%d delivery=%d repair=%d rate=%d", price, delivery, repair, rate)
				}
			}
		}
	}
}
