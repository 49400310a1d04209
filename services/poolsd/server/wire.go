package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ratebook/config"
	"ratebook/crypto"
	"ratebook/native/pools"
	"ratebook/native/positions"
	"ratebook/services/poolsd/eventlog"
)

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// parseAmount reads a positive integer in token base units.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: amount required", errBadRequest)
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", errBadRequest, raw, err)
	}
	if value.IsZero() {
		return nil, pools.ErrInvalidAmount
	}
	return value.ToBig(), nil
}

// parseRate reads a decimal fraction such as "0.055" into a wad.
func parseRate(raw string) (*big.Int, error) {
	rate, err := config.ParseDecimal(raw, 18)
	if err != nil {
		return nil, fmt.Errorf("%w: rate: %v", errBadRequest, err)
	}
	return rate, nil
}

func parseAddress(raw, field string) (common.Address, error) {
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parsePoolID accepts a 32 byte hex id or a pool name.
func parsePoolID(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Hash{}, pools.ErrZeroPoolID
	}
	if strings.HasPrefix(raw, "0x") && len(raw) == 2+2*common.HashLength {
		return common.HexToHash(raw), nil
	}
	return pools.PoolIDFromName(raw), nil
}

func parsePositionID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: position id %q", errBadRequest, raw)
	}
	return id, nil
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type poolView struct {
	ID                          string `json:"id"`
	Name                        string `json:"name"`
	Borrower                    string `json:"borrower,omitempty"`
	Underlying                  string `json:"underlying"`
	TokenDecimals               uint8  `json:"tokenDecimals"`
	MinRate                     string `json:"minRate"`
	MaxRate                     string `json:"maxRate"`
	RateSpacing                 string `json:"rateSpacing"`
	MaxBorrowableAmount         string `json:"maxBorrowableAmount"`
	LoanDuration                uint64 `json:"loanDuration"`
	EarlyRepay                  bool   `json:"earlyRepay"`
	Active                      bool   `json:"active"`
	Closed                      bool   `json:"closed"`
	Defaulted                   bool   `json:"defaulted"`
	CurrentMaturity             uint64 `json:"currentMaturity,omitempty"`
	NormalizedBorrowedAmount    string `json:"normalizedBorrowedAmount"`
	NormalizedAvailableDeposits string `json:"normalizedAvailableDeposits"`
	BondsIssuedQuantity         string `json:"bondsIssuedQuantity"`
	LowerInterestRate           string `json:"lowerInterestRate"`
	RewardsReserve              string `json:"rewardsReserve"`
	ProtocolFees                string `json:"protocolFees"`
	NextLoanMinStart            uint64 `json:"nextLoanMinStart,omitempty"`
}

func newPoolView(p *pools.Pool) poolView {
	view := poolView{
		ID:                          p.ID.Hex(),
		Name:                        p.Name,
		Underlying:                  p.Parameters.Underlying.Hex(),
		TokenDecimals:               p.Parameters.TokenDecimals,
		MinRate:                     str(p.Parameters.MinRate),
		MaxRate:                     str(p.Parameters.MaxRate),
		RateSpacing:                 str(p.Parameters.RateSpacing),
		MaxBorrowableAmount:         str(p.Parameters.MaxBorrowableAmount),
		LoanDuration:                p.Parameters.LoanDuration,
		EarlyRepay:                  p.Parameters.EarlyRepay,
		Active:                      p.State.Active,
		Closed:                      p.State.Closed,
		Defaulted:                   p.State.Defaulted,
		CurrentMaturity:             p.State.CurrentMaturity,
		NormalizedBorrowedAmount:    str(p.State.NormalizedBorrowedAmount),
		NormalizedAvailableDeposits: str(p.State.NormalizedAvailableDeposits),
		BondsIssuedQuantity:         str(p.State.BondsIssuedQuantity),
		LowerInterestRate:           str(p.State.LowerInterestRate),
		RewardsReserve:              str(p.State.RemainingAdjustedLiquidityRewardsReserve),
		ProtocolFees:                str(p.State.ProtocolFees),
		NextLoanMinStart:            p.State.NextLoanMinStart,
	}
	if p.Borrower != (common.Address{}) {
		view.Borrower = p.Borrower.Hex()
	}
	return view
}

type tickView struct {
	Rate                string `json:"rate"`
	NormalizedTotal     string `json:"normalizedTotal"`
	NormalizedRemaining string `json:"normalizedRemaining"`
	NormalizedPending   string `json:"normalizedPending"`
	BondsQuantity       string `json:"bondsQuantity"`
	AccruedFees         string `json:"accruedFees"`
	LiquidityRatio      string `json:"liquidityRatio"`
}

func newTickView(t *pools.TickAmounts) tickView {
	return tickView{
		Rate:                str(t.Rate),
		NormalizedTotal:     str(t.NormalizedTotal),
		NormalizedRemaining: str(t.NormalizedRemaining),
		NormalizedPending:   str(t.NormalizedPending),
		BondsQuantity:       str(t.BondsQuantity),
		AccruedFees:         str(t.AccruedFees),
		LiquidityRatio:      str(t.LiquidityRatio),
	}
}

type positionView struct {
	ID                  uint64 `json:"id"`
	Owner               string `json:"owner"`
	PoolID              string `json:"poolId"`
	Rate                string `json:"rate"`
	Units               string `json:"units"`
	IssuanceIndex       uint64 `json:"issuanceIndex"`
	Bonds               string `json:"bonds"`
	BondsMaturity       uint64 `json:"bondsMaturity,omitempty"`
	NormalizedDeposited string `json:"normalizedDeposited,omitempty"`
	TotalBonds          string `json:"totalBonds,omitempty"`
}

func newPositionView(p *positions.Position, rep *positions.Repartition) positionView {
	view := positionView{
		ID:            p.ID,
		Owner:         p.Owner.Hex(),
		PoolID:        p.PoolID.Hex(),
		Rate:          str(p.Rate),
		Units:         str(p.Units),
		IssuanceIndex: p.IssuanceIndex,
		Bonds:         str(p.Bonds),
		BondsMaturity: p.BondsMaturity,
	}
	if rep != nil {
		view.NormalizedDeposited = str(rep.NormalizedDeposited)
		view.TotalBonds = str(rep.Bonds)
	}
	return view
}

type withdrawView struct {
	NormalizedAmount string `json:"normalizedAmount"`
	RemainingBonds   string `json:"remainingBonds"`
	BondsMaturity    uint64 `json:"bondsMaturity,omitempty"`
	Redeemed         bool   `json:"redeemed,omitempty"`
	Burned           bool   `json:"burned,omitempty"`
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	PoolID     string            `json:"poolId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func newEventView(r eventlog.Record) (eventView, error) {
	attrs, err := r.Attrs()
	if err != nil {
		return eventView{}, err
	}
	return eventView{
		Sequence:   r.Sequence,
		ID:         r.ID.String(),
		Type:       r.Type,
		PoolID:     r.PoolID,
		Attributes: attrs,
		CreatedAt:  r.CreatedAt.Unix(),
	}, nil
}

type borrowRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type depositRequest struct {
	PoolID string `json:"poolId"`
	Rate   string `json:"rate"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type rateRequest struct {
	Rate string `json:"rate"`
}

type transferRequest struct {
	To string `json:"to"`
}

type borrowerRequest struct {
	Borrower string `json:"borrower"`
	Allow    bool   `json:"allow"`
}

type closeRequest struct {
	To string `json:"to"`
}

type claimRequest struct {
	// Amount in token base units; empty claims everything.
	Amount string `json:"amount"`
	To     string `json:"to"`
}

// paramsRequest fields are whole unit decimals like the config file.
type paramsRequest struct {
	MaxBorrowableAmount              string `json:"maxBorrowableAmount"`
	EstablishmentFeeRate             string `json:"establishmentFeeRate"`
	RepaymentFeeRate                 string `json:"repaymentFeeRate"`
	LiquidityRewardsDistributionRate string `json:"liquidityRewardsDistributionRate"`
}

func (p paramsRequest) update() (pools.ParameterUpdate, error) {
	var out pools.ParameterUpdate
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"maxBorrowableAmount", p.MaxBorrowableAmount, &out.MaxBorrowableAmount},
		{"establishmentFeeRate", p.EstablishmentFeeRate, &out.EstablishmentFeeRate},
		{"repaymentFeeRate", p.RepaymentFeeRate, &out.RepaymentFeeRate},
		{"liquidityRewardsDistributionRate", p.LiquidityRewardsDistributionRate, &out.LiquidityRewardsDistributionRate},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		value, err := config.ParseDecimal(f.raw, 18)
		if err != nil {
			return out, fmt.Errorf("%w: %s: %v", errBadRequest, f.name, err)
		}
		*f.dst = value
	}
	return out, nil
}

type mintRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type balanceView struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}
