package pools

import (
	"errors"
	"math/big"
)

var errStopWalk = errors.New("pools: stop walk")

// collectFeesForTick realizes vault interest and liquidity rewards earned by
// the tick since its last distribution. While a loan is outstanding the
// increase is parked in AccruedFees; otherwise it raises the liquidity ratio.
func (tx *poolTxn) collectFeesForTick(rate *big.Int) error {
	tick, err := tx.tick(rate)
	if err != nil {
		return err
	}
	if tick.LastFeeDistributionTimestamp >= tx.now {
		return nil
	}
	st := tx.state()
	increase := zero()
	if tick.AdjustedTotalAmount.Sign() > 0 && tick.LiquidityRatio.Sign() > 0 {
		base := wadRayMul(tick.AdjustedRemainingAmount, tick.LiquidityRatio)
		base.Add(base, tick.AccruedFees)
		snapshot := tick.YieldProviderLiquidityRatioSnapshot
		if snapshot.Sign() > 0 && tx.vaultIndex.Cmp(snapshot) > 0 {
			grown, err := mulDivDown(base, tx.vaultIndex, snapshot)
			if err != nil {
				return err
			}
			increase.Add(increase, grown.Sub(grown, base))
		}
		reward, err := tx.liquidityRewardsForTick(tick)
		if err != nil {
			return err
		}
		increase.Add(increase, reward)
	}
	if increase.Sign() > 0 {
		if tx.pool.HasLoan() {
			tick.AccruedFees.Add(tick.AccruedFees, increase)
		} else {
			delta, err := mulDivDown(increase, ray, tick.AdjustedTotalAmount)
			if err != nil {
				return err
			}
			tick.LiquidityRatio.Add(tick.LiquidityRatio, delta)
		}
		st.NormalizedAvailableDeposits.Add(st.NormalizedAvailableDeposits, increase)
	}
	tick.YieldProviderLiquidityRatioSnapshot = new(big.Int).Set(tx.vaultIndex)
	tick.LastFeeDistributionTimestamp = tx.now
	return nil
}

// liquidityRewardsForTick draws the tick's share of the reward stream from the
// pool reserve.
func (tx *poolTxn) liquidityRewardsForTick(tick *Tick) (*big.Int, error) {
	st := tx.state()
	params := tx.params()
	if !st.Active || st.Closed || st.Defaulted {
		return zero(), nil
	}
	if isZero(params.LiquidityRewardsDistributionRate) ||
		isZero(st.RemainingAdjustedLiquidityRewardsReserve) ||
		isZero(st.NormalizedAvailableDeposits) ||
		tick.LastFeeDistributionTimestamp == 0 {
		return zero(), nil
	}
	elapsed := new(big.Int).SetUint64(tx.now - tick.LastFeeDistributionTimestamp)
	reward := new(big.Int).Mul(params.LiquidityRewardsDistributionRate, elapsed)
	unborrowed := subFloor(params.MaxBorrowableAmount, st.NormalizedBorrowedAmount)
	reward, err := mulDivDown(reward, unborrowed, params.MaxBorrowableAmount)
	if err != nil {
		return nil, err
	}
	tickRemaining := wadRayMul(tick.AdjustedRemainingAmount, tick.LiquidityRatio)
	reward, err = mulDivDown(reward, tickRemaining, st.NormalizedAvailableDeposits)
	if err != nil {
		return nil, err
	}
	reserve := wadRayMul(st.RemainingAdjustedLiquidityRewardsReserve, tx.vaultIndex)
	if reward.Cmp(reserve) >= 0 {
		st.RemainingAdjustedLiquidityRewardsReserve = zero()
		return reserve, nil
	}
	adjusted, err := wadRayDiv(reward, tx.vaultIndex)
	if err != nil {
		return nil, err
	}
	st.RemainingAdjustedLiquidityRewardsReserve = subFloor(st.RemainingAdjustedLiquidityRewardsReserve, adjusted)
	return reward, nil
}

// depositToTick credits a normalized amount to the tick and returns the
// position units together with the bonds issuance index they belong to.
func (tx *poolTxn) depositToTick(rate, normalized *big.Int) (*big.Int, uint64, error) {
	if err := tx.collectFeesForTick(rate); err != nil {
		return nil, 0, err
	}
	tick, err := tx.tick(rate)
	if err != nil {
		return nil, 0, err
	}
	st := tx.state()
	var (
		units *big.Int
		index uint64
	)
	if tx.pool.HasLoan() {
		units, err = wadRayDivDown(normalized, tx.vaultIndex)
		if err != nil {
			return nil, 0, err
		}
		tick.AdjustedPendingAmount.Add(tick.AdjustedPendingAmount, units)
		index = st.CurrentBondsIssuanceIndex + 1
	} else {
		if tick.LiquidityRatio.Sign() == 0 {
			tick.LiquidityRatio = new(big.Int).Set(tx.vaultIndex)
		}
		adjusted, err := wadRayDivDown(normalized, tick.LiquidityRatio)
		if err != nil {
			return nil, 0, err
		}
		tick.AdjustedTotalAmount.Add(tick.AdjustedTotalAmount, adjusted)
		tick.AdjustedRemainingAmount.Add(tick.AdjustedRemainingAmount, adjusted)
		st.NormalizedAvailableDeposits.Add(st.NormalizedAvailableDeposits, normalized)
		index = st.CurrentBondsIssuanceIndex
		multiplier, err := tx.multiplier(rate, index)
		if err != nil {
			return nil, 0, err
		}
		if units, err = wadRayDivDown(adjusted, multiplier); err != nil {
			return nil, 0, err
		}
	}
	if isZero(st.LowerInterestRate) || rate.Cmp(st.LowerInterestRate) < 0 {
		st.LowerInterestRate = new(big.Int).Set(rate)
	}
	return units, index, nil
}

// getBondsIssuanceParametersForTick reports how much of remaining the tick can
// lend and the bonds it receives for it. Accrued fees count as lendable once
// the remaining deposits are exhausted.
func (tx *poolTxn) getBondsIssuanceParametersForTick(rate, remaining *big.Int) (*big.Int, *big.Int, error) {
	tick, err := tx.peek(rate)
	if err != nil {
		return nil, nil, err
	}
	capacity := wadRayMul(tick.AdjustedRemainingAmount, tick.ratio())
	capacity.Add(capacity, tick.AccruedFees)
	used := minBig(remaining, capacity)
	if used.Sign() == 0 {
		return zero(), zero(), nil
	}
	var duration uint64
	if maturity := tx.state().CurrentMaturity; maturity > tx.now {
		duration = maturity - tx.now
	}
	return bondsForAmount(used, rate, duration), used, nil
}

func (tx *poolTxn) addBondsToTick(rate, bonds, used *big.Int) error {
	tick, err := tx.tick(rate)
	if err != nil {
		return err
	}
	liq := tick.ratio()
	remaining := wadRayMul(tick.AdjustedRemainingAmount, liq)
	var adjustedUsed *big.Int
	if used.Cmp(remaining) > 0 {
		tick.AccruedFees = subFloor(tick.AccruedFees, new(big.Int).Sub(used, remaining))
		adjustedUsed = new(big.Int).Set(tick.AdjustedRemainingAmount)
	} else {
		if adjustedUsed, err = wadRayDiv(used, liq); err != nil {
			return err
		}
		adjustedUsed = minBig(adjustedUsed, tick.AdjustedRemainingAmount)
	}
	tick.AdjustedRemainingAmount.Sub(tick.AdjustedRemainingAmount, adjustedUsed)
	tick.BondsQuantity.Add(tick.BondsQuantity, bonds)
	if tick.WithdrawnBondsQuantity.Sign() > 0 {
		// Keep B*W/(T-R+W) equal to the bonds held by departed positions.
		borrowed := new(big.Int).Sub(tick.AdjustedTotalAmount, tick.AdjustedRemainingAmount)
		residentBonds := new(big.Int).Sub(tick.BondsQuantity, tick.WithdrawnBondsQuantity)
		if residentBonds.Sign() > 0 {
			if tick.AdjustedWithdrawnAmount, err = mulDivDown(tick.WithdrawnBondsQuantity, borrowed, residentBonds); err != nil {
				return err
			}
		}
	}
	st := tx.state()
	st.BondsIssuedQuantity.Add(st.BondsIssuedQuantity, bonds)
	st.NormalizedBorrowedAmount.Add(st.NormalizedBorrowedAmount, used)
	st.NormalizedAvailableDeposits = subFloor(st.NormalizedAvailableDeposits, used)
	return nil
}

// tickUnits rescales position units into tick units using the multiplier of
// the position's bonds issuance index.
func (tx *poolTxn) tickUnits(rate, units *big.Int, index uint64) (*big.Int, *big.Int, error) {
	multiplier, err := tx.multiplier(rate, index)
	if err != nil {
		return nil, nil, err
	}
	return wadRayMul(units, multiplier), multiplier, nil
}

// computeAmountRepartitionForTick splits a position between bonds and the
// tick units still deposited. Pending positions hold no bonds and are returned
// unchanged.
func (tx *poolTxn) computeAmountRepartitionForTick(rate, units *big.Int, index uint64) (*big.Int, *big.Int, error) {
	if index > tx.state().CurrentBondsIssuanceIndex {
		return zero(), new(big.Int).Set(units), nil
	}
	tick, err := tx.peek(rate)
	if err != nil {
		return nil, nil, err
	}
	amount, _, err := tx.tickUnits(rate, units, index)
	if err != nil {
		return nil, nil, err
	}
	total := tick.AdjustedTotalAmount
	if tick.BondsQuantity.Sign() == 0 || total.Sign() == 0 {
		return zero(), amount, nil
	}
	liq := tick.ratio()
	borrowed := new(big.Int).Sub(total, tick.AdjustedRemainingAmount)
	borrowedShare, err := rayDiv(borrowed, total)
	if err != nil {
		return nil, nil, err
	}
	usedNormalized := wadRayMul(wadRayMul(amount, liq), borrowedShare)
	used, err := wadRayDiv(usedNormalized, liq)
	if err != nil {
		return nil, nil, err
	}
	if used.Cmp(amount) > 0 {
		// Precision loss on dust amounts: the whole position is bonds. The
		// denominator counts the units of departed positions too, since their
		// bonds are still part of BondsQuantity.
		bonds, err := mulDivDown(tick.BondsQuantity, amount, new(big.Int).Add(total, tick.AdjustedWithdrawnAmount))
		if err != nil {
			return nil, nil, err
		}
		return bonds, zero(), nil
	}
	denominator := new(big.Int).Add(borrowed, tick.AdjustedWithdrawnAmount)
	if denominator.Sign() == 0 {
		return zero(), amount, nil
	}
	bonds, err := mulDivDown(tick.BondsQuantity, used, denominator)
	if err != nil {
		return nil, nil, err
	}
	return bonds, amount.Sub(amount, used), nil
}

// withdrawDepositedAmountForTick removes a whole position from the tick. The
// deposited portion and its fee share are returned in normalized units; the
// bonds portion stays with the caller until the loan is repaid.
func (tx *poolTxn) withdrawDepositedAmountForTick(rate, units *big.Int, index uint64) (*WithdrawAmounts, error) {
	st := tx.state()
	current := st.CurrentBondsIssuanceIndex
	if index > current+1 {
		return nil, ErrInvalidIssuanceIndex
	}
	if err := tx.collectFeesForTick(rate); err != nil {
		return nil, err
	}
	tick, err := tx.tick(rate)
	if err != nil {
		return nil, err
	}
	if index == current+1 {
		if !tx.pool.HasLoan() {
			return nil, ErrInvalidIssuanceIndex
		}
		amount := minBig(units, tick.AdjustedPendingAmount)
		tick.AdjustedPendingAmount.Sub(tick.AdjustedPendingAmount, amount)
		if err := tx.refreshLowerInterestRate(rate); err != nil {
			return nil, err
		}
		return &WithdrawAmounts{
			AdjustedAmount:   new(big.Int).Set(units),
			NormalizedAmount: wadRayMulDown(amount, tx.vaultIndex),
			RemainingBonds:   zero(),
		}, nil
	}

	bonds, deposit, err := tx.computeAmountRepartitionForTick(rate, units, index)
	if err != nil {
		return nil, err
	}
	amount, multiplier, err := tx.tickUnits(rate, units, index)
	if err != nil {
		return nil, err
	}
	amount = minBig(amount, tick.AdjustedTotalAmount)
	deposit = minBig(minBig(deposit, amount), tick.AdjustedRemainingAmount)
	used := new(big.Int).Sub(amount, deposit)

	feeShare := zero()
	if tick.AdjustedTotalAmount.Sign() > 0 {
		if feeShare, err = mulDivDown(tick.AccruedFees, amount, tick.AdjustedTotalAmount); err != nil {
			return nil, err
		}
	}
	tick.AdjustedRemainingAmount.Sub(tick.AdjustedRemainingAmount, deposit)
	tick.AdjustedTotalAmount.Sub(tick.AdjustedTotalAmount, amount)
	if tick.AdjustedRemainingAmount.Cmp(tick.AdjustedTotalAmount) > 0 {
		tick.AdjustedRemainingAmount.Set(tick.AdjustedTotalAmount)
	}
	if tick.BondsQuantity.Sign() > 0 {
		tick.AdjustedWithdrawnAmount.Add(tick.AdjustedWithdrawnAmount, used)
		tick.WithdrawnBondsQuantity.Add(tick.WithdrawnBondsQuantity, bonds)
	}
	tick.AccruedFees = subFloor(tick.AccruedFees, feeShare)

	// Both legs of deposit and withdraw round down: the vault keeps the dust.
	normalized := wadRayMulDown(deposit, tick.ratio())
	normalized.Add(normalized, feeShare)
	st.NormalizedAvailableDeposits = subFloor(st.NormalizedAvailableDeposits, roundToPrecision(normalized, withdrawPrecision))

	out := &WithdrawAmounts{NormalizedAmount: normalized, RemainingBonds: bonds}
	if out.AdjustedAmount, err = wadRayDiv(deposit, multiplier); err != nil {
		return nil, err
	}
	if bonds.Sign() > 0 {
		out.BondsMaturity = st.CurrentMaturity
	}
	if err := tx.refreshLowerInterestRate(rate); err != nil {
		return nil, err
	}
	return out, nil
}

// refreshLowerInterestRate moves the cached lowest rate forward when the tick
// at rate emptied.
func (tx *poolTxn) refreshLowerInterestRate(rate *big.Int) error {
	st := tx.state()
	if isZero(st.LowerInterestRate) || st.LowerInterestRate.Cmp(rate) != 0 {
		return nil
	}
	tick, err := tx.peek(rate)
	if err != nil {
		return err
	}
	if tick.inUse() {
		return nil
	}
	return tx.scanLowerInterestRate(rate)
}

func (tx *poolTxn) scanLowerInterestRate(from *big.Int) error {
	st := tx.state()
	st.LowerInterestRate = zero()
	err := tx.forEachRate(from, func(rate *big.Int) error {
		tick, err := tx.peek(rate)
		if err != nil {
			return err
		}
		if tick.inUse() {
			st.LowerInterestRate = rate
			return errStopWalk
		}
		return nil
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	return err
}

// repayForTick values the tick's bonds, credits the residents' share to the
// liquidity ratio and parks the departed positions' share for redemption.
// It returns the bonds value and the late fee owed by the borrower.
func (tx *poolTxn) repayForTick(rate, lateFeePerBond *big.Int) (*big.Int, *big.Int, error) {
	tick, err := tx.tick(rate)
	if err != nil {
		return nil, nil, err
	}
	st := tx.state()
	bonds := tick.BondsQuantity
	value, lateFee := zero(), zero()
	if bonds.Sign() > 0 {
		if tx.now < st.CurrentMaturity {
			value = bondsValue(bonds, rate, st.CurrentMaturity-tx.now)
		} else {
			value = new(big.Int).Set(bonds)
		}
		lateFee = wadMul(bonds, lateFeePerBond)
	}

	residentValue := new(big.Int).Add(value, lateFee)
	parked := zero()
	if withdrawn := tick.WithdrawnBondsQuantity; withdrawn.Sign() > 0 && bonds.Sign() > 0 {
		residentBonds := subFloor(bonds, withdrawn)
		if residentValue, err = mulDivDown(residentValue, residentBonds, bonds); err != nil {
			return nil, nil, err
		}
		parked = new(big.Int).Add(value, lateFee)
		parked.Sub(parked, residentValue)
	}

	if tick.AdjustedTotalAmount.Sign() > 0 {
		liq := tick.ratio()
		credited := wadRayMul(tick.AdjustedRemainingAmount, liq)
		credited.Add(credited, tick.AccruedFees)
		credited.Add(credited, residentValue)
		updated, err := mulDivDown(credited, ray, tick.AdjustedTotalAmount)
		if err != nil {
			return nil, nil, err
		}
		if updated.Cmp(liq) > 0 {
			tick.LiquidityRatio = updated
		}
	} else if tick.WithdrawnBondsQuantity.Sign() > 0 {
		parked.Add(parked, residentValue)
	}

	if parked.Sign() > 0 && tick.WithdrawnBondsQuantity.Sign() > 0 {
		adjusted, err := wadRayDiv(parked, tx.vaultIndex)
		if err != nil {
			return nil, nil, err
		}
		tx.setRedemption(rate, st.CurrentMaturity, &BondRedemption{
			AdjustedValue:    adjusted,
			OutstandingBonds: new(big.Int).Set(tick.WithdrawnBondsQuantity),
		})
	}

	tick.BondsQuantity = zero()
	tick.WithdrawnBondsQuantity = zero()
	tick.AdjustedWithdrawnAmount = zero()
	tick.AccruedFees = zero()
	tick.AdjustedRemainingAmount = new(big.Int).Set(tick.AdjustedTotalAmount)
	return value, lateFee, nil
}

// includePendingDepositsForTick merges deposits made during the loan into the
// tick. The pool's bonds issuance index is bumped at most once per repay;
// bumped reports whether it already happened.
func (tx *poolTxn) includePendingDepositsForTick(rate *big.Int, bumped bool) (bool, error) {
	tick, err := tx.tick(rate)
	if err != nil {
		return bumped, err
	}
	if tick.AdjustedPendingAmount.Sign() == 0 {
		return bumped, nil
	}
	st := tx.state()
	if !bumped {
		st.CurrentBondsIssuanceIndex++
		bumped = true
	}
	if tick.LiquidityRatio.Sign() == 0 {
		tick.LiquidityRatio = new(big.Int).Set(tx.vaultIndex)
	}
	multiplier, err := rayDiv(tx.vaultIndex, tick.LiquidityRatio)
	if err != nil {
		return bumped, err
	}
	tx.setMultiplier(rate, st.CurrentBondsIssuanceIndex, multiplier)
	added := wadRayMul(tick.AdjustedPendingAmount, multiplier)
	tick.AdjustedTotalAmount.Add(tick.AdjustedTotalAmount, added)
	tick.AdjustedRemainingAmount.Add(tick.AdjustedRemainingAmount, added)
	tick.AdjustedPendingAmount = zero()
	return bumped, nil
}
