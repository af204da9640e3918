package collateral

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/optimic-protocol/optimic/pkg/app/core/types"
)

// CalculatePenalty returns floor(collateral x rateBps / 10000) in the
// asset's smallest unit. Rounding never creates value.
func CalculatePenalty(collateral, rateBps int64) int64 {
	if collateral <= 0 || rateBps <= 0 {
		return 0
	}
	return collateral * rateBps / 10000
}

// PenaltyResult reports how an assessed penalty was split.
type PenaltyResult struct {
	Platform     int64
	Counterparty int64
}

// DistributePenalty takes penalty.Amount out of the offender's locked
// collateral held under reason and splits it between the platform
// treasury and the counterparty per the configured percentages. The
// rounding remainder goes to the platform, so
// platform + counterparty == penalty.Amount exactly.
//
// All-or-nothing: if the offender's posted collateral under reason does
// not cover the penalty, nothing moves and an error is returned. The
// distribution only redistributes already-locked funds; total value is
// conserved.
func (m *Manager) DistributePenalty(penalty types.Penalty, counterparty common.Address, reason types.CollateralReason) (PenaltyResult, error) {
	if penalty.Amount <= 0 {
		return PenaltyResult{}, nil
	}

	posted, err := m.PostedUnder(penalty.Account, penalty.Asset, reason)
	if err != nil {
		return PenaltyResult{}, err
	}
	if posted < penalty.Amount {
		return PenaltyResult{}, fmt.Errorf("%w: posted %d under %s covers only part of penalty %d",
			types.ErrInsufficientCollateral, posted, reason.Kind, penalty.Amount)
	}

	counterShare := mulBps(penalty.Amount, m.params.Penalty.ToCounterpartyBps)
	platformShare := penalty.Amount - counterShare

	if counterShare > 0 {
		paid, err := m.PayFromCollateral(penalty.Account, counterparty, counterShare, penalty.Asset, reason)
		if err != nil {
			return PenaltyResult{}, err
		}
		if paid != counterShare {
			panic(fmt.Sprintf("invariant violation: penalty counterparty share paid %d of %d", paid, counterShare))
		}
	}
	if platformShare > 0 {
		paid, err := m.PayFromCollateral(penalty.Account, m.treasury, platformShare, penalty.Asset, reason)
		if err != nil {
			return PenaltyResult{}, err
		}
		if paid != platformShare {
			panic(fmt.Sprintf("invariant violation: penalty platform share paid %d of %d", paid, platformShare))
		}
	}

	m.log.Infow("penalty_distributed",
		"account", penalty.Account.Hex(),
		"amount", penalty.Amount,
		"asset", penalty.Asset,
		"reason", penalty.Reason.String(),
		"platform", platformShare,
		"counterparty", counterShare,
	)

	return PenaltyResult{Platform: platformShare, Counterparty: counterShare}, nil
}
