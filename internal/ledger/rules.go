package ledger

import (
	"fmt"

	"github.com/alanyoungcy/roundbet/internal/domain"
)

// HoldRule: available -= amount, held += amount.
func HoldRule(amount int64) domain.WalletMutation {
	return func(w *domain.Wallet) error {
		if w.Available < amount {
			return fmt.Errorf("%w: have=%d, need=%d", domain.ErrInsufficientFunds, w.Available, amount)
		}
		w.Available -= amount
		w.Held += amount
		return nil
	}
}

// ReleaseRule: held -= amount, available += amount.
func ReleaseRule(amount int64) domain.WalletMutation {
	return func(w *domain.Wallet) error {
		if err := requireHeld(w, amount); err != nil {
			return err
		}
		w.Held -= amount
		w.Available += amount
		return nil
	}
}

// CommitWinRule: held -= stake, available += payout, totalWon += payout - stake.
func CommitWinRule(stake, payout int64) domain.WalletMutation {
	return func(w *domain.Wallet) error {
		if err := requireHeld(w, stake); err != nil {
			return err
		}
		w.Held -= stake
		w.Available += payout
		w.TotalWon += payout - stake
		return nil
	}
}

// CommitLossRule: held -= stake, totalLost += stake.
func CommitLossRule(stake int64) domain.WalletMutation {
	return func(w *domain.Wallet) error {
		if err := requireHeld(w, stake); err != nil {
			return err
		}
		w.Held -= stake
		w.TotalLost += stake
		return nil
	}
}

// DepositRule: available += amount.
func DepositRule(amount int64) domain.WalletMutation {
	return func(w *domain.Wallet) error {
		w.Available += amount
		return nil
	}
}

func requireHeld(w *domain.Wallet, amount int64) error {
	if w.Held < amount {
		return fmt.Errorf("%w: user %s (%s) held=%d, need=%d",
			domain.ErrLedgerCorrupted, w.UserID, w.Mode, w.Held, amount)
	}
	return nil
}
