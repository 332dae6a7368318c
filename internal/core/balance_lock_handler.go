package core

import (
	"context"
	"strings"

	"SettleLedger/internal/event"
	"SettleLedger/internal/persistence"
	"SettleLedger/internal/state"
)

// BalanceLockHandler applies lock/release confirmations. The lock is looked
// up by identifier only; lockId is stored as the engine's reference and is
// not required.
type BalanceLockHandler struct {
	*deps
}

func (h *BalanceLockHandler) Kind() event.EntityKind { return event.KindBalanceLock }

func (h *BalanceLockHandler) Handle(ctx context.Context, env *event.Envelope) error {
	var p event.BalanceLockPayload
	if ok, err := decode(env, &p); !ok {
		return err
	}
	id, ok := p.Identifier.Int64()
	if !ok {
		h.logger.Debug().Str("identifier", p.Identifier.String()).Msg("balance lock message without usable identifier")
		return nil
	}
	idStr := p.Identifier.String()

	return h.store.InTx(ctx, func(tx persistence.Tx) error {
		lock, err := tx.GetBalanceLock(ctx, id)
		if isNotFound(err) {
			return h.notFound(event.KindBalanceLock, idStr)
		}
		if err != nil {
			return err
		}
		if !h.fresh(event.KindBalanceLock, idStr, lock.UpdatedAt, p.UpdatedAt) {
			return nil
		}

		before := lock.Status
		switch strings.ToUpper(strings.TrimSpace(p.Status)) {
		case event.LockStatusLocked:
			if lock.Status != state.LockPending && lock.Status != state.LockLocked {
				h.logger.Info().Int64("lock_id", id).Str("status", string(lock.Status)).
					Msg("late LOCKED confirmation ignored")
				return nil
			}
			lock.ReplaceBalances(h.resolver.ResolveBalances(ctx, tx, p.LockedBalances))
			if _, err := lock.MarkAsLocked(); err != nil {
				return err
			}

		case event.LockStatusReleasing:
			if lock.Status == state.LockReleasing {
				break
			}
			if err := lock.StartRelease(); err != nil {
				h.logger.Info().Err(err).Int64("lock_id", id).Msg("release start ignored")
				return nil
			}

		case event.LockStatusReleased:
			if lock.Status == state.LockUnlocked {
				break
			}
			if err := lock.Release(); err != nil {
				h.logger.Info().Err(err).Int64("lock_id", id).Msg("release ignored")
				return nil
			}

		default:
			h.logger.Warn().Int64("lock_id", id).Str("status", p.Status).Msg("unknown balance lock status")
			return nil
		}

		if lock.Status != before {
			h.transitioned(event.KindBalanceLock, string(lock.Status))
		}
		if p.LockID != "" {
			lock.EngineLockID = p.LockID
		}
		lock.UpdatedAt = MessageTime(p.UpdatedAt)
		return tx.SaveBalanceLock(ctx, lock)
	})
}
