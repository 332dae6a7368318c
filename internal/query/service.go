package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SettleLedger/internal/event"
	"SettleLedger/internal/ledger"
	"SettleLedger/internal/observability"
	"SettleLedger/internal/persistence"
)

// ErrUnknownKind is returned for a kind that names no ledger entity.
var ErrUnknownKind = errors.New("unknown entity kind")

// Service provides read-only access to committed records. Lookups run in a
// read-only unit of work and never take row locks.
type Service struct {
	store   persistence.Store
	metrics *observability.Metrics
	now     func() time.Time
}

func NewService(store persistence.Store, metrics *observability.Metrics) *Service {
	return &Service{store: store, metrics: metrics, now: time.Now}
}

// GetRecord returns the record of the given kind. id is the local numeric
// id or, for kinds that have one, the business key: engine trade id, pool
// pair, position/order identifier or tick key.
func (s *Service) GetRecord(ctx context.Context, kindName, id string) (rec *Record, err error) {
	kind, ok := event.ParseEntityKind(kindName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kindName)
	}

	start := s.now()
	defer func() {
		result := "ok"
		switch {
		case errors.Is(err, persistence.ErrNotFound):
			result = "not_found"
		case err != nil:
			result = "error"
		}
		s.metrics.ObserveQuery(kind.String(), result, s.now().Sub(start))
	}()

	rec = &Record{Kind: kind.String(), ID: id}
	err = s.store.View(ctx, func(tx persistence.Tx) error {
		data, related, err := lookup(ctx, tx, kind, id)
		if err != nil {
			return err
		}
		rec.Data = data
		rec.Related = related
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.AsOf = s.now().UTC()
	return rec, nil
}

func lookup(ctx context.Context, tx persistence.Tx, kind event.EntityKind, id string) (any, map[string]any, error) {
	num, numErr := strconv.ParseInt(id, 10, 64)
	numeric := numErr == nil

	switch kind {
	case event.KindTrade:
		t, err := tx.GetTradeByEngineID(ctx, id)
		if numeric && errors.Is(err, persistence.ErrNotFound) {
			t, err = tx.GetTrade(ctx, num)
		}
		if err != nil {
			return nil, nil, err
		}
		related, err := tradeLegs(ctx, tx, t.ID)
		return t, related, err
	case event.KindAmmPool:
		if numeric {
			return one(tx.GetAmmPool(ctx, num))
		}
		return one(tx.GetAmmPoolByPair(ctx, id))
	case event.KindAmmPosition:
		if numeric {
			return one(tx.GetAmmPosition(ctx, num))
		}
		return one(tx.GetAmmPositionByIdentifier(ctx, id))
	case event.KindAmmOrder:
		if numeric {
			return one(tx.GetAmmOrder(ctx, num))
		}
		return one(tx.GetAmmOrderByIdentifier(ctx, id))
	case event.KindTick:
		if numeric {
			return one(tx.GetTick(ctx, num))
		}
		return one(tx.GetTickByKey(ctx, id))
	}

	if !numeric {
		return nil, nil, persistence.ErrNotFound
	}
	switch kind {
	case event.KindBalanceLock:
		return one(tx.GetBalanceLock(ctx, num))
	case event.KindCoinWithdrawal:
		return one(tx.GetCoinWithdrawal(ctx, num))
	case event.KindOffer:
		return one(tx.GetOffer(ctx, num))
	case event.KindMerchantEscrow:
		e, err := tx.GetMerchantEscrow(ctx, num)
		if err != nil {
			return nil, nil, err
		}
		related, err := escrowOperations(ctx, tx, e.ID)
		return e, related, err
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

func one(v any, err error) (any, map[string]any, error) {
	if err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

func tradeLegs(ctx context.Context, tx persistence.Tx, tradeID int64) (map[string]any, error) {
	related := make(map[string]any)
	dep, err := tx.GetFiatDepositByTrade(ctx, tradeID)
	switch {
	case err == nil:
		related["fiat_deposit"] = dep
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, fmt.Errorf("fiat deposit for trade %d: %w", tradeID, err)
	}
	wd, err := tx.GetFiatWithdrawalByTrade(ctx, tradeID)
	switch {
	case err == nil:
		related["fiat_withdrawal"] = wd
	case !errors.Is(err, persistence.ErrNotFound):
		return nil, fmt.Errorf("fiat withdrawal for trade %d: %w", tradeID, err)
	}
	if len(related) == 0 {
		return nil, nil
	}
	return related, nil
}

func escrowOperations(ctx context.Context, tx persistence.Tx, escrowID int64) (map[string]any, error) {
	related := make(map[string]any)
	for _, op := range []ledger.EscrowOperationType{ledger.EscrowMint, ledger.EscrowBurn} {
		row, err := tx.GetEscrowOperation(ctx, escrowID, op)
		switch {
		case err == nil:
			related[string(op)] = row
		case !errors.Is(err, persistence.ErrNotFound):
			return nil, fmt.Errorf("escrow %d %s: %w", escrowID, op, err)
		}
	}
	if len(related) == 0 {
		return nil, nil
	}
	return related, nil
}
