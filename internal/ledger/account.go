package ledger

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccountKind is the middle segment of a composite account key.
type AccountKind string

const (
	KindCoin AccountKind = "coin"
	KindFiat AccountKind = "fiat"
	// KindAccount leaves the account table unspecified; coin is tried first.
	KindAccount AccountKind = "account"
)

// AccountKey is a parsed "{ownerId}-{kind}-{accountId}" reference.
type AccountKey struct {
	OwnerID   int64
	Kind      AccountKind
	AccountID int64
}

func (k AccountKey) String() string {
	return strconv.FormatInt(k.OwnerID, 10) + "-" + string(k.Kind) + "-" + strconv.FormatInt(k.AccountID, 10)
}

// ParseAccountKey parses a composite account key. Unknown kinds, missing
// segments and non-integer ids all report false.
func ParseAccountKey(key string) (AccountKey, bool) {
	parts := strings.Split(strings.TrimSpace(key), "-")
	if len(parts) < 3 {
		return AccountKey{}, false
	}
	owner, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return AccountKey{}, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return AccountKey{}, false
	}
	kind := AccountKind(strings.ToLower(parts[1]))
	switch kind {
	case KindCoin, KindFiat, KindAccount:
	default:
		return AccountKey{}, false
	}
	return AccountKey{OwnerID: owner, Kind: kind, AccountID: id}, true
}

// ParseAccountID returns the third segment of a composite key as an id.
// It does not validate the owner or kind segments.
func ParseAccountID(key string) (int64, bool) {
	parts := strings.Split(strings.TrimSpace(key), "-")
	if len(parts) < 3 || parts[2] == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type CoinAccount struct {
	ID            int64
	UserID        int64
	Currency      string
	Balance       decimal.Decimal
	FrozenBalance decimal.Decimal
	UpdatedAt     time.Time
}

type FiatAccount struct {
	ID        int64
	UserID    int64
	Currency  string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// AccountLookup loads accounts inside the caller's transaction. Both
// methods return (nil, nil) when the account does not exist.
type AccountLookup interface {
	GetCoinAccount(ctx context.Context, id int64) (*CoinAccount, error)
	GetFiatAccount(ctx context.Context, id int64) (*FiatAccount, error)
}

// Resolver turns composite account keys from engine payloads into local
// account ids and currency labels.
type Resolver struct {
	logger zerolog.Logger
}

func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// AccountID is ParseAccountID with a debug line for rejected keys.
func (r *Resolver) AccountID(key string) (int64, bool) {
	id, ok := ParseAccountID(key)
	if !ok && key != "" {
		r.logger.Debug().Str("account_key", key).Msg("unparseable account key")
	}
	return id, ok
}

// ResolveCurrencyLabel returns the currency of the account referenced by
// key, or key itself when the account cannot be found for that owner.
func (r *Resolver) ResolveCurrencyLabel(ctx context.Context, lookup AccountLookup, key string) string {
	ak, ok := ParseAccountKey(key)
	if !ok {
		r.logger.Debug().Str("account_key", key).Msg("unparseable account key, keeping raw key")
		return key
	}

	if ak.Kind == KindCoin || ak.Kind == KindAccount {
		acc, err := lookup.GetCoinAccount(ctx, ak.AccountID)
		if err != nil {
			r.logger.Warn().Err(err).Str("account_key", key).Msg("coin account lookup failed")
		} else if acc != nil && acc.UserID == ak.OwnerID {
			return acc.Currency
		}
	}
	if ak.Kind == KindFiat || ak.Kind == KindAccount {
		acc, err := lookup.GetFiatAccount(ctx, ak.AccountID)
		if err != nil {
			r.logger.Warn().Err(err).Str("account_key", key).Msg("fiat account lookup failed")
		} else if acc != nil && acc.UserID == ak.OwnerID {
			return acc.Currency
		}
	}

	r.logger.Debug().Str("account_key", key).Msg("account not found, keeping raw key")
	return key
}

// ResolveBalances builds a replacement snapshot keyed by currency label.
// Two keys resolving to the same currency are summed when both amounts
// parse as decimals; otherwise the later one is kept under its raw key.
func (r *Resolver) ResolveBalances(ctx context.Context, lookup AccountLookup, balances map[string]string) map[string]string {
	keys := make([]string, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(balances))
	for _, key := range keys {
		amount := balances[key]
		label := r.ResolveCurrencyLabel(ctx, lookup, key)
		prev, seen := out[label]
		if !seen {
			out[label] = amount
			continue
		}
		a, errA := decimal.NewFromString(prev)
		b, errB := decimal.NewFromString(amount)
		if errA != nil || errB != nil {
			// keep both: the later entry stays under its raw key
			if _, taken := out[key]; taken {
				r.logger.Warn().Str("account_key", key).Str("currency", label).
					Msg("unparseable balance collides with an existing entry")
				continue
			}
			out[key] = amount
			continue
		}
		out[label] = a.Add(b).String()
	}
	return out
}
