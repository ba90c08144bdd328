package allowance

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"subledger/crypto"
)

// pushStateRow is the relational mirror of storedPushState, used by SQLStore
// when an operator wants PushState durability queryable outside the embedded
// KV store (spec §4.3's "last_update_timestamp ... recorded only after
// confirmation" persists the same way regardless of backend).
type pushStateRow struct {
	SubAccount          string `gorm:"primaryKey"`
	Allowance           string
	TokensHex           string
	BalancesJSON        string
	LastUpdateTimestamp int64
}

func (pushStateRow) TableName() string { return "allowance_push_state" }

// SQLStore is a GORM-backed alternative to Store, implementing the same
// PushState persistence and allowance.ConfirmationTracker surface against a
// relational database instead of the embedded KV store.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed SQLStore at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("allowance: open sqlite store: %w", err)
	}
	return newSQLStore(db)
}

// NewPostgresStore opens a Postgres-backed SQLStore against dsn, for
// deployments that need multi-instance-shared durability rather than a
// single-node embedded database.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("allowance: open postgres store: %w", err)
	}
	return newSQLStore(db)
}

func newSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&pushStateRow{}); err != nil {
		return nil, fmt.Errorf("allowance: migrate push state table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// GetPushState implements the same contract as Store.GetPushState.
func (s *SQLStore) GetPushState(sub crypto.Address) (PushState, bool, error) {
	var row pushStateRow
	err := s.db.First(&row, "sub_account = ?", subAccountKey(sub)).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return PushState{}, false, nil
		}
		return PushState{}, false, fmt.Errorf("allowance: load push state: %w", err)
	}
	out := PushState{
		Allowance:           parseBigOrZero(row.Allowance),
		LastUpdateTimestamp: row.LastUpdateTimestamp,
	}
	if row.TokensHex != "" {
		var tokenHexes []string
		if err := json.Unmarshal([]byte(row.TokensHex), &tokenHexes); err != nil {
			return PushState{}, false, fmt.Errorf("allowance: decode push state tokens: %w", err)
		}
		for _, h := range tokenHexes {
			raw, err := hex.DecodeString(h)
			if err != nil {
				return PushState{}, false, fmt.Errorf("allowance: decode token hex: %w", err)
			}
			addr, err := crypto.NewAddress(crypto.SubAccountPrefix, raw)
			if err != nil {
				return PushState{}, false, err
			}
			out.Tokens = append(out.Tokens, addr)
		}
	}
	if row.BalancesJSON != "" {
		var balanceStrings []string
		if err := json.Unmarshal([]byte(row.BalancesJSON), &balanceStrings); err != nil {
			return PushState{}, false, fmt.Errorf("allowance: decode push state balances: %w", err)
		}
		for _, b := range balanceStrings {
			out.Balances = append(out.Balances, parseBigOrZero(b))
		}
	}
	return out, true, nil
}

// PutPushState implements the same contract as Store.PutPushState.
func (s *SQLStore) PutPushState(sub crypto.Address, push PushState) error {
	tokenHexes := make([]string, 0, len(push.Tokens))
	for _, a := range push.Tokens {
		tokenHexes = append(tokenHexes, hex.EncodeToString(a.Bytes()))
	}
	tokensJSON, err := json.Marshal(tokenHexes)
	if err != nil {
		return fmt.Errorf("allowance: encode push state tokens: %w", err)
	}
	balanceStrings := make([]string, 0, len(push.Balances))
	for _, b := range push.Balances {
		balanceStrings = append(balanceStrings, bigStringOrEmpty(b))
	}
	balancesJSON, err := json.Marshal(balanceStrings)
	if err != nil {
		return fmt.Errorf("allowance: encode push state balances: %w", err)
	}

	row := pushStateRow{
		SubAccount:          subAccountKey(sub),
		Allowance:           bigStringOrEmpty(push.Allowance),
		TokensHex:           string(tokensJSON),
		BalancesJSON:        string(balancesJSON),
		LastUpdateTimestamp: push.LastUpdateTimestamp,
	}
	return s.db.Save(&row).Error
}

// LastUpdateTimestamp implements allowance.ConfirmationTracker.
func (s *SQLStore) LastUpdateTimestamp(sub crypto.Address) (int64, bool, error) {
	push, ok, err := s.GetPushState(sub)
	if err != nil || !ok {
		return 0, ok, err
	}
	return push.LastUpdateTimestamp, true, nil
}

// RecordConfirmed implements allowance.ConfirmationTracker.
func (s *SQLStore) RecordConfirmed(sub crypto.Address, at int64) error {
	push, _, err := s.GetPushState(sub)
	if err != nil {
		return err
	}
	push.LastUpdateTimestamp = at
	return s.PutPushState(sub, push)
}

func subAccountKey(sub crypto.Address) string {
	return hex.EncodeToString(sub.Bytes())
}
