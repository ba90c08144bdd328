// Package ledgercored implements the daemon that wires the Event Source,
// the Acquired-Balance Rebuilder and the Allowance Pusher into one
// continuously-running pipeline (spec §5), plus the admin HTTP API fronting
// the Spend Authorizer's Owner-only operations.
package ledgercored

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"subledger/crypto"
	"subledger/native/acquired"
	"subledger/native/allowance"
	"subledger/native/eventsource"
	"subledger/native/ledger"
	"subledger/native/priceoracle"
	"subledger/native/spendauth"
	"subledger/observability/metrics"
)

// TokenDecimalsRegistry resolves a token's decimal count for USD valuation
// (spec §6: token_value_usd = amount * price_18 / 10^token_decimals). Tokens
// absent from the map default to 18 decimals, the common ERC-20 convention.
type TokenDecimalsRegistry struct {
	mu    sync.RWMutex
	table map[string]uint8
}

// NewTokenDecimalsRegistry returns a registry seeded from table.
func NewTokenDecimalsRegistry(table map[string]uint8) *TokenDecimalsRegistry {
	if table == nil {
		table = make(map[string]uint8)
	}
	return &TokenDecimalsRegistry{table: table}
}

// Decimals returns the configured decimals for token, defaulting to 18.
func (r *TokenDecimalsRegistry) Decimals(token crypto.Address) uint8 {
	if r == nil {
		return 18
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.table[string(token.Bytes())]; ok {
		return d
	}
	return 18
}

// Set records token's decimal count.
func (r *TokenDecimalsRegistry) Set(token crypto.Address, decimals uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[string(token.Bytes())] = decimals
}

// Cycle is the single in-flight-cycle orchestrator described in spec §5: it
// polls the Event Source, rebuilds acquired-balance state per sub-account,
// recomputes each sub-account's allowance, and pushes updates worth
// submitting. A shared mutex also covers the block-poller, so a triggered
// refresh arriving mid-cycle is dropped rather than queued.
type Cycle struct {
	mu sync.Mutex

	source      *eventsource.Source
	ledgerStore *ledger.Store
	subStore    *spendauth.Store
	priceCache  *priceoracle.Cache
	decimals    *TokenDecimalsRegistry
	pusher      *allowance.Pusher
	pushState   allowanceStateReader
	policy      allowance.Policy
	hub         *EventHub

	// workerLimit bounds per-sub-account rebuild parallelism (spec §5: "a
	// bounded worker pool ... for per-sub-account rebuild parallelism").
	workerLimit int

	clock func() time.Time
}

// allowanceStateReader is the read half of native/allowance.Store this
// package needs, kept narrow for testability.
type allowanceStateReader interface {
	GetPushState(sub crypto.Address) (allowance.PushState, bool, error)
	PutPushState(sub crypto.Address, push allowance.PushState) error
}

// NewCycle constructs a Cycle from its collaborators.
func NewCycle(
	source *eventsource.Source,
	ledgerStore *ledger.Store,
	subStore *spendauth.Store,
	priceCache *priceoracle.Cache,
	decimals *TokenDecimalsRegistry,
	pusher *allowance.Pusher,
	pushState allowanceStateReader,
	policy allowance.Policy,
	workerLimit int,
) *Cycle {
	if workerLimit <= 0 {
		workerLimit = 4
	}
	return &Cycle{
		source:      source,
		ledgerStore: ledgerStore,
		subStore:    subStore,
		priceCache:  priceCache,
		decimals:    decimals,
		pusher:      pusher,
		pushState:   pushState,
		policy:      policy,
		workerLimit: workerLimit,
		clock:       time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (c *Cycle) SetClock(clock func() time.Time) {
	if c == nil || clock == nil {
		return
	}
	c.clock = clock
}

// SetEventHub attaches the hub Cycle publishes PushEvents to. Nil (the
// zero value) disables publishing, which is the default so tests that
// construct a Cycle directly don't need a hub.
func (c *Cycle) SetEventHub(hub *EventHub) {
	if c == nil {
		return
	}
	c.hub = hub
}

func (c *Cycle) publish(sub crypto.Address, reason, status string, allowanceAmt *big.Int, now int64) {
	if c.hub == nil {
		return
	}
	c.hub.Publish(PushEvent{
		SubAccount: subAccountLabel(sub),
		Reason:     reason,
		Allowance:  bigStringOrZero(allowanceAmt),
		Status:     status,
		Timestamp:  now,
	})
}

func bigStringOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Run executes exactly one Event Source -> Rebuilder -> Pusher cycle. If a
// cycle is already running, the call returns immediately and increments the
// skipped-cycle counter instead of blocking (spec §5: "a triggered refresh
// is dropped, not queued").
func (c *Cycle) Run(ctx context.Context) error {
	if !c.mu.TryLock() {
		metrics.Core().IncRebuildCycleSkipped()
		return nil
	}
	defer c.mu.Unlock()

	start := c.clock()
	defer func() {
		metrics.Core().ObserveRebuildCycle(c.clock().Sub(start).Seconds())
	}()

	if err := c.source.Poll(ctx); err != nil {
		return fmt.Errorf("ledgercored: poll event source: %w", err)
	}

	subs, err := c.subStore.ListAllEOAs()
	if err != nil {
		return fmt.Errorf("ledgercored: list sub-accounts: %w", err)
	}
	metrics.Core().SetLiveEOAs(float64(len(subs)))

	tokens := make(chan struct{}, c.workerLimit)
	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))
	for _, sub := range subs {
		sub := sub
		tokens <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-tokens }()
			if err := c.processSubAccount(ctx, sub); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Cycle) processSubAccount(ctx context.Context, sub crypto.Address) error {
	events, err := c.ledgerStore.ForSubAccount(sub)
	if err != nil {
		return fmt.Errorf("ledgercored: load events for sub-account: %w", err)
	}
	now := c.clock().UTC().Unix()
	state := acquired.Rebuild(sub, events, priceLookup(ctx, c.priceCache), now)

	push, hasPush, err := c.pushState.GetPushState(sub)
	if err != nil {
		return fmt.Errorf("ledgercored: load push state: %w", err)
	}

	balancesByKey := state.AcquiredBalances()
	safeValueUSD := big.NewInt(0)
	seen := make(map[string]bool)
	var tokens []crypto.Address
	var balances []*big.Int
	for _, token := range state.TokenAddresses() {
		balance := balancesByKey[tokenKeyFor(token)]
		if balance == nil {
			balance = big.NewInt(0)
		}
		if !acquired.FitsUint256(balance) {
			return fmt.Errorf("ledgercored: rebuild acquired balance for sub-account: %w", acquired.ErrBalanceExceedsUint256)
		}
		tokens = append(tokens, token)
		balances = append(balances, balance)
		seen[tokenKeyFor(token)] = true
		metrics.Core().SetAcquiredBalance(subAccountLabel(sub), tokenLabel(token), bigToFloat(balance))

		price, ok := priceLookup(ctx, c.priceCache)(token)
		if !ok {
			continue
		}
		usdValue := priceoracle.TokenValueUSD(balance, price, c.decimals.Decimals(token))
		safeValueUSD = new(big.Int).Add(safeValueUSD, usdValue)
	}

	// Tokens the rebuild no longer carries (the acquired queue fully drained
	// since the last push) are cleared rather than left at their last
	// nonzero on-chain balance.
	for _, token := range push.Tokens {
		key := tokenKeyFor(token)
		if seen[key] {
			continue
		}
		tokens = append(tokens, token)
		balances = append(balances, big.NewInt(0))
		seen[key] = true
		metrics.Core().SetAcquiredBalance(subAccountLabel(sub), tokenLabel(token), 0)
	}

	newAllowance, err := allowance.ComputeNewAllowance(safeValueUSD, state.TotalSpendingInWindow, c.policy)
	if err != nil {
		return fmt.Errorf("ledgercored: compute allowance for sub-account: %w", err)
	}

	onChainAllowance := big.NewInt(0)
	if hasPush && push.Allowance != nil {
		onChainAllowance = push.Allowance
	}
	lastUpdate := int64(0)
	if hasPush {
		lastUpdate = push.LastUpdateTimestamp
	}

	decision, reason := allowance.ShouldUpdate(allowance.UpdateDecisionInput{
		NewAllowance:        newAllowance,
		OnChainAllowance:    onChainAllowance,
		BalancesChanged:     balancesChanged(push.Tokens, push.Balances, tokens, balances),
		LastUpdateTimestamp: lastUpdate,
		Now:                 now,
		Policy:              c.policy,
	})
	if !decision {
		return nil
	}

	if err := c.pusher.Push(ctx, sub, newAllowance, tokens, balances); err != nil {
		metrics.Core().ObservePusherSubmission("failed")
		c.publish(sub, reason, "failed", newAllowance, now)
		return fmt.Errorf("ledgercored: push allowance update (%s): %w", reason, err)
	}
	metrics.Core().ObservePusherSubmission("confirmed")
	c.publish(sub, reason, "confirmed", newAllowance, now)
	return c.pushState.PutPushState(sub, allowance.PushState{
		Allowance:           newAllowance,
		Tokens:              tokens,
		Balances:            balances,
		LastUpdateTimestamp: now,
	})
}

// balancesChanged diffs two token/balance pairs by token identity rather
// than slice position: native/acquired.State.TokenAddresses returns tokens
// in map-iteration order, so two cycles with identical holdings can still
// produce differently-ordered slices.
func balancesChanged(prevTokens []crypto.Address, prevBalances []*big.Int, nextTokens []crypto.Address, nextBalances []*big.Int) bool {
	if len(prevTokens) != len(nextTokens) {
		return true
	}
	prevByKey := make(map[string]*big.Int, len(prevTokens))
	for i, token := range prevTokens {
		if i < len(prevBalances) {
			prevByKey[tokenKeyFor(token)] = prevBalances[i]
		}
	}
	for i, token := range nextTokens {
		prevBalance, ok := prevByKey[tokenKeyFor(token)]
		if !ok {
			return true
		}
		nextBalance := nextBalances[i]
		if prevBalance == nil || nextBalance == nil || prevBalance.Cmp(nextBalance) != 0 {
			return true
		}
	}
	return false
}

func tokenKeyFor(token crypto.Address) string {
	return string(token.Bytes())
}

func subAccountLabel(sub crypto.Address) string {
	return fmt.Sprintf("%x", sub.Bytes())
}

func tokenLabel(token crypto.Address) string {
	return fmt.Sprintf("%x", token.Bytes())
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}
