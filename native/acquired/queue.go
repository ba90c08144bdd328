package acquired

import "math/big"

// ConsumedPortion is one entry consumed from an acquired queue, preserving
// its original timestamp for downstream inheritance.
type ConsumedPortion struct {
	Amount            *big.Int
	OriginalTimestamp int64
}

// ConsumeResult aggregates the outcome of consuming an acquired queue.
type ConsumeResult struct {
	Consumed  []ConsumedPortion
	Total     *big.Int // sum of Consumed amounts
	Remainder *big.Int // unfulfilled portion; funded from non-acquired balance
}

// ConsumeFromQueue implements consume_from_queue (spec §4.2): repeatedly
// inspects the head of the queue. An expired head (original_timestamp <
// eventTS - windowDuration) is dropped without being consumed. Otherwise
// min(head.amount, remaining) is consumed, partially decrementing the head in
// place. Returns the updated queue, the consumed entries, and any unfulfilled
// remainder — the remainder is not an error.
func ConsumeFromQueue(queue AcquiredQueue, amount *big.Int, eventTS int64, windowDuration int64) (AcquiredQueue, ConsumeResult) {
	remaining := new(big.Int).Set(amount)
	result := ConsumeResult{Total: big.NewInt(0)}
	expiryCutoff := eventTS - windowDuration

	out := make(AcquiredQueue, 0, len(queue))
	i := 0
	for i < len(queue) && remaining.Sign() > 0 {
		head := queue[i]
		if head.OriginalTimestamp < expiryCutoff {
			// Expired: dropped without being consumed, never counted as
			// acquired at event time.
			i++
			continue
		}
		take := new(big.Int).Set(remaining)
		if head.Amount.Cmp(take) < 0 {
			take = new(big.Int).Set(head.Amount)
		}
		result.Consumed = append(result.Consumed, ConsumedPortion{
			Amount:            new(big.Int).Set(take),
			OriginalTimestamp: head.OriginalTimestamp,
		})
		result.Total = new(big.Int).Add(result.Total, take)
		remaining = new(big.Int).Sub(remaining, take)

		rest := new(big.Int).Sub(head.Amount, take)
		if rest.Sign() > 0 {
			out = append(out, AcquiredEntry{Amount: rest, OriginalTimestamp: head.OriginalTimestamp})
		}
		i++
	}
	// Whatever is left of the queue (untouched, unexpired tail) is preserved.
	out = append(out, queue[i:]...)
	result.Remainder = remaining
	return out, result
}

// PruneExpired removes every entry (not just the front) with
// OriginalTimestamp < now - windowDuration. The queue is not sorted by
// timestamp, so a single filter pass over the whole slice is required (spec
// §4.2: "Expiry pruning").
func PruneExpired(queue AcquiredQueue, now int64, windowDuration int64) AcquiredQueue {
	cutoff := now - windowDuration
	out := make(AcquiredQueue, 0, len(queue))
	for _, e := range queue {
		if e.OriginalTimestamp < cutoff {
			continue
		}
		out = append(out, e)
	}
	return out
}

// AppendEntry appends a new acquired entry to the queue if amount > 0.
func AppendEntry(queue AcquiredQueue, amount *big.Int, originalTimestamp int64) AcquiredQueue {
	if amount == nil || amount.Sign() <= 0 {
		return queue
	}
	return append(queue, AcquiredEntry{Amount: new(big.Int).Set(amount), OriginalTimestamp: originalTimestamp})
}
