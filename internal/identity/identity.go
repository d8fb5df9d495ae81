// Package identity derives deterministic event identifiers from
// producer-class-specific components, per the event-ID contract: the
// hash-input string grammar, including the literal ":" separator and
// decimal encoding of the floored millisecond integer, is external
// contract and must be reproduced byte-for-byte by any producer.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

// IDPrefix is prepended to every derived event identifier.
const IDPrefix = "evt_"

// standardFloorMs is the millisecond-flooring window for Standard producers.
const standardFloorMs = 10

// Standard derives an event ID for interactive and CI producers, flooring
// producedAt to a 10ms window so retries within the window collide
// deliberately.
func Standard(orgID, tool, eventType, assetID string, producedAt time.Time) string {
	floored := floorMs(producedAt, standardFloorMs)
	input := orgID + ":" + tool + ":" + eventType + ":" + assetID + ":" + strconv.FormatInt(floored, 10)

	return IDPrefix + first32Hex(input)
}

// Sequencer issues a monotonic per-instance counter for High-frequency
// producer IDs, disambiguating events that land in the same 1ms window.
type Sequencer struct {
	counter atomic.Uint64
}

// Next returns the next value in the monotonic sequence, starting at 0.
func (s *Sequencer) Next() uint64 {
	return s.counter.Add(1) - 1
}

// HighFrequency derives an event ID for runtime/firewall producers, flooring
// producedAt to a 1ms window and disambiguating with localSeq.
func HighFrequency(instanceID, eventType, assetID string, producedAt time.Time, localSeq uint64) string {
	floored := floorMs(producedAt, 1)
	input := instanceID + ":" + eventType + ":" + assetID + ":" +
		strconv.FormatInt(floored, 10) + ":" + strconv.FormatUint(localSeq, 10)

	return IDPrefix + first32Hex(input)
}

// floorMs computes floor(t_ms / window) * window, i.e. the largest multiple
// of window not exceeding the timestamp's millisecond value.
func floorMs(t time.Time, window int64) int64 {
	ms := t.UnixMilli()

	return (ms / window) * window
}

// first32Hex returns the first 32 lowercase hex characters of SHA256(input),
// i.e. the first 16 bytes of the digest hex-encoded.
func first32Hex(input string) string {
	sum := sha256.Sum256([]byte(input))

	return hex.EncodeToString(sum[:16])
}
