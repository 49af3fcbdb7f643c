package pow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hsyst/hps-cli/pkg/types"
)

// SolveCeiling is the hard wall-clock limit for one mining session.
const SolveCeiling = 600 * time.Second

const (
	cancelCheckInterval = 1000
	yieldInterval       = 10000
	progressInterval    = time.Second
)

// Result carries a found nonce together with the mining statistics the
// server uses for difficulty feedback.
type Result struct {
	Nonce    uint64
	Hashes   uint64
	Elapsed  time.Duration
	Hashrate float64
}

// NonceString is the decimal wire form of the nonce.
func (r *Result) NonceString() string {
	return fmt.Sprintf("%d", r.Nonce)
}

// ProgressFunc receives mining progress at most once per second.
type ProgressFunc func(nonce, hashes uint64, elapsed time.Duration, hashrate float64)

// Miner searches for partial SHA-256 preimages. At most one solve may
// run at a time.
type Miner struct {
	mu       sync.Mutex
	solving  bool
	log      zerolog.Logger
	progress ProgressFunc
}

// NewMiner creates a miner reporting progress to fn (nil for silent).
func NewMiner(logger zerolog.Logger, fn ProgressFunc) *Miner {
	return &Miner{log: logger, progress: fn}
}

// LeadingZeroBits counts leading zero bits of a digest byte-wise.
func LeadingZeroBits(digest []byte) int {
	count := 0
	for _, b := range digest {
		if b == 0 {
			count += 8
			continue
		}
		count += bits.LeadingZeros8(b)
		break
	}
	return count
}

// Calibrate runs a SHA-256 tight loop over a fresh 16-byte message for
// the given wall-clock window and returns hashes per second.
func Calibrate(window time.Duration) float64 {
	message := make([]byte, 16)
	if _, err := rand.Read(message); err != nil {
		return 0
	}

	buf := make([]byte, len(message)+8)
	copy(buf, message)

	deadline := time.Now().Add(window)
	var nonce, count uint64
	for time.Now().Before(deadline) {
		binary.BigEndian.PutUint64(buf[len(message):], nonce)
		sha256.Sum256(buf)
		nonce++
		count++
	}

	secs := window.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(count) / secs
}

// Solve searches a nonce such that SHA-256(challenge || uint64_be(nonce))
// has at least targetBits leading zero bits. The nonce starts at 0 and
// increments monotonically. The search yields for 1ms every 10000
// nonces, honors ctx cancellation every 1000 nonces and gives up at the
// 600s ceiling with ErrPowTimeout.
func (m *Miner) Solve(ctx context.Context, challengeB64 string, targetBits int, targetSeconds float64, action types.ActionType) (*Result, error) {
	m.mu.Lock()
	if m.solving {
		m.mu.Unlock()
		return nil, fmt.Errorf("miner busy: %w", types.ErrBusy)
	}
	m.solving = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.solving = false
		m.mu.Unlock()
	}()

	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	calibrated := Calibrate(500 * time.Millisecond)
	m.log.Info().
		Str("action", string(action)).
		Int("target_bits", targetBits).
		Float64("target_seconds", targetSeconds).
		Float64("calibrated_hashrate", calibrated).
		Msg("starting mining")

	buf := make([]byte, len(challenge)+8)
	copy(buf, challenge)

	start := time.Now()
	deadline := start.Add(SolveCeiling)
	lastProgress := start
	windowStart := start

	var nonce, hashes, windowHashes uint64
	hashrate := calibrated

	for {
		binary.BigEndian.PutUint64(buf[len(challenge):], nonce)
		digest := sha256.Sum256(buf)
		hashes++
		windowHashes++

		if LeadingZeroBits(digest[:]) >= targetBits {
			elapsed := time.Since(start)
			if w := time.Since(windowStart).Seconds(); w > 0 {
				hashrate = float64(windowHashes) / w
			}
			m.log.Info().
				Uint64("nonce", nonce).
				Uint64("hashes", hashes).
				Dur("elapsed", elapsed).
				Float64("hashrate", hashrate).
				Msg("solution found")
			return &Result{
				Nonce:    nonce,
				Hashes:   hashes,
				Elapsed:  elapsed,
				Hashrate: hashrate,
			}, nil
		}

		nonce++

		if nonce%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("mining cancelled: %w", err)
			}
			now := time.Now()
			if now.After(deadline) {
				return nil, types.ErrPowTimeout
			}
			if now.Sub(lastProgress) >= progressInterval {
				if w := now.Sub(windowStart).Seconds(); w > 0 {
					hashrate = float64(windowHashes) / w
				}
				windowStart = now
				windowHashes = 0
				lastProgress = now
				if m.progress != nil {
					m.progress(nonce, hashes, now.Sub(start), hashrate)
				}
			}
		}
		if nonce%yieldInterval == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}
