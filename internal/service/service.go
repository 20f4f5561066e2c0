// Package service hosts the pool engine behind an HTTP API: pool and
// position lifecycle, share accounting queries, reward operations, and the
// journal. The engine itself is single-threaded and cooperative; the
// service serializes all mutations behind one mutex (single-instance). For
// horizontal scaling, replace with distributed locking or database-level
// optimistic concurrency.
//
// All monetary values cross the wire as decimal strings, never float64
// for money.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/vaultic/pool-engine/internal/access"
	"github.com/vaultic/pool-engine/internal/accrual"
	"github.com/vaultic/pool-engine/internal/asset"
	"github.com/vaultic/pool-engine/internal/fixed"
	"github.com/vaultic/pool-engine/internal/limits"
	"github.com/vaultic/pool-engine/internal/pool"
	"github.com/vaultic/pool-engine/internal/position"
	"github.com/vaultic/pool-engine/internal/store"
)

// ErrPoolNotFound is returned for unknown pool identifiers.
var ErrPoolNotFound = errors.New("service: pool not found")

// ErrPoolExists is returned when creating a pool with a taken ID.
var ErrPoolExists = errors.New("service: pool already exists")

// wallClock reads real time. The engine never reads the wall clock itself;
// the host decides what "now" is, which lets tests drive time explicitly.
type wallClock struct{}

func (wallClock) Now() uint64 { return uint64(time.Now().Unix()) }

// Config wires the service to its collaborators. Store and Admin are
// required; the rest default to in-memory reference implementations.
type Config struct {
	Store store.Store
	Admin string // account granted admin and manager roles

	Ledger *asset.MemoryLedger
	Oracle *asset.FixedRateOracle
	Caps   *limits.Caps
	Clock  accrual.Clock
	Hub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// poolEntry pairs a pool with its position registry and host metadata.
type poolEntry struct {
	pool     *pool.Pool
	registry *position.Registry
	yield    *asset.SimYieldSource
	policy   string // "none", "linear", "reward"
	created  time.Time
}

// Service handles engine operations over HTTP.
type Service struct {
	store  store.Store
	ledger *asset.MemoryLedger
	oracle *asset.FixedRateOracle
	roles  *access.Roles
	caps   *limits.Caps
	clock  accrual.Clock
	wsHub  *WSHub

	mu           sync.Mutex
	pools        map[string]*poolEntry
	positionPool map[string]string // position ID -> pool ID
}

// NewService creates the engine host.
func NewService(cfg Config) *Service {
	if cfg.Ledger == nil {
		cfg.Ledger = asset.NewMemoryLedger()
	}
	if cfg.Oracle == nil {
		cfg.Oracle = asset.NewFixedRateOracle()
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	return &Service{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		oracle:       cfg.Oracle,
		roles:        access.NewRoles(cfg.Admin),
		caps:         cfg.Caps,
		clock:        cfg.Clock,
		wsHub:        cfg.Hub,
		pools:        make(map[string]*poolEntry),
		positionPool: make(map[string]string),
	}
}

// Roles exposes the capability set, for host wiring (e.g. seeding an
// oracle-trigger account at startup).
func (s *Service) Roles() *access.Roles { return s.roles }

// Ledger exposes the asset ledger, for host wiring and tests.
func (s *Service) Ledger() *asset.MemoryLedger { return s.ledger }

// Oracle exposes the rate oracle, for host wiring and tests.
func (s *Service) Oracle() *asset.FixedRateOracle { return s.oracle }

func (s *Service) entry(id string) (*poolEntry, error) {
	e, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return e, nil
}

func (s *Service) entryForPosition(positionID string) (*poolEntry, error) {
	poolID, ok := s.positionPool[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", position.ErrNotFound, positionID)
	}
	return s.entry(poolID)
}

// buildPolicy constructs an accrual policy from its wire parameters. Rates
// are wad-scaled mantissas carried as decimal strings.
func buildPolicy(name, ratePerSecond string, rewardDuration uint64) (accrual.Policy, error) {
	switch name {
	case "", "none":
		return accrual.None{}, nil
	case "linear":
		mant, err := parseAmount(ratePerSecond)
		if err != nil {
			return nil, fmt.Errorf("rate_per_second: %w", err)
		}
		return accrual.NewLinearInterest(fixed.FromMantissa(mant))
	case "reward":
		return accrual.NewFixedDurationReward(rewardDuration)
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

// --- wire helpers ---

// parseAmount decodes a non-empty decimal string into a 256-bit integer.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, errors.New("value is required")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	return v, nil
}

// qToDecimal renders a wad-scaled fixed-point value as a decimal.
func qToDecimal(q fixed.Q) decimal.Decimal {
	d, err := decimal.NewFromString(q.Dec())
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-18)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pool.ErrZeroAmount),
		errors.Is(err, position.ErrInvalidTerms),
		errors.Is(err, accrual.ErrInvalidRate):
		return http.StatusBadRequest
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrPoolNotFound),
		errors.Is(err, position.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPoolExists),
		errors.Is(err, pool.ErrPaused),
		errors.Is(err, pool.ErrReentrantCall),
		errors.Is(err, pool.ErrInsufficientShares),
		errors.Is(err, pool.ErrNoRewardSchedule),
		errors.Is(err, position.ErrInvalidState),
		errors.Is(err, position.ErrInsufficientCollateral),
		errors.Is(err, asset.ErrInsufficientBalance),
		errors.Is(err, limits.ErrPoolCapExceeded),
		errors.Is(err, limits.ErrAccountCapExceeded):
		return http.StatusConflict
	case errors.Is(err, pool.ErrStaleValuation),
		errors.Is(err, pool.ErrArithmeticOverflow),
		errors.Is(err, accrual.ErrClockReversal):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// rejectReason labels a rejection for metrics without leaking cardinality.
func rejectReason(err error) string {
	switch status := statusFor(err); status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusForbidden:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "arithmetic"
	default:
		return "internal"
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError classifies an engine error and writes it.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

// writeJSON writes a JSON success response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body, rejecting trailing garbage.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

// normalizePolicy keeps stored policy names canonical.
func normalizePolicy(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "none"
	}
	return name
}
