package epochsource

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// vaultBuffer bounds how many vault announcements can be pending before the
// feed consumer applies backpressure.
const vaultBuffer = 16

// VaultInfo carries the chain-specific aggregate signing key and the external
// block height at which that key became active. The key encoding is opaque to
// the pipeline; only the per-chain drivers interpret it.
type VaultInfo struct {
	AggKey          []byte
	ActiveFromBlock uint64
}

// Vault is one epoch's per-chain key-set and active range. HistoricSignal
// fires once a successor vault is known, carrying the exclusive upper bound of
// blocks this vault may claim; ExpiredSignal fires once the vault is fully
// retired. A vault can be historic-but-not-expired for an extended period
// while it drains blocks near its boundary.
type Vault struct {
	EpochIndex     uint32
	Info           VaultInfo
	HistoricSignal *Signal[uint64]
	ExpiredSignal  *Signal[struct{}]
}

// Historic reports whether an upper bound for this vault is known, and what it
// is.
func (v *Vault) Historic() (uint64, bool) {
	return v.HistoricSignal.Value()
}

// EventKind discriminates the ledger's epoch feed announcements.
type EventKind int

const (
	// EventNewCurrent announces a new current vault.
	EventNewCurrent EventKind = iota
	// EventHistoric fixes the exclusive upper block bound for a vault.
	EventHistoric
	// EventExpired retires a vault whose blocks are fully drained.
	EventExpired
)

// Event is one announcement from the ledger's epoch/vault feed.
type Event struct {
	Kind          EventKind
	EpochIndex    uint32
	Info          VaultInfo // set for EventNewCurrent
	HistoricBound uint64    // set for EventHistoric
}

// Source consumes the ledger's epoch feed and exposes the resulting vaults.
// Exactly one vault is current (non-historic) at a time; a retiring vault and
// its successor coexist until the retiring vault's expired signal fires.
type Source struct {
	lggr   *zap.SugaredLogger
	vaults chan *Vault

	mu      sync.Mutex
	byEpoch map[uint32]*Vault
	current *Vault
}

// NewSource starts consuming the given feed. Each EventNewCurrent is delivered
// on Vaults exactly once; Historic/Expired events fire the matching vault's
// signals. The Vaults channel closes when the feed closes or ctx is cancelled.
func NewSource(ctx context.Context, feed <-chan Event, lggr *zap.SugaredLogger) *Source {
	s := &Source{
		lggr:    lggr.With("component", "EpochSource"),
		vaults:  make(chan *Vault, vaultBuffer),
		byEpoch: make(map[uint32]*Vault),
	}
	go s.run(ctx, feed)
	return s
}

// Vaults returns the sequence of announced vaults.
func (s *Source) Vaults() <-chan *Vault {
	return s.vaults
}

// Current returns the current (non-historic) vault, if one is known. Used by
// consumers that report against "the epoch right now" rather than a block
// range, like chain tracking.
func (s *Source) Current() (*Vault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

func (s *Source) run(ctx context.Context, feed <-chan Event) {
	defer close(s.vaults)

	for {
		var ev Event
		select {
		case <-ctx.Done():
			return
		case got, ok := <-feed:
			if !ok {
				return
			}
			ev = got
		}

		switch ev.Kind {
		case EventNewCurrent:
			vault := &Vault{
				EpochIndex:     ev.EpochIndex,
				Info:           ev.Info,
				HistoricSignal: NewSignal[uint64](),
				ExpiredSignal:  NewSignal[struct{}](),
			}

			s.mu.Lock()
			if _, exists := s.byEpoch[ev.EpochIndex]; exists {
				s.mu.Unlock()
				s.lggr.Errorw("duplicate vault announcement ignored", "epoch", ev.EpochIndex)
				continue
			}
			if s.current != nil {
				// The predecessor becomes historic the moment its successor
				// is known; its upper bound is the successor's start.
				s.lggr.Infow("vault rotating to historic",
					"epoch", s.current.EpochIndex,
					"bound", ev.Info.ActiveFromBlock,
					"successor", ev.EpochIndex)
				s.current.HistoricSignal.Fire(ev.Info.ActiveFromBlock)
			}
			s.byEpoch[ev.EpochIndex] = vault
			s.current = vault
			s.mu.Unlock()

			s.lggr.Infow("new current vault",
				"epoch", ev.EpochIndex, "activeFromBlock", ev.Info.ActiveFromBlock)
			select {
			case <-ctx.Done():
				return
			case s.vaults <- vault:
			}

		case EventHistoric:
			s.mu.Lock()
			vault, ok := s.byEpoch[ev.EpochIndex]
			if ok && s.current == vault {
				s.current = nil
			}
			s.mu.Unlock()
			if !ok {
				s.lggr.Warnw("historic event for unknown vault", "epoch", ev.EpochIndex)
				continue
			}
			s.lggr.Infow("vault historic", "epoch", ev.EpochIndex, "bound", ev.HistoricBound)
			vault.HistoricSignal.Fire(ev.HistoricBound)

		case EventExpired:
			s.mu.Lock()
			vault, ok := s.byEpoch[ev.EpochIndex]
			delete(s.byEpoch, ev.EpochIndex)
			s.mu.Unlock()
			if !ok {
				s.lggr.Warnw("expired event for unknown vault", "epoch", ev.EpochIndex)
				continue
			}
			if _, historic := vault.Historic(); !historic {
				s.lggr.Errorw("vault expired before it was historic", "epoch", ev.EpochIndex)
			}
			s.lggr.Infow("vault expired", "epoch", ev.EpochIndex)
			vault.ExpiredSignal.Fire(struct{}{})
		}
	}
}
