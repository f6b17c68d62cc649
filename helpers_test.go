package witness

import (
	"context"
	"sync"
	"time"

	"github.com/chainswap/witness/pkg/chainsource"
	"github.com/chainswap/witness/pkg/epochsource"
)

// shortGrace is how long tests wait before concluding nothing happened.
const shortGrace = 50 * time.Millisecond

// btcHeader builds a test header with a string hash, matching the reorg
// fixtures: h11("b") and h11("c") are the same height on different forks.
func btcHeader(index uint64, hash string) chainsource.Header[string, struct{}] {
	return chainsource.Header[string, struct{}]{Index: index, Hash: hash}
}

// fakeSource exposes a test-fed channel as a chain source.
type fakeSource struct {
	ch chan chainsource.Header[string, struct{}]
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan chainsource.Header[string, struct{}], 64)}
}

func (s *fakeSource) Stream(ctx context.Context) (<-chan chainsource.Header[string, struct{}], chainsource.Client[string, struct{}]) {
	return s.ch, nil
}

func (s *fakeSource) feed(headers ...chainsource.Header[string, struct{}]) {
	for _, h := range headers {
		s.ch <- h
	}
}

// processedBlock is one ProcessBlock invocation seen by a fake witnesser.
type processedBlock struct {
	epoch uint32
	index uint64
	hash  string
}

// fakeWitnesser emits one ledger call per header and records everything it
// was handed.
type fakeWitnesser struct {
	name string
	err  error

	mu        sync.Mutex
	processed []processedBlock
}

func (w *fakeWitnesser) Name() string { return w.name }

func (w *fakeWitnesser) ProcessBlock(_ context.Context, vault *epochsource.Vault, h chainsource.Header[string, struct{}]) ([]LedgerCall, error) {
	w.mu.Lock()
	w.processed = append(w.processed, processedBlock{epoch: vault.EpochIndex, index: h.Index, hash: h.Hash})
	w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	return []LedgerCall{{Pallet: "BitcoinIngress", Call: "depositWitness", Args: h.Index}}, nil
}

func (w *fakeWitnesser) processedBlocks() []processedBlock {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]processedBlock, len(w.processed))
	copy(out, w.processed)
	return out
}

// submission is one call handed to the fake submitter.
type submission struct {
	call  LedgerCall
	epoch uint32
}

// fakeSubmitter records submitted calls.
type fakeSubmitter struct {
	mu   sync.Mutex
	subs []submission
	err  error
}

func (s *fakeSubmitter) Submit(_ context.Context, call LedgerCall, epochIndex uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.subs = append(s.subs, submission{call: call, epoch: epochIndex})
	return nil
}

func (s *fakeSubmitter) submissions() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]submission, len(s.subs))
	copy(out, s.subs)
	return out
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// newTestVault builds a vault that is current (neither historic nor expired).
func newTestVault(epoch uint32, activeFrom uint64) *epochsource.Vault {
	return &epochsource.Vault{
		EpochIndex:     epoch,
		Info:           epochsource.VaultInfo{AggKey: []byte{0x02}, ActiveFromBlock: activeFrom},
		HistoricSignal: epochsource.NewSignal[uint64](),
		ExpiredSignal:  epochsource.NewSignal[struct{}](),
	}
}
