package epochsource

import (
	"context"

	"github.com/chainswap/witness/pkg/chainsource"
)

// VaultHeader pairs a header with the vault whose active range claims it.
type VaultHeader[H comparable, D any] struct {
	Vault  *Vault
	Header chainsource.Header[H, D]
}

// ChunkedByVault filters a shared header sequence down to the blocks one vault
// may claim: index >= startIndex (the checkpoint-gated resume height, at least
// the vault's ActiveFromBlock) and, once the historic signal has fired,
// index < the historic bound. The output terminates when the vault's expired
// signal fires, when every block up to a known historic bound has been
// delivered, or when the input closes.
//
// Blocks below a historic bound keep flowing while the vault is
// historic-but-not-expired; being historic only caps the range, it does not
// stop draining. Consecutive vaults therefore process concurrently near a
// rotation boundary, and downstream consumers deduplicate by
// (epoch, block) checkpoint identity, never by wall-clock order.
func ChunkedByVault[H comparable, D any](
	ctx context.Context,
	vault *Vault,
	startIndex uint64,
	in <-chan chainsource.Header[H, D],
) <-chan VaultHeader[H, D] {
	out := make(chan VaultHeader[H, D])
	go func() {
		defer close(out)

		var delivered uint64
		haveDelivered := false
		for {
			// Once the bound is known and everything below it has been
			// delivered, the vault has nothing further to claim.
			if bound, historic := vault.Historic(); historic {
				if bound == 0 || startIndex >= bound ||
					(haveDelivered && delivered+1 >= bound) {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-vault.ExpiredSignal.Done():
				return
			case h, ok := <-in:
				if !ok {
					return
				}
				if h.Index < startIndex {
					continue
				}
				if bound, historic := vault.Historic(); historic && h.Index >= bound {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-vault.ExpiredSignal.Done():
					return
				case out <- VaultHeader[H, D]{Vault: vault, Header: h}:
					delivered = h.Index
					haveDelivered = true
				}
			}
		}
	}()
	return out
}
