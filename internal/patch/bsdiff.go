// Package patch adapts the BSDIFF binary-patch algorithm to the shape the
// install-operation interpreter needs: (old, patch) -> new. The algorithm
// itself is an external collaborator (spec §1); this package only wraps it.
package patch

import (
	"fmt"

	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// Apply applies patchBytes (a BSDIFF/BrotliBsdiff patch) to oldBytes and
// returns the reconstructed new bytes. A malformed patch or mismatched old
// data surfaces as a plain error — the caller treats it as recoverable
// (spec §7 tier 3: warn and skip the operation).
func Apply(oldBytes, patchBytes []byte) ([]byte, error) {
	newBytes, err := bspatch.Bytes(oldBytes, patchBytes)
	if err != nil {
		return nil, fmt.Errorf("bsdiff: %w", err)
	}
	return newBytes, nil
}
