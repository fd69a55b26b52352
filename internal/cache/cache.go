package cache

import (
	"context"

	"github.com/shieldsms/shield/internal/classify"
)

// VerdictCache stores classification results keyed by message text, so
// identical bodies (smishing blasts hit many recipients with the same text)
// skip a remote round trip. The cache is advisory: lookups and stores may
// fail without affecting classification.
type VerdictCache interface {
	Get(ctx context.Context, text string) (*classify.Verdict, bool)
	Put(ctx context.Context, text string, v *classify.Verdict)
}

// Noop is the VerdictCache used when no Redis address is configured: every
// lookup is a miss and stores are discarded.
type Noop struct{}

func (Noop) Get(context.Context, string) (*classify.Verdict, bool) { return nil, false }

func (Noop) Put(context.Context, string, *classify.Verdict) {}
