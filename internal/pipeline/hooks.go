package pipeline

import (
	"context"

	"github.com/nirzaf/Hl7OpenSoup/internal/export"
	"github.com/nirzaf/Hl7OpenSoup/internal/loader"
)

// Hooks provides extension points in the pipeline execution.
// Each hook is called at a specific stage and can modify behavior or perform side effects.
type Hooks struct {
	// BeforeLoad is called with the resolved input paths.
	// Return an error to abort the pipeline.
	BeforeLoad func(ctx context.Context, inputs []string) error

	// AfterLoad is called once every input is read and parsed.
	// Return an error to abort the pipeline.
	AfterLoad func(ctx context.Context, results []*loader.Result) error

	// AfterValidate is called with the validated files.
	// Return an error to abort the pipeline.
	AfterValidate func(ctx context.Context, files []File) error

	// BeforeWrite is called with the export snapshot before it is encoded.
	// Return an error to abort the pipeline.
	BeforeWrite func(ctx context.Context, snap *export.Snapshot) error

	// AfterRun is the final hook, called even if earlier stages failed.
	AfterRun func(ctx context.Context, summary Summary) error
}

// Chain combines two Hooks, calling h's hooks first, then other's hooks.
// If a hook in h returns an error, other's hook is not called.
func (h Hooks) Chain(other Hooks) Hooks {
	return Hooks{
		BeforeLoad:    chainHook(h.BeforeLoad, other.BeforeLoad),
		AfterLoad:     chainHook(h.AfterLoad, other.AfterLoad),
		AfterValidate: chainHook(h.AfterValidate, other.AfterValidate),
		BeforeWrite:   chainHook(h.BeforeWrite, other.BeforeWrite),
		AfterRun:      chainHook(h.AfterRun, other.AfterRun),
	}
}

func chainHook[T any](first, second func(context.Context, T) error) func(context.Context, T) error {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	return func(ctx context.Context, arg T) error {
		if err := first(ctx, arg); err != nil {
			return err
		}
		return second(ctx, arg)
	}
}
