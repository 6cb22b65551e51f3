package captions

import (
	"context"
	"fmt"
	"sync"

	"github.com/forPelevin/autoclip/internal/errs"
	"github.com/forPelevin/autoclip/internal/types"
)

// Outcome holds exactly one of Result or Err.
type Outcome struct {
	Result *types.CaptionResult
	Err    error
}

// Fanout captions every clip concurrently, one goroutine per clip, and
// returns the outcomes keyed by clip ordinal. A failing or panicking clip
// never affects its siblings.
func (c *Client) Fanout(ctx context.Context, clips []types.RenderedClip, opts Options) map[int]Outcome {
	outcomes := make([]Outcome, len(clips))

	var wg sync.WaitGroup
	for i, clip := range clips {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = Outcome{Err: errs.Errorf(errs.Caption, "clip %d panicked: %v", clip.Ordinal, r)}
				}
			}()

			res, err := c.Caption(ctx, clip.Ordinal, clip.FilePath, opts)
			if err != nil {
				c.logger.Warn("captioning failed", "clip", clip.Ordinal, "error", err)
				outcomes[i] = Outcome{Err: err}
				return
			}
			outcomes[i] = Outcome{Result: &res}
		}()
	}
	wg.Wait()

	byOrdinal := make(map[int]Outcome, len(clips))
	for i, clip := range clips {
		byOrdinal[clip.Ordinal] = outcomes[i]
	}
	c.logger.Info("caption fan-out finished", "clips", len(clips), "failed", countFailed(outcomes))
	return byOrdinal
}

// Apply records each outcome on its clip: the result or the error text.
func Apply(clips []types.RenderedClip, outcomes map[int]Outcome) {
	for i := range clips {
		o, ok := outcomes[clips[i].Ordinal]
		switch {
		case !ok:
			clips[i].CaptionError = "captioning was not attempted"
		case o.Err != nil:
			clips[i].CaptionError = o.Err.Error()
		case o.Result != nil:
			clips[i].Caption = o.Result
		default:
			clips[i].CaptionError = fmt.Sprintf("clip %d: empty caption outcome", clips[i].Ordinal)
		}
	}
}

func countFailed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
