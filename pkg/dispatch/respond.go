package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/httpmockd/httpmockd/pkg/matching"
	"github.com/httpmockd/httpmockd/pkg/mock"
)

// respondMock implements the RESPOND branch of spec.md §4.5: apply the
// mock's configured delay (cancellable), evaluate its response template
// (off the request goroutine when the template is a closure, via the
// blocking pool, since an expr program may itself block), then recompute
// Content-Length from the buffered body. def's hit has already been
// reserved by the caller's selectMock, before the delay below — reserving
// here instead would reopen the race selectMock exists to close.
func (p *Pipeline) respondMock(ctx context.Context, def *mock.MockDefinition, req *matching.Request) (int, []matching.KV, []byte, error) {
	if def.Response.DelayMs > 0 {
		if err := sleepCancellable(ctx, time.Duration(def.Response.DelayMs)*time.Millisecond); err != nil {
			return 0, nil, nil, err
		}
	}

	var status int
	var headers []matching.KV
	var body []byte
	err := p.pool.run(ctx, func() error {
		var evalErr error
		status, headers, body, evalErr = def.Response.Evaluate(req)
		return evalErr
	})
	if err != nil {
		return 0, nil, nil, err
	}

	headers = setContentLength(headers, len(body))
	return status, headers, body, nil
}

// sleepCancellable blocks for d or until ctx is cancelled, whichever comes
// first (spec.md §5 cancellation point).
func sleepCancellable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setContentLength replaces any existing Content-Length header with one
// computed from the actual buffered body, per DESIGN.md's resolution of
// spec.md's Content-Length open question: always recomputed, never trusted
// from a template or upstream response.
func setContentLength(headers []matching.KV, n int) []matching.KV {
	out := make([]matching.KV, 0, len(headers)+1)
	for _, kv := range headers {
		if strings.EqualFold(kv.Key, "Content-Length") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, matching.KV{Key: "Content-Length", Value: strconv.Itoa(n)})
	return out
}
