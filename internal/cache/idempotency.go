package cache

import (
	"context"
	"encoding/json"
	"sync"
)

// Response is a stored HTTP outcome
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type call struct {
	done chan struct{}
	resp Response
	kept bool
}

// Idempotency replays the first outcome for a repeated key. Requests that
// arrive while the first is still running wait for it instead of running
// again.
type Idempotency struct {
	cache    Cache
	mu       sync.Mutex
	inflight map[string]*call
}

// NewIdempotency stores outcomes in c
func NewIdempotency(c Cache) *Idempotency {
	return &Idempotency{cache: c, inflight: make(map[string]*call)}
}

// Do starts the work for key at most once at a time and waits for its
// outcome. The work runs to completion even if ctx ends: the key stays
// in flight until start's channel delivers, so a retry with the same key
// joins it instead of starting over.
//
// Only outcomes for which keep returns true are remembered and replayed. A
// duplicate that waited on an outcome keep rejects starts the work again.
func (i *Idempotency) Do(ctx context.Context, key string, start func() <-chan Response, keep func(Response) bool) (Response, bool, error) {
	for {
		if resp, ok := i.lookup(key); ok {
			return resp, true, nil
		}

		i.mu.Lock()
		c, joined := i.inflight[key]
		if !joined {
			// the previous call may have finished between lookup and Lock
			if resp, ok := i.lookup(key); ok {
				i.mu.Unlock()
				return resp, true, nil
			}
			c = &call{done: make(chan struct{})}
			i.inflight[key] = c
		}
		i.mu.Unlock()

		if !joined {
			go i.finish(key, c, start(), keep)
		}

		select {
		case <-c.done:
		case <-ctx.Done():
			return Response{}, false, ctx.Err()
		}

		if joined && !c.kept {
			continue
		}
		return c.resp, joined, nil
	}
}

func (i *Idempotency) finish(key string, c *call, out <-chan Response, keep func(Response) bool) {
	c.resp = <-out
	c.kept = keep == nil || keep(c.resp)
	if c.kept {
		if data, err := json.Marshal(c.resp); err == nil {
			i.cache.Set(key, data)
		}
	}

	i.mu.Lock()
	delete(i.inflight, key)
	i.mu.Unlock()
	close(c.done)
}

// InFlight reports whether work for key is still running
func (i *Idempotency) InFlight(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.inflight[key]
	return ok
}

func (i *Idempotency) lookup(key string) (Response, bool) {
	var resp Response
	data, ok := i.cache.Get(key)
	if !ok {
		return resp, false
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, false
	}
	return resp, true
}

// NoopCache stores nothing; it disables replay across requests
type NoopCache struct{}

func (NoopCache) Get(string) ([]byte, bool) { return nil, false }
func (NoopCache) Set(string, []byte)        {}
func (NoopCache) Len() int                  { return 0 }
func (NoopCache) Close()                    {}
