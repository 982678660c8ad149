// Package dispatcher runs a batch of pending tool calls against the active
// catalog: splitting out human-in-the-loop calls, capping concurrency on the
// rest, isolating each call's failures from its siblings, and collecting any
// agent handoff the batch produced. Batch.Usage is the slot for sub-LLM
// token usage, but no tool can report usage to it (see Batch.Usage).
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"neuroagent/internal/tool"
)

// Status classifies one Response.
type Status string

const (
	StatusOK         Status = "ok"
	StatusIncomplete Status = "incomplete" // validation failure or runtime error; LLM can retry
	StatusDenied     Status = "denied"     // metadata/authorization failure
)

// Call is one pending tool invocation collected by the Stream Engine from a
// turn's tool-call output items.
type Call struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// Response is the dispatcher's per-call outcome, always produced even for
// calls that never ran (HIL-pending, parallelism-capped, unknown tool).
type Response struct {
	CallID string
	Status Status
	Output string
}

// Pending is a call flagged for human-in-the-loop validation: it did not
// run, and the Stream Engine must break the turn loop and persist a
// pending-validation annotation for it.
type Pending struct {
	CallID string
	Name   string
}

// Batch is the result of dispatching one turn's tool calls.
type Batch struct {
	Responses []Response
	Pending   []Pending

	// Handoff is the last non-nil agent handoff emitted by any call in the
	// batch, scanned in call order (SPEC_FULL.md §4.3): the last call to
	// return one wins over any earlier call's handoff.
	Handoff *string

	// Usage is the per-call-id map of sub-LLM token usage that
	// internal/tokenledger reads to mint call-within-tool
	// TokenConsumptionRecords. tool.Result has no usage field and runOne
	// never returns usage, so Dispatch always leaves this map empty.
	Usage UsageDict
}

// UsageDict mirrors the original's context_variables["usage_dict"]: a
// call-id-keyed map of token usage. Dispatch writes an entry only when
// runOne returns usage (runOne never does), under a mutex, and
// the Stream Engine reads it after the batch's WaitGroup joins.
type UsageDict map[string]Usage

// Usage is one sub-tool invocation's token accounting.
type Usage struct {
	InputTokens       int
	InputCachedTokens int
	OutputTokens      int
	Model             string
}

// Dispatcher runs tool calls against a Registry.
type Dispatcher struct {
	registry    *tool.Registry
	maxParallel int
}

// New builds a Dispatcher. maxParallel must be >= 1.
func New(registry *tool.Registry, maxParallel int) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("dispatcher: registry is required")
	}
	if maxParallel < 1 {
		return nil, fmt.Errorf("dispatcher: maxParallel must be >= 1, got %d", maxParallel)
	}
	return &Dispatcher{registry: registry, maxParallel: maxParallel}, nil
}

// MetaFunc builds the per-call metadata value passed to Tool.Run. Returning
// an error denies the call (SPEC_FULL.md §4.3's "not allowed to run this
// tool" outcome) without touching the tool itself.
type MetaFunc func(call Call) (any, error)

// Dispatch splits calls into HIL/non-HIL, runs the non-HIL set (capped at
// maxParallel concurrent calls, beyond which a call gets a synthetic
// rate-limit response instead of running), and collects the batch's handoff.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call, buildMeta MetaFunc) Batch {
	var hilCalls, runCalls []Call
	for _, c := range calls {
		t, ok := d.registry.Lookup(c.Name)
		if ok && t.HIL() {
			hilCalls = append(hilCalls, c)
			continue
		}
		runCalls = append(runCalls, c)
	}

	batch := Batch{Usage: make(UsageDict)}
	for _, c := range hilCalls {
		batch.Pending = append(batch.Pending, Pending{CallID: c.CallID, Name: c.Name})
	}

	responses := make([]Response, len(runCalls))
	handoffs := make([]*string, len(runCalls))

	sem := make(chan struct{}, d.maxParallel)
	var wg sync.WaitGroup
	var usageMu sync.Mutex

	// A full semaphore means every slot is busy: rather than block until one
	// frees (which would just reorder retries), calls beyond the cap get the
	// synthetic "rate limited, call again" response immediately (spec.md
	// §4.3's parallelism-cap scenario).
	for i, c := range runCalls {
		select {
		case sem <- struct{}{}:
			wg.Add(1)
			go func(idx int, call Call) {
				defer wg.Done()
				defer func() { <-sem }()
				resp, handoff, usage := d.runOne(ctx, call, buildMeta)
				responses[idx] = resp
				handoffs[idx] = handoff
				if usage != nil {
					usageMu.Lock()
					batch.Usage[call.CallID] = *usage
					usageMu.Unlock()
				}
			}(i, c)
		default:
			responses[i] = Response{
				CallID: c.CallID,
				Status: StatusIncomplete,
				Output: fmt.Sprintf("The tool %s with arguments %s could not be executed due to rate limit. Call it again.", c.Name, c.Arguments),
			}
		}
	}
	wg.Wait()

	batch.Responses = responses
	for _, h := range handoffs {
		if h != nil {
			batch.Handoff = h
		}
	}
	return batch
}

func (d *Dispatcher) runOne(ctx context.Context, call Call, buildMeta MetaFunc) (resp Response, handoff *string, usage *Usage) {
	t, ok := d.registry.Lookup(call.Name)
	if !ok {
		return Response{
			CallID: call.CallID,
			Status: StatusIncomplete,
			Output: fmt.Sprintf("unknown tool %q", call.Name),
		}, nil, nil
	}

	// Empty arguments are treated as an empty object, as the Stream Engine's
	// argument sanitization does.
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := tool.Validate(t.InputSchema(), args); err != nil {
		return Response{
			CallID: call.CallID,
			Status: StatusIncomplete,
			Output: err.Error(),
		}, nil, nil
	}

	meta, err := buildMeta(call)
	if err != nil {
		return Response{
			CallID: call.CallID,
			Status: StatusDenied,
			Output: fmt.Sprintf("not allowed to run tool %q: %v", call.Name, err),
		}, nil, nil
	}

	result, err := runIsolated(ctx, t, meta, args)
	if err != nil {
		return Response{CallID: call.CallID, Status: StatusIncomplete, Output: err.Error()}, nil, nil
	}
	if result.Handoff != nil {
		return Response{CallID: call.CallID, Status: StatusOK, Output: ""}, result.Handoff, nil
	}
	return Response{CallID: call.CallID, Status: StatusOK, Output: result.Value}, nil, nil
}

// runIsolated recovers a panicking tool implementation into an error so one
// bad tool cannot take down the batch's WaitGroup (SPEC_FULL.md §4.3's
// per-call isolation requirement extended to runtime panics, not just
// returned errors).
func runIsolated(ctx context.Context, t tool.Tool, meta any, args json.RawMessage) (result tool.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", t.Name(), r)
		}
	}()
	return t.Run(ctx, meta, args)
}
