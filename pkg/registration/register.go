package registration

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"phasereg/pkg/fourier"
	"phasereg/pkg/volume"
)

// Register aligns target onto source and returns the shifted copy of target.
func Register(source, target mat.Matrix, upsample int) (*mat.Dense, error) {
	aligned, _, err := RegisterWithOffset(source, target, upsample)
	return aligned, err
}

// RegisterWithOffset is Register that also reports the estimated offset.
// Both images are transformed once with the same plan; the target spectrum is
// shifted by the estimated (shift, phase) and transformed back.
func RegisterWithOffset(source, target mat.Matrix, upsample int) (*mat.Dense, Result, error) {
	if err := checkUpsample(upsample); err != nil {
		return nil, Result{}, err
	}
	rows, cols, err := sameShape(source, target)
	if err != nil {
		return nil, Result{}, err
	}

	plan := fourier.DefaultPlanner.Get(rows, cols)
	defer fourier.DefaultPlanner.Put(plan)

	sourceFreq := plan.ForwardReal(nil, source)
	targetFreq := plan.ForwardReal(nil, target)

	res, err := PhaseOffsetFreq(plan, sourceFreq, targetFreq, upsample)
	if err != nil {
		return nil, Result{}, err
	}
	if _, err := FourierShiftInPlace(targetFreq, res.Shift[:], res.PhaseDiff); err != nil {
		return nil, Result{}, err
	}
	return fourier.RealPart(plan.Inverse(targetFreq, targetFreq)), res, nil
}

// ProgressFunc is called after each frame is aligned.
type ProgressFunc func(completed, total int)

// CoregisterOptions controls stack coregistration.
type CoregisterOptions struct {
	// Axis is the axis frames are taken along.
	Axis volume.Axis

	// Reference is the index of the fixed frame along Axis. The zero value
	// selects the first frame.
	Reference int

	// UpsampleFactor is the refinement factor; 0 is treated as 1.
	UpsampleFactor int

	// Workers is the number of frames aligned concurrently. Values below 2
	// align sequentially.
	Workers int

	// Progress, if set, is called from the calling goroutine.
	Progress ProgressFunc
}

// SliceResult is the estimated offset of one frame against the reference.
type SliceResult struct {
	Index int
	Result
}

// Coregister aligns every frame of stack along opts.Axis to the reference
// frame and returns the aligned copy. stack is not modified.
func Coregister(ctx context.Context, stack *volume.Stack, opts CoregisterOptions) (*volume.Stack, []SliceResult, error) {
	if _, _, err := opts.validate(stack); err != nil {
		return nil, nil, err
	}
	out := stack.Clone()
	results, err := CoregisterInPlace(ctx, out, opts)
	if err != nil {
		return nil, nil, err
	}
	return out, results, nil
}

// CoregisterInPlace aligns every frame of stack along opts.Axis to the
// reference frame, overwriting the frames in place. The reference frame is
// left untouched. Results are ordered by frame index.
//
// The first failing frame aborts the batch. ctx is checked between frames.
func CoregisterInPlace(ctx context.Context, stack *volume.Stack, opts CoregisterOptions) ([]SliceResult, error) {
	n, upsample, err := opts.validate(stack)
	if err != nil {
		return nil, err
	}
	rows, cols, _ := stack.FrameDims(opts.Axis)

	ref, err := stack.Frame(opts.Axis, opts.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	plan := fourier.DefaultPlanner.Get(rows, cols)
	refFreq := plan.ForwardReal(nil, ref)
	fourier.DefaultPlanner.Put(plan)

	indices := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != opts.Reference {
			indices = append(indices, i)
		}
	}

	c := &coregistration{
		stack:    stack,
		axis:     opts.Axis,
		refFreq:  refFreq,
		upsample: upsample,
		indices:  indices,
		results:  make([]SliceResult, len(indices)),
		progress: opts.Progress,
	}

	if opts.Workers < 2 || len(indices) < 2 {
		err = c.runSequential(ctx, rows, cols)
	} else {
		workers := opts.Workers
		if workers > len(indices) {
			workers = len(indices)
		}
		err = c.runParallel(ctx, rows, cols, workers)
	}
	if err != nil {
		return nil, err
	}
	return c.results, nil
}

// validate checks options against the stack before any transform work and
// returns the number of frames along the axis and the effective upsample
// factor.
func (o CoregisterOptions) validate(stack *volume.Stack) (n, upsample int, err error) {
	if stack == nil {
		return 0, 0, fmt.Errorf("%w: nil stack", ErrInvalidArgument)
	}
	if !o.Axis.Valid() {
		return 0, 0, fmt.Errorf("%w: axis %v", ErrInvalidArgument, o.Axis)
	}
	n, _ = stack.Len(o.Axis)
	if o.Reference < 0 || o.Reference >= n {
		return 0, 0, fmt.Errorf("%w: reference index %d outside [0, %d)", ErrInvalidArgument, o.Reference, n)
	}
	upsample = o.UpsampleFactor
	if upsample == 0 {
		upsample = 1
	}
	if err := checkUpsample(upsample); err != nil {
		return 0, 0, err
	}
	return n, upsample, nil
}

// coregistration carries the state shared by the frame loop. refFreq is
// read-only once built; each worker writes only its own frames.
type coregistration struct {
	stack    *volume.Stack
	axis     volume.Axis
	refFreq  *mat.CDense
	upsample int
	indices  []int
	results  []SliceResult
	progress ProgressFunc
}

func (c *coregistration) report(completed int) {
	if c.progress != nil {
		c.progress(completed, len(c.indices))
	}
}

func (c *coregistration) runSequential(ctx context.Context, rows, cols int) error {
	plan := fourier.DefaultPlanner.Get(rows, cols)
	defer fourier.DefaultPlanner.Put(plan)

	for k, idx := range c.indices {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("coregistration stopped before slice %d: %w", idx, err)
		}
		res, err := c.alignFrame(plan, idx)
		if err != nil {
			return err
		}
		c.results[k] = res
		c.report(k + 1)
	}
	return nil
}

func (c *coregistration) runParallel(parent context.Context, rows, cols, workers int) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	type frameOutcome struct {
		k   int
		res SliceResult
		err error
	}
	jobs := make(chan int)
	outcomes := make(chan frameOutcome)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plan := fourier.DefaultPlanner.Get(rows, cols)
			defer fourier.DefaultPlanner.Put(plan)

			for k := range jobs {
				res, err := c.alignFrame(plan, c.indices[k])
				outcomes <- frameOutcome{k: k, res: res, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for k := range c.indices {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	var firstErr error
	completed := 0
	for o := range outcomes {
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
				cancel()
			}
			continue
		}
		c.results[o.k] = o.res
		completed++
		c.report(completed)
	}

	if firstErr != nil {
		return firstErr
	}
	if completed < len(c.indices) {
		return fmt.Errorf("coregistration stopped after %d of %d slices: %w", completed, len(c.indices), parent.Err())
	}
	return nil
}

// alignFrame registers one frame against the reference spectrum and writes
// the shifted frame back into the stack.
func (c *coregistration) alignFrame(plan *fourier.Plan, idx int) (SliceResult, error) {
	frame, err := c.stack.Frame(c.axis, idx)
	if err != nil {
		return SliceResult{}, fmt.Errorf("slice %d: %w", idx, err)
	}
	freq := plan.ForwardReal(nil, frame)

	res, err := PhaseOffsetFreq(plan, c.refFreq, freq, c.upsample)
	if err != nil {
		return SliceResult{}, fmt.Errorf("slice %d: %w", idx, err)
	}
	if _, err := FourierShiftInPlace(freq, res.Shift[:], res.PhaseDiff); err != nil {
		return SliceResult{}, fmt.Errorf("slice %d: %w", idx, err)
	}

	aligned := fourier.RealPart(plan.Inverse(freq, freq))
	if err := c.stack.SetFrame(c.axis, idx, aligned); err != nil {
		return SliceResult{}, fmt.Errorf("slice %d: %w", idx, err)
	}
	return SliceResult{Index: idx, Result: res}, nil
}
