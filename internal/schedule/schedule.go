// Package schedule implements the asset scheduler (C12, spec §4.9):
// assets are partitioned into five op-type buckets executed in a fixed
// order, each bucket running under its own bounded parallelism, with
// progress reported at throttled boundaries over a single producer
// channel.
//
// Grounded on Ambrevar-demlo's pipeline.go Stage/Pipeline fan-out
// pattern, generalized from a single worker pool to per-bucket
// parallelism bounds using golang.org/x/sync's errgroup and semaphore,
// the way the rest of this module leans on golang.org/x/sync for
// bounded concurrency.
package schedule

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ttwinstall/internal/manifest"
)

// bucketOrder is the fixed order buckets execute in (spec §4.13 driver
// pipeline: "DISPATCH(new) → DISPATCH(copy) → DISPATCH(patch) →
// DISPATCH(audio-resample) → DISPATCH(audio-transcode)").
var bucketOrder = []manifest.OpType{
	manifest.OpNew,
	manifest.OpCopy,
	manifest.OpPatch,
	manifest.OpAudioResample,
	manifest.OpAudioTranscode,
}

// throttleFor returns how many completions must elapse between progress
// reports for a given op-type's bucket (spec §4.9).
func throttleFor(op manifest.OpType) int {
	switch op {
	case manifest.OpNew, manifest.OpPatch, manifest.OpAudioTranscode:
		return 100
	case manifest.OpCopy:
		return 500
	case manifest.OpAudioResample:
		return 1000
	default:
		return 100
	}
}

// parallelismFor returns the bounded parallelism for a bucket (spec
// §4.9: "copy, new, patch → bounded parallelism of 4; audio-resample,
// audio-transcode → parallelism equal to the number of hardware
// threads").
func parallelismFor(op manifest.OpType) int64 {
	switch op {
	case manifest.OpAudioResample, manifest.OpAudioTranscode:
		n := runtime.NumCPU()
		if n < 1 {
			n = 1
		}
		return int64(n)
	default:
		return 4
	}
}

// Progress is one throttled progress update (spec §4.9: "a scalar
// percent-complete and a short status string").
type Progress struct {
	PercentComplete float64
	Status          string
}

// Worker processes a single asset. Errors are recorded by the caller,
// not propagated past the scheduler (spec §7: "worker errors are always
// converted to a boolean + log entry — they do not unwind past the
// scheduler").
type Worker func(ctx context.Context, asset manifest.Asset) error

// Result pairs an asset with the outcome of processing it.
type Result struct {
	Asset manifest.Asset
	Err   error
}

// Run partitions assets into op-type buckets, executes every bucket in
// the fixed order, and reports throttled progress on progressCh.
// progressCh is never blocked on: each send is non-blocking, and an
// update is dropped when the channel cannot take it right away, so a
// slow consumer can't stall a worker (spec §5 "the producer never
// blocks on the consumer").
func Run(ctx context.Context, assets []manifest.Asset, progressCh chan<- Progress, work Worker) []Result {
	buckets := make(map[manifest.OpType][]manifest.Asset)
	for _, a := range assets {
		buckets[a.OpType] = append(buckets[a.OpType], a)
	}

	total := len(assets)
	var completed atomic.Int64
	results := make([]Result, 0, total)

	for _, op := range bucketOrder {
		bucket := buckets[op]
		if len(bucket) == 0 {
			continue
		}
		bucketResults := runBucket(ctx, bucket, parallelismFor(op), throttleFor(op), &completed, total, progressCh, work)
		results = append(results, bucketResults...)
	}

	return results
}

func runBucket(ctx context.Context, bucket []manifest.Asset, parallelism int64, throttle int, completed *atomic.Int64, total int, progressCh chan<- Progress, work Worker) []Result {
	results := make([]Result, len(bucket))
	sem := semaphore.NewWeighted(parallelism)
	g, gctx := errgroup.WithContext(context.Background())

	for i, asset := range bucket {
		i, asset := i, asset
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{Asset: asset, Err: err}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			err := work(gctx, asset)
			results[i] = Result{Asset: asset, Err: err}
			reportThrottled(completed, total, throttle, asset, progressCh)
			return nil
		})
	}

	g.Wait()
	return results
}

func reportThrottled(completed *atomic.Int64, total int, throttle int, asset manifest.Asset, progressCh chan<- Progress) {
	n := completed.Add(1)
	if int(n)%throttle != 0 && int(n) != total {
		return
	}
	percent := 100 * float64(n) / float64(total)
	update := Progress{PercentComplete: percent, Status: statusFor(asset)}

	select {
	case progressCh <- update:
	default:
	}
}

func statusFor(asset manifest.Asset) string {
	return asset.EffectiveTargetPath()
}
