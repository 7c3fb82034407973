// Package services – BulkRefresher
//
// This file implements the bulk refresh engine. Both call modes, refreshing
// a list of customers and rebuilding the whole roster, share runBatches: ids
// are split into batches of Concurrency, requests inside a batch start
// RequestDelay apart, the batch is joined before the next one starts, and
// RateLimit is slept between batches. Each CRM call goes through the retry
// policy, which never repeats permission failures.
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/crm"
	"github.com/tbourn/checkin-kiosk/internal/repo"
	"github.com/tbourn/checkin-kiosk/internal/retry"
)

// Error types reported in BulkResult.ErrorType.
const (
	ErrorTypePermission = "permission"
	ErrorTypeRateLimit  = "rate_limit"
	ErrorTypeNotFound   = "not_found"
	ErrorTypeOther      = "other"
)

// ProgressFunc receives the number of processed ids after every batch.
type ProgressFunc func(processed, total int)

// BulkOptions paces a bulk run.
type BulkOptions struct {
	Concurrency  int
	RateLimit    time.Duration
	RequestDelay time.Duration
	OnProgress   ProgressFunc
}

// BulkResult is the per-customer outcome of BulkRefresh.
type BulkResult struct {
	CustomerID    string `json:"customer_id"`
	HasMembership bool   `json:"has_membership"`
	Attempts      int    `json:"attempts"`
	Error         string `json:"error,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
}

// BulkRefresher drives many membership refreshes against the CRM.
type BulkRefresher struct {
	DB      *gorm.DB
	CRM     crm.Client
	Cache   *MembershipService
	Tracker *RefreshTracker
	Retry   retry.Policy

	// Defaults are the options used by RefreshAllCustomers and as the base
	// for BulkRefresh callers.
	Defaults BulkOptions
}

// NewBulkRefresher constructs a BulkRefresher. tracker must be the
// process-wide instance.
func NewBulkRefresher(db *gorm.DB, client crm.Client, cache *MembershipService, tracker *RefreshTracker, policy retry.Policy, defaults BulkOptions) *BulkRefresher {
	return &BulkRefresher{
		DB:       db,
		CRM:      client,
		Cache:    cache,
		Tracker:  tracker,
		Retry:    policy,
		Defaults: defaults,
	}
}

// BulkRefresh refreshes every id and returns one result per id, in input
// order. One customer's failure never aborts the run. The error is non-nil
// only when ctx ends early; results then cover the ids processed so far.
func (b *BulkRefresher) BulkRefresh(ctx context.Context, customerIDs []string, opts BulkOptions) ([]BulkResult, error) {
	tr := otel.Tracer("services/BulkRefresher")
	ctx, span := tr.Start(ctx, "BulkRefresh",
		trace.WithAttributes(
			attribute.Int("customers", len(customerIDs)),
			attribute.Int("concurrency", opts.Concurrency),
		),
	)
	defer span.End()

	start := time.Now()
	results, err := runBatches(ctx, customerIDs, opts, func(ctx context.Context, id string) BulkResult {
		var st *MembershipStatus
		attempts, err := b.Retry.Do(ctx, func(ctx context.Context) error {
			var rerr error
			st, rerr = b.Cache.refresh(ctx, id)
			return rerr
		})
		res := BulkResult{CustomerID: id, Attempts: attempts}
		if err != nil {
			res.Error = err.Error()
			res.ErrorType = errorType(err)
			bulkItems.WithLabelValues(res.ErrorType).Inc()
			return res
		}
		res.HasMembership = st.HasMembership
		bulkItems.WithLabelValues("ok").Inc()
		return res
	})

	members, failures := 0, 0
	for _, r := range results {
		if r.Error != "" {
			failures++
		} else if r.HasMembership {
			members++
		}
	}
	log.Info().
		Int("total", len(customerIDs)).
		Int("processed", len(results)).
		Int("members_found", members).
		Int("errors", failures).
		Dur("took", time.Since(start)).
		Msg("bulk membership refresh finished")
	return results, err
}

// RefreshAllCustomers rebuilds the whole cache from the configured segments
// and blocks until done. It fails with ErrRefreshInProgress when a rebuild
// is already running and with ErrNoSegmentsConfigured when the registry is
// empty.
func (b *BulkRefresher) RefreshAllCustomers(ctx context.Context, onProgress ProgressFunc) (RefreshProgress, error) {
	if err := b.Tracker.Begin(); err != nil {
		return b.Tracker.Snapshot(), err
	}
	err := b.runRefreshAll(ctx, onProgress)
	return b.Tracker.Snapshot(), err
}

// StartRefreshAll validates preconditions, marks the refresh as started and
// runs it in the background. It returns as soon as the tracker shows the
// run, so a status poll right after it never sees a stale idle state.
func (b *BulkRefresher) StartRefreshAll(ctx context.Context) error {
	ids, err := repo.ListSegmentIDs(ctx, b.DB)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return ErrNoSegmentsConfigured
	}
	if err := b.Tracker.Begin(); err != nil {
		return err
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := b.runRefreshAll(bg, nil); err != nil {
			log.Error().Err(err).Msg("background membership refresh failed")
		}
	}()
	return nil
}

// Status returns the process-wide refresh progress.
func (b *BulkRefresher) Status() RefreshProgress {
	return b.Tracker.Snapshot()
}

// runRefreshAll does the rebuild. The tracker must already be in progress;
// it is always released on return.
func (b *BulkRefresher) runRefreshAll(ctx context.Context, onProgress ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
		b.Tracker.Finish(err)
	}()

	tr := otel.Tracer("services/BulkRefresher")
	ctx, span := tr.Start(ctx, "RefreshAllCustomers")
	defer span.End()

	segmentIDs, err := repo.ListSegmentIDs(ctx, b.DB)
	if err != nil {
		return fmt.Errorf("load configured segments: %w", err)
	}
	if len(segmentIDs) == 0 {
		return ErrNoSegmentsConfigured
	}

	roster, err := b.enumerate(ctx, segmentIDs)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b.Tracker.SetTotal(len(ids))
	span.SetAttributes(attribute.Int("members", len(ids)))

	if _, err := b.Cache.ClearCache(ctx); err != nil {
		return fmt.Errorf("clear membership cache: %w", err)
	}

	opts := b.Defaults
	failures := 0
	opts.OnProgress = func(processed, total int) {
		b.Tracker.Advance(processed, failures)
		if onProgress != nil {
			onProgress(processed, total)
		}
	}

	start := time.Now()
	results, err := runBatches(ctx, ids, opts, func(ctx context.Context, id string) error {
		var cust *crm.Customer
		_, ferr := b.Retry.Do(ctx, func(ctx context.Context) error {
			var cerr error
			cust, cerr = b.CRM.GetCustomer(ctx, id)
			return cerr
		})
		if ferr != nil {
			bulkItems.WithLabelValues(errorType(ferr)).Inc()
			log.Warn().Err(ferr).Str("customer_id", id).Msg("roster member fetch failed")
			return ferr
		}
		if cust.ID == "" {
			cust.ID = id
		}
		if serr := b.Cache.storeRosterMember(ctx, cust, roster[id]); serr != nil {
			bulkItems.WithLabelValues(ErrorTypeOther).Inc()
			log.Warn().Err(serr).Str("customer_id", id).Msg("roster member store failed")
			return serr
		}
		bulkItems.WithLabelValues("ok").Inc()
		return nil
	}, func(batch []error) {
		for _, e := range batch {
			if e != nil {
				failures++
			}
		}
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("members_found", len(ids)).
		Int("processed", len(results)).
		Int("errors", failures).
		Dur("took", time.Since(start)).
		Msg("full membership refresh finished")
	return nil
}

// enumerate lists the members of every segment into customerID -> segments.
// A segment that cannot be listed aborts the rebuild before the cache is
// touched.
func (b *BulkRefresher) enumerate(ctx context.Context, segmentIDs []string) (map[string][]string, error) {
	roster := make(map[string][]string)
	for _, seg := range segmentIDs {
		var members []string
		_, err := b.Retry.Do(ctx, func(ctx context.Context) error {
			var serr error
			members, serr = b.CRM.SearchCustomersBySegment(ctx, seg)
			return serr
		})
		if err != nil {
			return nil, fmt.Errorf("list members of segment %s: %w", seg, err)
		}
		log.Debug().Str("segment_id", seg).Int("members", len(members)).Msg("segment enumerated")
		for _, id := range members {
			if !containsString(roster[id], seg) {
				roster[id] = append(roster[id], seg)
			}
		}
	}
	return roster, nil
}

// runBatches applies work to every id in batches of opts.Concurrency and
// returns the results in input order. afterBatch hooks (if any) see each
// batch's results before OnProgress fires. It stops early, returning the
// results so far and ctx.Err(), when ctx ends.
func runBatches[T any](ctx context.Context, ids []string, opts BulkOptions, work func(ctx context.Context, id string) T, afterBatch ...func(batch []T)) ([]T, error) {
	size := opts.Concurrency
	if size <= 0 {
		size = 1
	}
	total := len(ids)
	out := make([]T, 0, total)

	for start := 0; start < total; start += size {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := min(start+size, total)
		batch := make([]T, end-start)

		var g errgroup.Group
		for i, id := range ids[start:end] {
			g.Go(func() error {
				if err := retry.Sleep(ctx, opts.RequestDelay*time.Duration(i)); err != nil {
					return err
				}
				batch[i] = work(ctx, id)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, err
		}

		out = append(out, batch...)
		for _, fn := range afterBatch {
			fn(batch)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(len(out), total)
		}

		if end < total {
			if err := retry.Sleep(ctx, opts.RateLimit); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// errorType maps an error to the label used in BulkResult.ErrorType.
func errorType(err error) string {
	switch crm.Classify(err) {
	case crm.KindPermissionDenied:
		return ErrorTypePermission
	case crm.KindRateLimited:
		return ErrorTypeRateLimit
	case crm.KindNotFound:
		return ErrorTypeNotFound
	default:
		return ErrorTypeOther
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
