package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

const (
	defaultReconcileWorkers = 4
	defaultReconcileBatch   = 100
)

// AnchorReconciler retries anchor calls for orders and batches still
// holding a pending proof. A failed retry leaves the marker for the next round.
type AnchorReconciler struct {
	deps
	workers   int
	batchSize int
}

type ReconcileResult struct {
	Attempted int
	Anchored  int
}

func NewAnchorReconciler(db port.DatabaseRepository, anchor port.Anchor, workers int, opts ...Option) *AnchorReconciler {
	if workers <= 0 {
		workers = defaultReconcileWorkers
	}
	return &AnchorReconciler{
		deps:      newDeps(db, anchor, opts),
		workers:   workers,
		batchSize: defaultReconcileBatch,
	}
}

// Run reconciles every interval until ctx is done.
func (r *AnchorReconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error("Anchor reconciliation failed", zap.Error(err))
				continue
			}
			if res.Attempted > 0 {
				r.logger.Info("Anchor reconciliation finished",
					zap.Int("attempted", res.Attempted),
					zap.Int("anchored", res.Anchored),
				)
			}
		}
	}
}

type reconcileJob struct {
	order *domain.Order
	batch *domain.Batch
}

// RunOnce makes one pass over the pending proofs.
func (r *AnchorReconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	orders, err := r.db.ListPendingOrderProofs(ctx, r.batchSize)
	if err != nil {
		return ReconcileResult{}, err
	}
	batches, err := r.db.ListPendingBatchProofs(ctx, r.batchSize)
	if err != nil {
		return ReconcileResult{}, err
	}

	jobs := make(chan reconcileJob, len(orders)+len(batches))
	for i := range orders {
		jobs <- reconcileJob{order: &orders[i]}
	}
	for i := range batches {
		jobs <- reconcileJob{batch: &batches[i]}
	}
	close(jobs)

	var anchored atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				if r.reconcile(ctx, id, job) {
					anchored.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	return ReconcileResult{
		Attempted: len(orders) + len(batches),
		Anchored:  int(anchored.Load()),
	}, nil
}

func (r *AnchorReconciler) reconcile(ctx context.Context, worker int, job reconcileJob) bool {
	switch {
	case job.order != nil:
		o := job.order
		wallet := o.BuyerID
		if buyer, err := r.db.GetParty(ctx, o.BuyerID); err == nil && buyer.WalletAddress != "" {
			wallet = buyer.WalletAddress
		}
		proof, err := r.anchorCall(ctx, func(ctx context.Context) (string, error) {
			return r.anchor.TransferOwnership(ctx, o.BatchID, wallet)
		})
		if err != nil {
			r.logger.Debug("Order anchor still degraded", zap.Int("worker", worker), zap.String("order_id", o.ID), zap.Error(err))
			return false
		}
		stored, err := r.db.ReplacePendingOrderProof(ctx, o.ID, proof)
		if err != nil {
			r.logger.Error("Failed to store order proof", zap.Int("worker", worker), zap.String("order_id", o.ID), zap.Error(err))
			return false
		}
		if !stored {
			r.logger.Debug("Order proof already settled", zap.Int("worker", worker), zap.String("order_id", o.ID))
		}
		return stored

	case job.batch != nil:
		b := job.batch
		proof, err := r.anchorCall(ctx, func(ctx context.Context) (string, error) {
			return r.anchor.RegisterBatch(ctx, *b)
		})
		if err != nil {
			r.logger.Debug("Batch anchor still degraded", zap.Int("worker", worker), zap.String("batch_id", b.ID), zap.Error(err))
			return false
		}
		stored, err := r.db.ReplacePendingBatchProof(ctx, b.ID, proof)
		if err != nil {
			r.logger.Error("Failed to store batch proof", zap.Int("worker", worker), zap.String("batch_id", b.ID), zap.Error(err))
			return false
		}
		if !stored {
			r.logger.Debug("Batch proof already settled", zap.Int("worker", worker), zap.String("batch_id", b.ID))
		}
		return stored
	}
	return false
}
