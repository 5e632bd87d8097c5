package custodian

import (
	"context"
	"errors"
	"slices"
)

// persistsStores reports whether the service manages local stores.
func (s *Service) persistsStores() bool {
	return s.stores != nil && s.hasLocal && s.cfg.Persistence.Enabled
}

func (s *Service) markStoresDirty() {
	if !s.persistsStores() {
		return
	}

	select {
	case s.storeDirty <- struct{}{}:
	default:
	}
}

// storeLoop keeps local stores in line with ownership while running.
//
// After each completed recovery episode it first reconciles the stores
// found on disk: the newest store of every partition the local member is
// primary of is opened, the newest store of a partition it backs up is
// kept, and every other store is deleted as superseded.
// Otherwise it creates a store for each newly owned partition.
func (s *Service) storeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.storeDirty:
		}

		if s.State() != StateRunning {
			continue
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.OperationTimeout)
		if s.reconcilePending.Swap(false) {
			if err := s.reconcileStores(ctx); err != nil {
				s.reconcilePending.Store(true)
				cancel()
				s.reportError("failed to reconcile local stores", err)

				continue
			}
		}
		s.syncStores(ctx)
		cancel()
	}
}

func (s *Service) reconcileStores(ctx context.Context) error {
	held, err := s.stores.ListStores(ctx)
	if err != nil {
		return err
	}

	snap := s.snapshot.Load()
	newest := make(map[int]RecoveryToken, len(held))
	for _, t := range held {
		if cur, ok := newest[t.Partition]; !ok || t.Supersedes(cur) {
			newest[t.Partition] = t
		}
	}

	opened, kept, deleted := 0, 0, 0
	for _, t := range held {
		if newest[t.Partition] == t && slices.Contains(snap.Backups(t.Partition), s.local.ID) {
			kept++
			continue
		}
		if snap.Owner(t.Partition) == s.local.ID && newest[t.Partition] == t {
			if h, ok := s.handles.Load(t.Partition); ok && h.Token() == t {
				continue
			}
			h, err := s.stores.OpenStore(ctx, t)
			if err != nil {
				s.logger.Warn("failed to open restored store", "token", t.String(), "error", err)
				continue
			}
			s.swapHandle(t.Partition, h)
			opened++

			continue
		}

		if err := s.stores.DeleteStore(ctx, t); err != nil && !errors.Is(err, ErrStoreNotFound) {
			s.logger.Warn("failed to delete superseded store", "token", t.String(), "error", err)
			continue
		}
		deleted++
	}

	s.logger.Info("local stores reconciled", "member_id", s.local.ID, "opened", opened, "kept", kept, "deleted", deleted)

	return nil
}

// syncStores creates stores for owned partitions without one and closes
// handles of partitions the local member no longer owns.
func (s *Service) syncStores(ctx context.Context) {
	snap := s.snapshot.Load()

	s.handles.Range(func(p int, h StoreHandle) bool {
		if snap.Owner(p) != s.local.ID {
			s.handles.Delete(p)
			if err := h.Close(); err != nil {
				s.logger.Warn("failed to close store", "partition", p, "error", err)
			}
		}

		return true
	})

	for _, p := range snap.OwnedBy(s.local.ID) {
		if _, ok := s.handles.Load(p); ok {
			continue
		}

		token, err := s.stores.CreateStore(ctx, p)
		if err != nil {
			s.logger.Warn("failed to create store", "partition", p, "error", err)
			continue
		}
		h, err := s.stores.OpenStore(ctx, token)
		if err != nil {
			s.logger.Warn("failed to open new store", "token", token.String(), "error", err)
			continue
		}
		s.handles.Store(p, h)
		s.logger.Debug("store created", "partition", p, "token", token.String())
	}
}

func (s *Service) swapHandle(p int, h StoreHandle) {
	if old, ok := s.handles.LoadAndStore(p, h); ok && old != nil {
		_ = old.Close()
	}
}

func (s *Service) closeStores() {
	s.handles.Range(func(p int, h StoreHandle) bool {
		s.handles.Delete(p)
		if err := h.Close(); err != nil {
			s.logger.Warn("failed to close store", "partition", p, "error", err)
		}

		return true
	})
}
