package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

// GroupLoader loads one group with the session user's permissions.
type GroupLoader interface {
	Group(ctx context.Context, groupID string) (vrchat.Group, error)
}

// Registry is the set of tracked groups. It is only ever replaced wholesale;
// readers get a snapshot.
type Registry struct {
	mu     sync.RWMutex
	groups []vrchat.Group
}

// NewRegistry creates a Registry holding groups.
func NewRegistry(groups ...vrchat.Group) *Registry {
	r := &Registry{}
	r.Replace(groups)
	return r
}

// Replace swaps the tracked groups for groups.
func (r *Registry) Replace(groups []vrchat.Group) {
	next := make([]vrchat.Group, len(groups))
	copy(next, groups)
	r.mu.Lock()
	r.groups = next
	r.mu.Unlock()
}

// All returns the tracked groups in registration order.
func (r *Registry) All() []vrchat.Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]vrchat.Group, len(r.groups))
	copy(out, r.groups)
	return out
}

// Len returns the number of tracked groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// GroupName returns the display name of a tracked group.
func (r *Registry) GroupName(groupID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.groups {
		if g.ID == groupID {
			return g.Name, g.Name != ""
		}
	}
	return "", false
}

// Refresh loads every id through loader and replaces the registry with the
// groups that loaded. Failed groups are logged and left out. When every load
// fails the registry is kept as it was. The returned error joins all failures.
func (r *Registry) Refresh(ctx context.Context, loader GroupLoader, ids []string, timeout time.Duration) (int, error) {
	loaded := make([]vrchat.Group, 0, len(ids))
	var errs []error
	for _, id := range ids {
		g, err := loadGroup(ctx, loader, id, timeout)
		if err != nil {
			slog.Warn("Group refresh failed", "group", id, "error", err)
			errs = append(errs, fmt.Errorf("group %s: %w", id, err))
			continue
		}
		loaded = append(loaded, g)
	}
	if len(loaded) == 0 && len(ids) > 0 {
		return r.Len(), errors.Join(errs...)
	}
	r.Replace(loaded)
	slog.Info("Group registry refreshed", "groups", len(loaded), "failed", len(errs))
	return len(loaded), errors.Join(errs...)
}

func loadGroup(ctx context.Context, loader GroupLoader, id string, timeout time.Duration) (vrchat.Group, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return loader.Group(ctx, id)
}
