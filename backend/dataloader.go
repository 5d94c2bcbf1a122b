package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader/v7"
)

type loaderContextKey string

const loadersKey loaderContextKey = "dataloaders"

// loaders holds the per-request batch loaders.
type loaders struct {
	summaries *dataloader.Loader[int, UserSummary]
}

func newLoaders(users UserStore) *loaders {
	return &loaders{
		summaries: dataloader.NewBatchedLoader(
			summaryBatchFn(users),
			dataloader.WithWait[int, UserSummary](2*time.Millisecond),
		),
	}
}

// summaryBatchFn resolves user summaries with one query per batch. Results
// are matched to keys by id; ids with no row get errUserNotFound.
func summaryBatchFn(users UserStore) dataloader.BatchFunc[int, UserSummary] {
	return func(ctx context.Context, keys []int) []*dataloader.Result[UserSummary] {
		results := make([]*dataloader.Result[UserSummary], len(keys))

		rows, err := users.FindSummaries(ctx, keys)
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result[UserSummary]{Error: err}
			}
			return results
		}

		byID := make(map[int]UserSummary, len(rows))
		for _, row := range rows {
			byID[row.ID] = row
		}
		for i, key := range keys {
			if row, ok := byID[key]; ok {
				results[i] = &dataloader.Result[UserSummary]{Data: row}
			} else {
				results[i] = &dataloader.Result[UserSummary]{Error: fmt.Errorf("user %d: %w", key, errUserNotFound)}
			}
		}
		return results
	}
}

// loadersMiddleware gives every request fresh loaders.
func loadersMiddleware(users UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), loadersKey, newLoaders(users))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// summaries loads the summaries for ids in order, skipping users that no
// longer exist.
func (s *server) summaries(ctx context.Context, ids []int) ([]UserSummary, error) {
	l, ok := ctx.Value(loadersKey).(*loaders)
	if !ok {
		l = newLoaders(s.users)
	}

	thunks := make([]dataloader.Thunk[UserSummary], len(ids))
	for i, id := range ids {
		thunks[i] = l.summaries.Load(ctx, id)
	}

	out := make([]UserSummary, 0, len(ids))
	for _, thunk := range thunks {
		sum, err := thunk()
		if err != nil {
			if errors.Is(err, errUserNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}
