package surreal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/logging"
	"shadowrealms_backend/pkg/oops"
)

// liveView is the copy of the table a feed keeps in sync with notifications.
type liveView struct {
	mu   sync.Mutex
	byID map[string]model.Subscriber
}

func newLiveView(subs []model.Subscriber) *liveView {
	v := &liveView{}
	v.reset(subs)
	return v
}

func (v *liveView) reset(subs []model.Subscriber) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byID = make(map[string]model.Subscriber, len(subs))
	for _, sub := range subs {
		v.byID[sub.ID] = sub
	}
}

// apply folds one notification into the view and reports whether it changed.
func (v *liveView) apply(n connection.Notification) bool {
	doc, ok := n.Result.(map[string]any)
	if !ok {
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch n.Action {
	case connection.DeleteAction:
		id := recordKey(doc["id"])
		if _, ok := v.byID[id]; !ok {
			return false
		}
		delete(v.byID, id)
		return true
	case connection.CreateAction, connection.UpdateAction:
		sub, ok := decodeDocument(doc)
		if !ok {
			return false
		}
		v.byID[sub.ID] = sub
		return true
	}
	return false
}

// snapshot returns the view newest first.
func (v *liveView) snapshot() []model.Subscriber {
	v.mu.Lock()
	subs := make([]model.Subscriber, 0, len(v.byID))
	for _, sub := range v.byID {
		subs = append(subs, sub)
	}
	v.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].SubscribedAt.Equal(subs[j].SubscribedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].SubscribedAt.After(subs[j].SubscribedAt)
	})
	return subs
}

// Subscribe calls fn with the whole table right away and again after every
// change pushed by the LIVE SELECT. When the feed drops it is re-established
// with exponential backoff and fn receives a fresh full read.
func (s *Store) Subscribe(ctx context.Context, fn func([]model.Subscriber)) (func(), error) {
	subs, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	view := newLiveView(subs)

	liveID, notifications, err := s.startLive(ctx)
	if err != nil {
		return nil, err
	}
	fn(view.snapshot())

	feedCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(feedCtx, view, liveID, notifications, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}, nil
}

func (s *Store) startLive(ctx context.Context) (string, chan connection.Notification, error) {
	live, err := surrealdb.Live(ctx, s.db, table, false)
	if err != nil {
		return "", nil, oops.New(err, "failed to start live query on %s", table)
	}
	notifications, err := s.db.LiveNotifications(live.String())
	if err != nil {
		return "", nil, oops.New(err, "failed to open live notifications")
	}
	return live.String(), notifications, nil
}

func (s *Store) watch(
	ctx context.Context,
	view *liveView,
	liveID string,
	notifications chan connection.Notification,
	fn func([]model.Subscriber),
) {
	log := logging.Module("surreal")
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		if s.drain(ctx, view, notifications, fn) {
			killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := surrealdb.Kill(killCtx, s.db, liveID); err != nil {
				log.Debug().Err(err).Msg("failed to kill live query")
			}
			cancel()
			return
		}

		log.Warn().Str("live", liveID).Msg("live feed closed, reconnecting")
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Duration()):
			}

			var err error
			liveID, notifications, err = s.startLive(ctx)
			if err != nil {
				log.Error().Err(err).Float64("attempt", b.Attempt()).Msg("live feed reconnect failed")
				continue
			}
			subs, err := s.ListAll(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to reload subscribers after reconnect")
				surrealdb.Kill(ctx, s.db, liveID)
				continue
			}
			view.reset(subs)
			fn(view.snapshot())
			b.Reset()
			log.Info().Str("live", liveID).Msg("live feed restored")
			break
		}
	}
}

// drain forwards notifications until the channel closes (false) or ctx ends (true).
func (s *Store) drain(
	ctx context.Context,
	view *liveView,
	notifications chan connection.Notification,
	fn func([]model.Subscriber),
) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case n, ok := <-notifications:
			if !ok {
				return false
			}
			if view.apply(n) {
				fn(view.snapshot())
			}
		}
	}
}
