package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/logging"
	"shadowrealms_backend/pkg/storage"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	GameName = "Shadow Realms"

	DefaultPageSize = 50
	MaxPageSize     = 500

	csvTimeLayout = "2006-01-02 15:04:05"
)

var csvHeader = []string{"Email", "Subscribed At", "Source", "IP"}

type AdminService struct {
	store   *storage.Failover
	tracker Tracker
	now     func() time.Time

	password []byte
	hash     []byte

	// AfterClear runs once ClearAll has wiped the stores.
	AfterClear func()
}

// NewAdminService gates admin reads behind password, or behind a bcrypt hash
// when passwordHash is set. With neither, every request is unauthorized.
func NewAdminService(store *storage.Failover, tracker Tracker, password, passwordHash string) *AdminService {
	if tracker == nil {
		tracker = noopTracker{}
	}
	a := &AdminService{
		store:   store,
		tracker: tracker,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if password != "" {
		sum := sha256.Sum256([]byte(password))
		a.password = sum[:]
	}
	if passwordHash != "" {
		a.hash = []byte(passwordHash)
	}
	return a
}

func (a *AdminService) Enabled() bool {
	return a.password != nil || a.hash != nil
}

// Authorize compares secret against the configured one in constant time.
func (a *AdminService) Authorize(secret string) error {
	if secret == "" || !a.Enabled() {
		return ErrUnauthorized
	}
	if a.hash != nil {
		if bcrypt.CompareHashAndPassword(a.hash, []byte(secret)) != nil {
			return ErrUnauthorized
		}
		return nil
	}
	sum := sha256.Sum256([]byte(secret))
	if subtle.ConstantTimeCompare(sum[:], a.password) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (a *AdminService) querier() (storage.Querier, bool) {
	q, ok := a.store.Primary.(storage.Querier)
	return q, ok
}

// pending returns the active records still parked in the secondary store.
// A failed read only hides them, so it is logged and not returned.
func (a *AdminService) pending(ctx context.Context) []model.Subscriber {
	subs, err := a.store.Pending(ctx)
	if err != nil {
		logging.Module("admin").Warn().Err(err).Msg("could not read secondary store")
		return nil
	}
	return storage.Active(subs)
}

// active is the full active set: the primary's records plus those that only
// reached the secondary store.
func (a *AdminService) active(ctx context.Context, pending []model.Subscriber) ([]model.Subscriber, error) {
	subs, tier, err := a.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if tier == storage.TierSecondary {
		return storage.Active(subs), nil
	}
	return storage.MergeActive(subs, pending), nil
}

// Stats counts from SQL while the secondary store is empty, and from the
// merged list otherwise.
func (a *AdminService) Stats(ctx context.Context) (model.SubscriberStats, error) {
	now := a.now()
	pending := a.pending(ctx)
	if q, ok := a.querier(); ok && len(pending) == 0 {
		stats, err := q.Stats(ctx, now)
		if err == nil {
			return stats, nil
		}
		logging.Module("admin").Warn().Err(err).Msg("stats query failed, counting from list")
	}

	subs, err := a.active(ctx, pending)
	if err != nil {
		return model.SubscriberStats{}, err
	}
	return storage.ComputeStats(subs, now), nil
}

// NormalizePage applies the defaults for missing or out of range paging
// parameters.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

// List returns one page of active subscribers, newest first.
func (a *AdminService) List(ctx context.Context, page, limit int) ([]model.Subscriber, error) {
	page, limit = NormalizePage(page, limit)
	pending := a.pending(ctx)
	if q, ok := a.querier(); ok && len(pending) == 0 {
		subs, err := q.Page(ctx, page, limit)
		if err == nil {
			return subs, nil
		}
		logging.Module("admin").Warn().Err(err).Msg("page query failed, slicing from list")
	}

	subs, err := a.active(ctx, pending)
	if err != nil {
		return nil, err
	}
	start := (page - 1) * limit
	if start >= len(subs) {
		return []model.Subscriber{}, nil
	}
	end := min(start+limit, len(subs))
	return subs[start:end], nil
}

// ExportCSV writes every active subscriber, newest first, and returns the row count.
func (a *AdminService) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	subs, err := a.active(ctx, a.pending(ctx))
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	for _, sub := range subs {
		row := []string{
			sub.Email,
			sub.SubscribedAt.UTC().Format(csvTimeLayout),
			sub.Source,
			sub.IPAddress,
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}

	a.track(ctx, model.ActionAdminExport, fmt.Sprintf("csv rows=%d", len(subs)))
	return len(subs), nil
}

type jsonExport struct {
	Game        string            `json:"game"`
	ExportDate  time.Time         `json:"exportDate"`
	TotalEmails int               `json:"totalEmails"`
	Emails      []jsonExportEntry `json:"emails"`
}

type jsonExportEntry struct {
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// ExportJSON writes the active set as a single JSON document.
func (a *AdminService) ExportJSON(ctx context.Context, w io.Writer) (int, error) {
	subs, err := a.active(ctx, a.pending(ctx))
	if err != nil {
		return 0, err
	}

	doc := jsonExport{
		Game:        GameName,
		ExportDate:  a.now(),
		TotalEmails: len(subs),
		Emails:      make([]jsonExportEntry, 0, len(subs)),
	}
	for _, sub := range subs {
		doc.Emails = append(doc.Emails, jsonExportEntry{
			Email:     sub.Email,
			Timestamp: sub.SubscribedAt.UTC(),
			Source:    sub.Source,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, err
	}
	a.track(ctx, model.ActionAdminExport, fmt.Sprintf("json rows=%d", len(subs)))
	return len(subs), nil
}

// ClearAll irreversibly deletes every subscriber from both tiers. Callers
// must have collected an explicit confirmation first.
func (a *AdminService) ClearAll(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := a.store.RemoveAll(ctx); err != nil {
		logging.Module("admin").Error().Err(err).Msg("Failed to clear subscribers")
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if a.AfterClear != nil {
		a.AfterClear()
	}
	a.track(ctx, model.ActionAdminClear, "")
	logging.Module("admin").Warn().Msg("All subscribers cleared")
	return nil
}

func (a *AdminService) track(ctx context.Context, action model.ActivityAction, details string) {
	if err := a.tracker.LogActivity(ctx, action, "", "", details); err != nil {
		logging.Module("admin").Warn().Err(err).Str("action", string(action)).Msg("failed to write activity log")
	}
}
