// Package surreal is the primary subscriber store. Records live in a SurrealDB
// table and a LIVE SELECT keeps subscribers of the store up to date.
package surreal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/oops"
	"shadowrealms_backend/pkg/storage"
)

const table = "subscribers"

// emailIndex keeps one record per email whatever its status, so an
// unsubscribed address stays taken.
const emailIndex = `DEFINE INDEX IF NOT EXISTS subscribers_email ON TABLE subscribers FIELDS email UNIQUE`

type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

type Store struct {
	db  *surrealdb.DB
	cfg Config

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// Connect opens the websocket connection, signs in when credentials are set
// and makes sure the unique email index exists.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, oops.New(err, "failed to connect to surrealdb at %s", cfg.URL)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			db.Close(ctx)
			return nil, oops.New(err, "failed to sign in to surrealdb")
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, oops.New(err, "failed to use %s/%s", cfg.Namespace, cfg.Database)
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(ctx); err != nil {
		db.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, s.db, emailIndex, nil)
	if err != nil {
		return oops.New(err, "failed to define email index")
	}
	return nil
}

func (s *Store) Name() string {
	return "surreal"
}

func (s *Store) Add(ctx context.Context, sub *model.Subscriber) error {
	rec := *sub
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SubscribedAt.IsZero() {
		rec.SubscribedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = model.StatusActive
	}

	_, err := surrealdb.Query[any](ctx, s.db, `CREATE type::thing($tb, $id) CONTENT $doc`, map[string]any{
		"tb":  table,
		"id":  rec.ID,
		"doc": encodeDocument(rec),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return oops.New(err, "failed to create subscriber")
	}

	*sub = rec
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]model.Subscriber, error) {
	results, err := surrealdb.Query[[]map[string]any](ctx, s.db,
		`SELECT * FROM subscribers ORDER BY subscribed_at DESC`, nil)
	if err != nil {
		return nil, oops.New(err, "failed to list subscribers")
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	docs := (*results)[0].Result
	subs := make([]model.Subscriber, 0, len(docs))
	for _, doc := range docs {
		sub, ok := decodeDocument(doc)
		if !ok {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *Store) RemoveAll(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, s.db, `DELETE subscribers`, nil); err != nil {
		return oops.New(err, "failed to delete subscribers")
	}
	return nil
}

func (s *Store) Unsubscribe(ctx context.Context, email string) error {
	results, err := surrealdb.Query[[]map[string]any](ctx, s.db,
		`UPDATE subscribers SET status = $unsubscribed WHERE email = $email AND status = $active RETURN AFTER`,
		map[string]any{
			"email":        email,
			"active":       string(model.StatusActive),
			"unsubscribed": string(model.StatusUnsubscribed),
		})
	if err != nil {
		return oops.New(err, "failed to unsubscribe %s", email)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		_, err := surrealdb.Query[any](ctx, s.db, `DELETE type::thing($tb, $id)`, map[string]any{
			"tb": table,
			"id": id,
		})
		if err != nil {
			return oops.New(err, "failed to delete subscriber %s", id)
		}
	}
	return nil
}

// Close stops every live feed and closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.mu.Unlock()
	s.wg.Wait()

	if err := s.db.Close(context.Background()); err != nil {
		return oops.New(err, "failed to close surrealdb connection")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already contains") || strings.Contains(msg, "already exists")
}

func encodeDocument(sub model.Subscriber) map[string]any {
	return map[string]any{
		"email":         sub.Email,
		"subscribed_at": sub.SubscribedAt.UTC().Format(time.RFC3339Nano),
		"source":        sub.Source,
		"status":        string(sub.Status),
		"ip_address":    sub.IPAddress,
		"user_agent":    sub.UserAgent,
		"referrer":      sub.Referrer,
		"country":       sub.Country,
	}
}

// decodeDocument turns a record as SurrealDB returns it into a Subscriber.
// Records without an email are skipped.
func decodeDocument(doc map[string]any) (model.Subscriber, bool) {
	sub := model.Subscriber{
		ID:        recordKey(doc["id"]),
		Email:     str(doc["email"]),
		Source:    str(doc["source"]),
		Status:    model.SubscriberStatus(str(doc["status"])),
		IPAddress: str(doc["ip_address"]),
		UserAgent: str(doc["user_agent"]),
		Referrer:  str(doc["referrer"]),
		Country:   str(doc["country"]),
	}
	if sub.Email == "" {
		return sub, false
	}

	switch at := doc["subscribed_at"].(type) {
	case time.Time:
		sub.SubscribedAt = at.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			sub.SubscribedAt = t.UTC()
		}
	}
	return sub, true
}

func recordKey(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case models.RecordID:
		return fmt.Sprint(id.ID)
	case *models.RecordID:
		return fmt.Sprint(id.ID)
	case string:
		if _, key, ok := strings.Cut(id, ":"); ok {
			return strings.Trim(key, "⟨⟩`")
		}
		return id
	default:
		return fmt.Sprint(id)
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

var (
	_ storage.LiveBackend  = (*Store)(nil)
	_ storage.Unsubscriber = (*Store)(nil)
	_ storage.Deleter      = (*Store)(nil)
)
