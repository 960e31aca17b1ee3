// workers/settlement_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gosimple/slug"

	"match-state-service/models"
)

// SettlementSink receives completed-match documents.
type SettlementSink interface {
	Put(ctx context.Context, key string, s models.Settlement) error
}

// JSONPutter is the object-store call the R2 sink needs.
type JSONPutter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// ObjectSink stores each settlement as a JSON object.
type ObjectSink struct {
	Store JSONPutter
}

func (o ObjectSink) Put(ctx context.Context, key string, s models.Settlement) error {
	return o.Store.PutJSON(ctx, key, s)
}

// LogSink only logs, for deployments without object storage.
type LogSink struct{}

func (LogSink) Put(_ context.Context, key string, s models.Settlement) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	log.Printf("📤 [Settlement] %s %s", key, data)
	return nil
}

const (
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
	uploadTimeout      = 15 * time.Second
)

// SettlementWorker drains completed matches to a sink in the background.
// Enqueue never blocks the request path; a full queue drops with a log line.
type SettlementWorker struct {
	sink        SettlementSink
	namespace   string
	queue       chan models.Settlement
	maxAttempts int
	backoff     time.Duration
}

func NewSettlementWorker(sink SettlementSink, namespace string) *SettlementWorker {
	return &SettlementWorker{
		sink:        sink,
		namespace:   slug.Make(namespace),
		queue:       make(chan models.Settlement, defaultQueueSize),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// Key is the object key for one match.
func (w *SettlementWorker) Key(matchID string) string {
	ns := w.namespace
	if ns == "" {
		ns = "matches"
	}
	return fmt.Sprintf("settlements/%s/%s.json", ns, matchID)
}

// Enqueue reports false when the queue is full.
func (w *SettlementWorker) Enqueue(s models.Settlement) bool {
	select {
	case w.queue <- s:
		return true
	default:
		log.Printf("⚠️ [Settlement] Queue full, dropping %s", s.MatchID)
		return false
	}
}

func (w *SettlementWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Settlement Worker…")
	go w.run(ctx)
}

func (w *SettlementWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Settlement worker stopped.")
			return
		case s := <-w.queue:
			w.deliver(ctx, s)
		}
	}
}

func (w *SettlementWorker) deliver(ctx context.Context, s models.Settlement) {
	key := w.Key(s.MatchID)
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		err := w.sink.Put(callCtx, key, s)
		cancel()
		if err == nil {
			log.Printf("✅ [Settlement] Exported %s (%s)", s.MatchID, s.Outcome)
			return
		}
		log.Printf("❌ [Settlement] Attempt %d/%d for %s failed: %v", attempt, w.maxAttempts, s.MatchID, err)
		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.backoff * time.Duration(attempt)):
		}
	}
	log.Printf("⚠️ [Settlement] Giving up on %s", s.MatchID)
}
