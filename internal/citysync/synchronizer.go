package citysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/worldwise-cities/app/observability/metrics"
	"github.com/FACorreiaa/worldwise-cities/internal/firebase"
	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

// Messages put into State.Error. They are all the caller ever sees of a failure.
const (
	MsgLoadCitiesFailed = "There was an error loading cities data"
	MsgLoadCityFailed   = "There was an error loading city data"
	MsgCityNotFound     = "City not found"
	MsgCreateFailed     = "There was an error creating the city data"
	MsgDeleteFailed     = "There was an error deleting city data"
)

var errNoData = errors.New("no data found")

// Store is the remote document store the synchronizer reads and writes.
type Store interface {
	FetchAll(ctx context.Context) (firebase.Snapshot, error)
	CreateAt(ctx context.Context, snap firebase.Snapshot, city types.City) (string, error)
	DeleteEntry(ctx context.Context, entry firebase.Entry) error
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock replaces the clock used to generate ids.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithOperationTimeout bounds every operation. Zero means no deadline.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.opTimeout = d }
}

// Synchronizer owns the client State. It is only changed by dispatching an
// Action, and every operation is one loading -> terminal cycle. Operations
// may run concurrently; whichever finishes last decides the final state.
type Synchronizer struct {
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	opTimeout time.Duration

	mu          sync.Mutex
	state       State
	subscribers map[int]chan State
	nextSub     int
}

// New builds a synchronizer and loads the collection once.
func New(ctx context.Context, store Store, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:       store,
		logger:      logger,
		now:         time.Now,
		state:       InitialState(),
		subscribers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.FetchAll(ctx)
	return s
}

// State returns a copy of the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe returns a channel that always holds the latest state after a
// dispatch; slow readers skip intermediate states. Call the returned func to
// stop receiving and close the channel.
func (s *Synchronizer) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 1)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

// Dispatch applies a to the state and notifies subscribers.
func (s *Synchronizer) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Reduce(s.state, a)
	for _, ch := range s.subscribers {
		st := s.state.clone()
		select {
		case ch <- st:
		default:
			// drop the stale state nobody has read yet
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// FetchAll replaces the local list with the remote collection.
func (s *Synchronizer) FetchAll(ctx context.Context) {
	ctx, l, done := s.begin(ctx, "FetchAll")
	defer done()

	s.Dispatch(Loading{})
	snap, err := s.store.FetchAll(ctx)
	if err != nil {
		s.reject(ctx, l, MsgLoadCitiesFailed, err)
		return
	}
	s.resolve(ctx, CitiesLoaded{Payload: snap.Cities()})
}

// GetCity makes the city with id current. It does nothing when that city is
// already current, even if the cached copy is stale.
func (s *Synchronizer) GetCity(ctx context.Context, id int64) {
	s.mu.Lock()
	current := s.state.CurrentCity
	s.mu.Unlock()
	if !current.IsZero() && id == current.ID {
		return
	}

	ctx, l, done := s.begin(ctx, "GetCity", slog.Int64("id", id))
	defer done()

	s.Dispatch(Loading{})
	snap, err := s.store.FetchAll(ctx)
	if err != nil {
		s.reject(ctx, l, MsgLoadCityFailed, err)
		return
	}

	entry, ok := snap.Find(id)
	if !ok {
		s.reject(ctx, l, MsgCityNotFound, types.ErrNotFound)
		return
	}
	city := entry.City.Clone()
	city.Index = entry.Key
	s.resolve(ctx, CityLoaded{Payload: city})
}

// CreateCity stores city under the next positional key and appends it locally.
// The id is kept when supplied, otherwise taken from the clock.
func (s *Synchronizer) CreateCity(ctx context.Context, city types.City) {
	ctx, l, done := s.begin(ctx, "CreateCity")
	defer done()

	s.Dispatch(Loading{})
	snap, err := s.store.FetchAll(ctx)
	if err != nil {
		s.reject(ctx, l, MsgCreateFailed, err)
		return
	}

	city = city.WithoutIndex()
	if city.EnsureID(s.now()) {
		for {
			if _, taken := snap.Find(city.ID); !taken {
				break
			}
			city.ID++
		}
	}

	key, err := s.store.CreateAt(ctx, snap, city)
	if err != nil {
		s.reject(ctx, l, MsgCreateFailed, err)
		return
	}
	city.Index = key
	l.InfoContext(ctx, "City created", slog.Int64("id", city.ID), slog.String("key", key))
	s.resolve(ctx, CityCreated{Payload: city})
}

// DeleteCity removes the city with id remotely and from the local list.
func (s *Synchronizer) DeleteCity(ctx context.Context, id int64) {
	ctx, l, done := s.begin(ctx, "DeleteCity", slog.Int64("id", id))
	defer done()

	s.Dispatch(Loading{})
	snap, err := s.store.FetchAll(ctx)
	if err != nil {
		s.reject(ctx, l, MsgDeleteFailed, err)
		return
	}
	if len(snap.Entries) == 0 {
		s.reject(ctx, l, MsgDeleteFailed, errNoData)
		return
	}

	entry, ok := snap.Find(id)
	if !ok {
		s.reject(ctx, l, MsgDeleteFailed, fmt.Errorf("city %d: %w", id, types.ErrNotFound))
		return
	}
	if err := s.store.DeleteEntry(ctx, entry); err != nil {
		s.reject(ctx, l, MsgDeleteFailed, err)
		return
	}
	s.resolve(ctx, CityDeleted{ID: id})
}

// begin sets up the per-operation context, logger and span.
func (s *Synchronizer) begin(ctx context.Context, op string, attrs ...any) (context.Context, *slog.Logger, func()) {
	ctx, span := otel.Tracer("CitySynchronizer").Start(ctx, op)
	span.SetAttributes(attribute.String("op", op))

	cancel := func() {}
	if s.opTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
	}

	l := s.logger.With(append([]any{slog.String("op", op), slog.String("op_id", uuid.NewString())}, attrs...)...)
	l.DebugContext(ctx, "Operation started")

	return ctx, l, func() {
		cancel()
		span.End()
	}
}

func (s *Synchronizer) resolve(ctx context.Context, a Action) {
	s.Dispatch(a)
	metrics.Get().SyncOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", a.String())))
}

// reject logs the cause and surfaces only msg.
func (s *Synchronizer) reject(ctx context.Context, l *slog.Logger, msg string, cause error) {
	l.WarnContext(ctx, "Operation rejected", slog.String("message", msg), slog.Any("error", cause))
	s.resolve(ctx, Rejected{Message: msg})
}
