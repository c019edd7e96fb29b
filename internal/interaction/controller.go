package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/endpoint"
	"github.com/MarcoPoloResearchLab/driftwood/internal/events"
	"github.com/MarcoPoloResearchLab/driftwood/internal/payload"
	"github.com/MarcoPoloResearchLab/driftwood/internal/session"
	"go.uber.org/zap"
)

// Action is a user gesture that results in a mutation.
type Action string

const (
	ActionLike    Action = "like"
	ActionUnlike  Action = "unlike"
	ActionView    Action = "view"
	ActionComment Action = "comment"
)

// Kind returns the counter the action changes.
func (a Action) Kind() Kind {
	switch a {
	case ActionLike, ActionUnlike:
		return KindLike
	case ActionView:
		return KindView
	default:
		return KindComment
	}
}

func (a Action) delta() int64 {
	if a == ActionUnlike {
		return -1
	}
	return 1
}

var (
	errUnknownAction     = errors.New("interaction: unknown action")
	errMissingExecutor   = errors.New("interaction: executor required")
	errPremiseRolledBack = errors.New("interaction: earlier mutation was rolled back")
	defaultCountFields   = map[Kind][]string{
		KindLike:    payload.DefaultLikeCountFields,
		KindView:    {"viewsCount", "viewCount", "views"},
		KindComment: {"commentsCount", "commentCount"},
	}
	defaultLikedFields = []string{"liked", "isLiked", "likedByMe"}
	failureMessages    = map[Action]string{
		ActionLike:    "Your like could not be saved. Please try again.",
		ActionUnlike:  "Your unlike could not be saved. Please try again.",
		ActionView:    "The view could not be recorded.",
		ActionComment: "Your comment could not be posted. Please try again.",
	}
)

// Executor runs the attempt variants of one mutation.
type Executor interface {
	Execute(ctx context.Context, action string, variants []endpoint.Variant, values map[string]string) (endpoint.MutationResult, error)
}

// CommitFunc persists the fields that describe a key once its mutation is confirmed.
type CommitFunc func(ctx context.Context, id content.ResourceID, fields content.Record) error

// SessionGate reports the session state concluded by the monitor.
type SessionGate interface {
	Status() session.Status
}

// ControllerConfig describes the controller's collaborators.
type ControllerConfig struct {
	Executor    Executor
	Variants    map[Action][]endpoint.Variant
	CountFields map[Kind][]string
	LikedFields []string
	Session     SessionGate
	Dispatcher  *events.Dispatcher
	AllowUnlike bool
	Commit      CommitFunc
	Logger      *zap.Logger
}

// Outcome is the settled result of one submission.
type Outcome struct {
	Mutation Mutation
	Action   Action
	State    State
	// Applied is false when the submission was a no-op, such as liking twice.
	Applied bool
	Err     error
}

// Ticket tracks a submission until its mutation is confirmed or rolled back.
type Ticket struct {
	Mutation Mutation
	Action   Action
	values   map[string]string
	done     chan struct{}
	outcome  Outcome
}

// Done is closed once the outcome is known.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the ticket settles or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, t.outcome.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (t *Ticket) settle(outcome Outcome) {
	t.outcome = outcome
	close(t.done)
}

// Controller serializes mutations per key: one request in flight, the rest queued FIFO.
type Controller struct {
	ledger      *Ledger
	executor    Executor
	variants    map[Action][]endpoint.Variant
	countFields map[Kind][]string
	likedFields []string
	session     SessionGate
	dispatcher  *events.Dispatcher
	commit      CommitFunc
	logger      *zap.Logger

	mu         sync.Mutex
	queues     map[Key][]*Ticket
	draining   map[Key]bool
	countNames map[Key]string
	likedNames map[content.ResourceID]string
	active     sync.WaitGroup
}

// NewController validates cfg and applies defaults.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Executor == nil {
		return nil, errMissingExecutor
	}
	countFields := make(map[Kind][]string, len(defaultCountFields))
	for kind, fields := range defaultCountFields {
		countFields[kind] = fields
	}
	for kind, fields := range cfg.CountFields {
		if len(fields) > 0 {
			countFields[kind] = fields
		}
	}
	likedFields := cfg.LikedFields
	if len(likedFields) == 0 {
		likedFields = defaultLikedFields
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		ledger:      NewLedger(cfg.AllowUnlike),
		executor:    cfg.Executor,
		variants:    cfg.Variants,
		countFields: countFields,
		likedFields: likedFields,
		session:     cfg.Session,
		dispatcher:  cfg.Dispatcher,
		commit:      cfg.Commit,
		logger:      logger,
		queues:      make(map[Key][]*Ticket),
		draining:    make(map[Key]bool),
		countNames:  make(map[Key]string),
		likedNames:  make(map[content.ResourceID]string),
	}, nil
}

// State returns the optimistic state for (id, kind).
func (c *Controller) State(id content.ResourceID, kind Kind) State {
	return c.ledger.State(Key{ID: id, Kind: kind})
}

// Seed installs counts and the like flag from a canonical record and remembers
// which fields carried them.
func (c *Controller) Seed(record content.CanonicalRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range []Kind{KindLike, KindView, KindComment} {
		key := Key{ID: record.ID, Kind: kind}
		current := c.ledger.State(key)
		count, liked := current.CommittedCount, current.LocallyLiked
		for _, field := range c.countFields[kind] {
			if value, ok := record.Int64Field(field); ok {
				count = value
				c.countNames[key] = field
				break
			}
		}
		if kind == KindLike {
			for _, field := range c.likedFields {
				if flag, ok := record.BoolField(field); ok {
					liked = flag
					c.likedNames[record.ID] = field
					break
				}
			}
		}
		c.ledger.Seed(key, count, liked)
	}
}

// Submit applies action optimistically and queues its confirming request.
// values fill the variant templates in addition to the id.
func (c *Controller) Submit(ctx context.Context, id content.ResourceID, action Action, values map[string]string) (*Ticket, error) {
	if _, known := failureMessages[action]; !known {
		return nil, fmt.Errorf("%w: %s", errUnknownAction, action)
	}
	variants := c.variants[action]
	if c.requiresSession(variants) && c.session != nil && c.session.Status() == session.StatusExpired {
		return nil, fmt.Errorf("%s %s: %w", action, id, content.ErrAuthExpired)
	}

	templateValues := map[string]string{endpoint.PlaceholderID: id.String()}
	for key, value := range values {
		if key != endpoint.PlaceholderID {
			templateValues[key] = value
		}
	}

	c.mu.Lock()
	mutation, applied := c.ledger.ApplyOptimistic(id, action.Kind(), action.delta())
	if !applied {
		c.mu.Unlock()
		ticket := &Ticket{Action: action, done: make(chan struct{})}
		ticket.settle(Outcome{Action: action, State: c.State(id, action.Kind())})
		return ticket, nil
	}
	ticket := &Ticket{Mutation: mutation, Action: action, values: templateValues, done: make(chan struct{})}
	c.queues[mutation.Key] = append(c.queues[mutation.Key], ticket)
	if !c.draining[mutation.Key] {
		c.draining[mutation.Key] = true
		c.active.Add(1)
		go c.drain(context.WithoutCancel(ctx), mutation.Key)
	}
	c.mu.Unlock()
	return ticket, nil
}

// Wait blocks until every queue has drained.
func (c *Controller) Wait() {
	c.active.Wait()
}

func (c *Controller) drain(ctx context.Context, key Key) {
	defer c.active.Done()
	for {
		c.mu.Lock()
		queue := c.queues[key]
		if len(queue) == 0 {
			delete(c.queues, key)
			delete(c.draining, key)
			c.mu.Unlock()
			return
		}
		head := queue[0]
		c.mu.Unlock()

		result, err := c.executor.Execute(ctx, string(head.Action), c.variants[head.Action], head.values)

		c.mu.Lock()
		queue = c.queues[key]
		if len(queue) > 0 {
			queue = queue[1:]
		}
		if err == nil {
			c.queues[key] = queue
			c.mu.Unlock()
			c.confirm(ctx, head, result)
			continue
		}
		// Revert under c.mu: Submit must never see the cut queue next to unreverted state.
		settled := make([]rolledBack, 0, len(queue)+1)
		for index := len(queue) - 1; index >= 0; index-- {
			settled = append(settled, c.revert(queue[index], errPremiseRolledBack))
		}
		settled = append(settled, c.revert(head, err))
		c.queues[key] = nil
		c.mu.Unlock()

		for _, rollback := range settled {
			c.announce(rollback)
		}
	}
}

type rolledBack struct {
	ticket  *Ticket
	outcome Outcome
	cause   error
}

func (c *Controller) confirm(ctx context.Context, ticket *Ticket, result endpoint.MutationResult) {
	var serverCount *int64
	if count, ok := payload.ExtractCount(result.Body, c.countFields[ticket.Mutation.Key.Kind]); ok {
		serverCount = &count
	}
	state, _ := c.ledger.Confirm(ticket.Mutation, serverCount)
	c.logger.Debug("mutation confirmed",
		zap.String("action", string(ticket.Action)),
		zap.String("resource_id", ticket.Mutation.Key.ID.String()),
		zap.String("endpoint", result.Endpoint),
		zap.Int64("count", state.Count()))
	c.persist(ctx, ticket.Mutation, state)
	c.dispatcher.Publish(events.Event{
		Topic:      events.TopicInteractionSettled,
		ResourceID: ticket.Mutation.Key.ID.String(),
		Payload:    Outcome{Mutation: ticket.Mutation, Action: ticket.Action, State: state, Applied: true},
	})
	ticket.settle(Outcome{Mutation: ticket.Mutation, Action: ticket.Action, State: state, Applied: true})
}

// persist hands the committed counter, and for likes the confirmed flag, to the commit hook.
func (c *Controller) persist(ctx context.Context, mutation Mutation, state State) {
	if c.commit == nil {
		return
	}
	key := mutation.Key
	c.mu.Lock()
	countName, ok := c.countNames[key]
	if !ok {
		countName = c.countFields[key.Kind][0]
	}
	likedName, ok := c.likedNames[key.ID]
	if !ok {
		likedName = c.likedFields[0]
	}
	c.mu.Unlock()

	fields := content.Record{countName: state.CommittedCount}
	if key.Kind == KindLike {
		fields[likedName] = mutation.likedAfter
	}
	if err := c.commit(ctx, key.ID, fields); err != nil {
		c.logger.Warn("confirmed counters not persisted",
			zap.String("resource_id", key.ID.String()),
			zap.String("kind", string(key.Kind)),
			zap.Error(err))
	}
}

// revert undoes the ledger change of ticket. Callers hold c.mu.
func (c *Controller) revert(ticket *Ticket, cause error) rolledBack {
	state, _ := c.ledger.Rollback(ticket.Mutation)
	err := fmt.Errorf("%w: %s %s: %w", content.ErrMutationConflict, ticket.Action, ticket.Mutation.Key.ID, cause)
	return rolledBack{
		ticket:  ticket,
		outcome: Outcome{Mutation: ticket.Mutation, Action: ticket.Action, State: state, Applied: true, Err: err},
		cause:   cause,
	}
}

func (c *Controller) announce(rollback rolledBack) {
	ticket := rollback.ticket
	c.logger.Warn("mutation rolled back",
		zap.String("action", string(ticket.Action)),
		zap.String("resource_id", ticket.Mutation.Key.ID.String()),
		zap.String("mutation_id", ticket.Mutation.ID),
		zap.Error(rollback.cause))
	c.dispatcher.Publish(events.Event{
		Topic:      events.TopicInteractionRolledBack,
		ResourceID: ticket.Mutation.Key.ID.String(),
		Message:    failureMessages[ticket.Action],
		Payload:    rollback.outcome,
	})
	ticket.settle(rollback.outcome)
}

func (c *Controller) requiresSession(variants []endpoint.Variant) bool {
	for _, variant := range variants {
		if variant.Authenticated {
			return true
		}
	}
	return false
}
