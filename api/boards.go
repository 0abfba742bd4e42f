package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"proflo-api/domain"
	"proflo-api/kanban"
	"proflo-api/realtime"
)

const DefaultRemoteTimeout = 30 * time.Second

var errProjectNotFound = errors.New("project not found")

type boardKey struct {
	tenant string
	kind   domain.Kind
	scope  string
}

type boardEntry struct {
	board  *kanban.Board
	loadMu sync.Mutex
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Store         Storage
	Publisher     Publisher
	Broker        *realtime.Broker
	Logger        *log.Logger
	RemoteTimeout time.Duration
	Policy        kanban.ReconcilePolicy
	// Origin identifies this instance on the change feed.
	Origin   string
	Activity ActivityConfig
}

// Registry keeps one in-memory board per tenant, kind and scope.
type Registry struct {
	store   Storage
	pub     Publisher
	broker  *realtime.Broker
	logger  *log.Logger
	timeout time.Duration
	policy  kanban.ReconcilePolicy
	origin  string
	actCfg  ActivityConfig

	mu     sync.Mutex
	boards map[boardKey]*boardEntry
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Store == nil {
		panic("api.NewRegistry: store is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = DefaultRemoteTimeout
	}
	if cfg.Broker == nil {
		cfg.Broker = realtime.NewBroker()
	}
	if cfg.Origin == "" {
		cfg.Origin = uuid.NewString()
	}
	return &Registry{
		store:   cfg.Store,
		pub:     cfg.Publisher,
		broker:  cfg.Broker,
		logger:  cfg.Logger,
		timeout: cfg.RemoteTimeout,
		policy:  cfg.Policy,
		origin:  cfg.Origin,
		actCfg:  cfg.Activity,
		boards:  make(map[boardKey]*boardEntry),
	}
}

// Broker returns the SSE fan-out used for change notifications.
func (r *Registry) Broker() *realtime.Broker { return r.broker }

// boardRemote bounds every status write with the registry's timeout.
type boardRemote struct {
	store   Storage
	timeout time.Duration
}

func (b boardRemote) UpdateStatus(ctx context.Context, kind domain.Kind, scope, id, status string) (*domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.store.UpdateStatus(ctx, kind, scope, id, status)
}

func (r *Registry) entry(key boardKey) *boardEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.boards[key]
	if !ok {
		e = &boardEntry{board: kanban.NewBoard(kanban.Options{
			Kind:   key.kind,
			Scope:  key.scope,
			Remote: boardRemote{store: r.store, timeout: r.timeout},
			Logger: r.logger,
			Policy: r.policy,
		})}
		r.boards[key] = e
	}
	return e
}

// lookup returns an existing board without creating it.
func (r *Registry) lookup(key boardKey) (*kanban.Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.boards[key]
	if !ok {
		return nil, false
	}
	return e.board, true
}

// Board returns the board of tenant for kind and scope, loading it on first
// use. A failed load is retried on the next call; the board is still
// returned with its error indicator set. A task board with an empty scope
// spans every project of the tenant.
func (r *Registry) Board(ctx context.Context, tenant string, kind domain.Kind, scope string) (*kanban.Board, error) {
	e := r.entry(boardKey{tenant: tenant, kind: kind, scope: scope})
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.board.Loaded() {
		return e.board, nil
	}
	err := e.board.Load(ctx, func(ctx context.Context) ([]domain.Item, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if kind == domain.KindTask && scope == "" {
			return r.fetchTenantTasks(ctx, tenant)
		}
		return r.store.FetchItems(ctx, kind, scope)
	})
	if err == nil {
		e.board.ClearErr()
	}
	return e.board, err
}

// fetchTenantTasks lists the tasks of every project of tenant, newest first.
func (r *Registry) fetchTenantTasks(ctx context.Context, tenant string) ([]domain.Item, error) {
	projects, err := r.store.FetchItems(ctx, domain.KindProject, tenant)
	if err != nil {
		return nil, err
	}
	var tasks []domain.Item
	for _, p := range projects {
		items, err := r.store.FetchItems(ctx, domain.KindTask, p.ID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, items...)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}

// ProjectsBoard returns the tenant's projects board.
func (r *Registry) ProjectsBoard(ctx context.Context, tenant string) (*kanban.Board, error) {
	return r.Board(ctx, tenant, domain.KindProject, tenant)
}

// TasksBoard returns the tasks board of one of the tenant's projects.
func (r *Registry) TasksBoard(ctx context.Context, tenant, projectID string) (*kanban.Board, error) {
	if err := r.ownsProject(ctx, tenant, projectID); err != nil {
		return nil, err
	}
	return r.Board(ctx, tenant, domain.KindTask, projectID)
}

// TenantTasksBoard returns the board holding the tasks of all the tenant's
// projects.
func (r *Registry) TenantTasksBoard(ctx context.Context, tenant string) (*kanban.Board, error) {
	return r.Board(ctx, tenant, domain.KindTask, "")
}

// BoardFor resolves the board a drag request addresses.
func (r *Registry) BoardFor(ctx context.Context, tenant string, kind domain.Kind, scope string) (*kanban.Board, error) {
	if kind == domain.KindTask {
		if scope == "" {
			return r.TenantTasksBoard(ctx, tenant)
		}
		return r.TasksBoard(ctx, tenant, scope)
	}
	return r.ProjectsBoard(ctx, tenant)
}

func (r *Registry) ownsProject(ctx context.Context, tenant, projectID string) error {
	if projectID == "" {
		return errProjectNotFound
	}
	projects, err := r.ProjectsBoard(ctx, tenant)
	if err != nil {
		return err
	}
	if _, ok := projects.Item(projectID); !ok {
		return errProjectNotFound
	}
	return nil
}

// loadedBoards returns the boards in memory holding items of kind and scope:
// the scoped board and, for tasks, the tenant-wide one.
func (r *Registry) loadedBoards(tenant string, kind domain.Kind, scope string) []*kanban.Board {
	keys := []boardKey{{tenant: tenant, kind: kind, scope: scope}}
	if kind == domain.KindTask && scope != "" {
		keys = append(keys, boardKey{tenant: tenant, kind: domain.KindTask})
	}
	var out []*kanban.Board
	for _, k := range keys {
		if b, ok := r.lookup(k); ok {
			out = append(out, b)
		}
	}
	return out
}

// upsert writes the authoritative copy of item into every loaded board
// holding its collection except skip.
func (r *Registry) upsert(tenant string, item domain.Item, skip *kanban.Board) {
	for _, b := range r.loadedBoards(tenant, item.Kind, item.Scope) {
		if b == skip {
			continue
		}
		if !b.Replace(item) {
			b.Insert(item)
		}
	}
}

// forget removes an item from every loaded board. Deleting a project also
// forgets its tasks board and its tasks on the tenant-wide board.
func (r *Registry) forget(tenant string, kind domain.Kind, scope, id string) {
	for _, b := range r.loadedBoards(tenant, kind, scope) {
		b.RemoveRemote(id)
	}
	if kind != domain.KindProject {
		return
	}
	r.dropBoard(boardKey{tenant: tenant, kind: domain.KindTask, scope: id})
	if b, ok := r.lookup(boardKey{tenant: tenant, kind: domain.KindTask}); ok {
		b.RemoveScope(id)
	}
}

// dropBoard forgets a board, used when its project was deleted.
func (r *Registry) dropBoard(key boardKey) {
	r.mu.Lock()
	delete(r.boards, key)
	r.mu.Unlock()
}

// changed announces a committed write: other instances through the change
// feed, SSE clients of the tenant through the broker, and the activity feed.
func (r *Registry) changed(ctx context.Context, tenant, evType string, item domain.Item, act domain.Activity) {
	ts := nextTimestamp()
	if r.pub != nil {
		ev := domain.ChangeEvent{
			ID:         uuid.NewString(),
			EntityID:   item.ID,
			EntityType: item.Kind,
			Type:       evType,
			Time:       ts,
			TenantID:   tenant,
			Scope:      item.Scope,
			Origin:     r.origin,
		}
		if evType != domain.ItemDeleted {
			data, err := sonic.Marshal(item)
			if err == nil {
				ev.Data = data
			}
		}
		if err := r.pub.Publish(ctx, ev); err != nil {
			r.logger.WithFields(log.Fields{"tenant": tenant, "item": item.ID, "type": evType}).Errorf("publish change: %v", err)
		}
	}
	r.broker.Notify(tenant)

	act.ID = uuid.NewString()
	act.TenantID = tenant
	act.Kind = item.Kind
	act.ItemID = item.ID
	act.Scope = item.Scope
	act.Time = ts
	submitActivity(tenant, act)
}

// HandleChange applies a change event published by another instance to the
// boards held in memory and notifies the tenant's streams.
func (r *Registry) HandleChange(_ context.Context, ev domain.ChangeEvent) {
	if ev.Origin == r.origin {
		return
	}
	fields := log.Fields{"tenant": ev.TenantID, "item": ev.EntityID, "type": ev.Type}
	switch ev.Type {
	case domain.ItemDeleted:
		r.forget(ev.TenantID, ev.EntityType, ev.Scope, ev.EntityID)
	case domain.ItemCreated, domain.ItemUpdated, domain.ItemStatusChanged:
		var item domain.Item
		if err := sonic.Unmarshal(ev.Data, &item); err != nil || item.ID == "" {
			r.logger.WithFields(fields).Warn("change event without item payload")
			break
		}
		for _, b := range r.loadedBoards(ev.TenantID, ev.EntityType, ev.Scope) {
			b.ApplyRemote(item)
		}
	default:
		r.logger.WithFields(fields).Warn("unknown change event type")
	}
	r.logger.WithFields(fields).Debug("change applied")
	r.broker.Notify(ev.TenantID)
}
