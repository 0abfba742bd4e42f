package storage

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	azruntime "github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"proflo-api/domain"
)

const (
	defaultQueueConcurrency = 4
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

type tableClient interface {
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *azruntime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage is the managed backend: project, task and note tables plus the
// activity queue.
type Storage struct {
	projectTable     tableClient
	taskTable        tableClient
	noteTable        tableClient
	activityQueue    queueClient
	queueConcurrency int
	now              func() time.Time

	connStr  string
	names    Names
	lastTick int64
	tickMu   sync.Mutex
}

// Names are the table and queue names used by Storage.
type Names struct {
	ProjectsTable string
	TasksTable    string
	NotesTable    string
	ActivityQueue string
}

// New creates a Storage instance from the given connection string.
func New(connStr string, names Names) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	aq, err := azqueue.NewQueueClientFromConnectionString(connStr, names.ActivityQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		projectTable:     svc.NewClient(names.ProjectsTable),
		taskTable:        svc.NewClient(names.TasksTable),
		noteTable:        svc.NewClient(names.NotesTable),
		activityQueue:    aq,
		queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU()),
		now:              time.Now,
		connStr:          connStr,
		names:            names,
	}, nil
}

func queueConcurrencyForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		n = maxQueueConcurrency
	}
	return n
}

func (s *Storage) table(kind domain.Kind) (tableClient, error) {
	switch kind {
	case domain.KindProject:
		return s.projectTable, nil
	case domain.KindTask:
		return s.taskTable, nil
	}
	return nil, fmt.Errorf("unknown item kind %q", kind)
}

// stamp returns a strictly increasing write timestamp.
func (s *Storage) stamp() int64 {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	now := s.now().UnixNano()
	if now <= s.lastTick {
		now = s.lastTick + 1
	}
	s.lastTick = now
	return now
}

func partitionFilter(scope string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(scope, "'", "''") + "'"
}

// FetchItems lists every item of scope, newest first.
func (s *Storage) FetchItems(ctx context.Context, kind domain.Kind, scope string) ([]domain.Item, error) {
	tc, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	filter := partitionFilter(scope)
	pager := tc.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	items := []domain.Item{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, e := range resp.Entities {
			var ent itemEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			items = append(items, fromEntity(kind, ent))
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

// GetItem reads one item.
func (s *Storage) GetItem(ctx context.Context, kind domain.Kind, scope, id string) (*domain.Item, error) {
	tc, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	resp, err := tc.GetEntity(ctx, scope, id, nil)
	if err != nil {
		return nil, mapError(err)
	}
	var ent itemEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	item := fromEntity(kind, ent)
	return &item, nil
}

// InsertItem stores a new item and returns the row as written.
func (s *Storage) InsertItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	tc, err := s.table(item.Kind)
	if err != nil {
		return nil, err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now().UTC()
	}
	item.UpdatedAt = s.stamp()
	payload, err := sonic.Marshal(toEntity(item))
	if err != nil {
		return nil, err
	}
	if _, err := tc.AddEntity(ctx, payload, nil); err != nil {
		return nil, mapError(err)
	}
	return &item, nil
}

// UpdateItem replaces the editable fields of an existing item and returns the
// canonical row.
func (s *Storage) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	tc, err := s.table(item.Kind)
	if err != nil {
		return nil, err
	}
	item.UpdatedAt = s.stamp()
	payload, err := sonic.Marshal(toEntity(item))
	if err != nil {
		return nil, err
	}
	et := azcore.ETagAny
	if _, err := tc.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return nil, mapError(err)
	}
	return s.GetItem(ctx, item.Kind, item.Scope, item.ID)
}

// UpdateStatus merges a single status change and returns the canonical row.
func (s *Storage) UpdateStatus(ctx context.Context, kind domain.Kind, scope, id, status string) (*domain.Item, error) {
	tc, err := s.table(kind)
	if err != nil {
		return nil, err
	}
	payload, err := sonic.Marshal(statusUpdate{
		tableKeys:       tableKeys{PartitionKey: scope, RowKey: id},
		Status:          status,
		UpdatedAtNs:     s.stamp(),
		UpdatedAtNsType: edmInt64,
	})
	if err != nil {
		return nil, err
	}
	et := azcore.ETagAny
	if _, err := tc.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return nil, mapError(err)
	}
	return s.GetItem(ctx, kind, scope, id)
}

// DeleteItem removes an item. Deleting a project also removes its tasks and
// notes.
func (s *Storage) DeleteItem(ctx context.Context, kind domain.Kind, scope, id string) error {
	tc, err := s.table(kind)
	if err != nil {
		return err
	}
	if kind == domain.KindProject {
		tasks, err := s.FetchItems(ctx, domain.KindTask, id)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if _, err := s.taskTable.DeleteEntity(ctx, id, t.ID, nil); err != nil && !errors.Is(mapError(err), ErrNotFound) {
				return mapError(err)
			}
		}
		if err := s.deleteProjectNotes(ctx, id); err != nil {
			return err
		}
	}
	if _, err := tc.DeleteEntity(ctx, scope, id, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// EnqueueActivity sends activity entries to the activity queue.
func (s *Storage) EnqueueActivity(ctx context.Context, activities []domain.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	workers := s.queueConcurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(activities) {
		workers = len(activities)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	work := make(chan domain.Activity)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range work {
				data, err := sonic.Marshal(a)
				if err == nil {
					_, err = s.activityQueue.EnqueueMessage(ctx, string(data), nil)
				}
				if err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}()
	}
	for _, a := range activities {
		select {
		case work <- a:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
