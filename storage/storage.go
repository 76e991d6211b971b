package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskmaster/domain"
)

const (
	tasksPartition   = "tasks"
	metaPartition    = "meta"
	counterRowKey    = "task-counter"
	maxUpdateRetries = 5

	defaultQueueConcurrency = 8
	queuePerCPU             = 10
	maxQueueConcurrency     = 64
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	GetProperties(ctx context.Context, o *azqueue.GetQueuePropertiesOptions) (azqueue.GetQueuePropertiesResponse, error)
}

// Storage persists tasks in Azure Table Storage and publishes change events
// to an Azure queue.
type Storage struct {
	taskTable        *aztables.Client
	eventQueue       queueClient
	queueConcurrency int
	now              func() time.Time
}

// New creates a Storage instance from the given connection string. An empty
// eventQueue disables event publishing.
func New(connStr, tasksTable, eventQueue string) (*Storage, error) {
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
	s := &Storage{
		taskTable:        svc.NewClient(tasksTable),
		queueConcurrency: queueConcurrencyForCPU(runtime.NumCPU()),
		now:              time.Now,
	}
	if eventQueue == "" {
		return s, nil
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
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	s.eventQueue = eq
	return s, nil
}

// QueueConcurrency is the number of parallel queue sends used by PublishEvents.
func (s *Storage) QueueConcurrency() int { return s.queueConcurrency }

func queueConcurrencyForCPU(cpu int) int {
	if cpu < 1 {
		return defaultQueueConcurrency
	}
	return min(cpu*queuePerCPU, maxQueueConcurrency)
}

// taskEntity stores the task document in Data. Status and Priority are
// duplicated as columns so the table can be filtered server side.
type taskEntity struct {
	aztables.Entity
	Data     string `json:"Data"`
	Status   string `json:"Status"`
	Priority string `json:"Priority"`
}

type counterEntity struct {
	aztables.Entity
	Next int64 `json:"Next"`
}

func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	data, err := sonic.ConfigStd.MarshalToString(t)
	if err != nil {
		return nil, err
	}
	return sonic.ConfigStd.Marshal(taskEntity{
		Entity:   aztables.Entity{PartitionKey: tasksPartition, RowKey: rowKey(t.ID)},
		Data:     data,
		Status:   t.Status.String(),
		Priority: t.Priority.String(),
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	var t domain.Task
	if err := sonic.ConfigStd.UnmarshalFromString(ent.Data, &t); err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", ent.RowKey, err)
	}
	if id, err := strconv.ParseInt(ent.RowKey, 10, 64); err == nil && t.ID == 0 {
		t.ID = id
	}
	return t, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func mapError(err error) error {
	if statusCode(err) == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// ListTasks retrieves every stored task ordered by id.
func (s *Storage) ListTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	slices.SortFunc(tasks, func(a, b domain.Task) int { return cmp.Compare(a.ID, b.ID) })
	return tasks, nil
}

func (s *Storage) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, _, err := s.getTask(ctx, id)
	return t, err
}

func (s *Storage) getTask(ctx context.Context, id int64) (domain.Task, azcore.ETag, error) {
	resp, err := s.taskTable.GetEntity(ctx, tasksPartition, rowKey(id), nil)
	if err != nil {
		return domain.Task{}, "", mapError(err)
	}
	t, err := decodeTaskEntity(resp.Value)
	return t, resp.ETag, err
}

// CreateTask allocates the next id and stores a new task.
func (s *Storage) CreateTask(ctx context.Context, createdBy int64, in domain.TaskCreate) (domain.Task, error) {
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}
	id, err := s.nextID(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("allocate task id: %w", err)
	}
	t := domain.NewTask(id, in, createdBy, s.now().UTC())
	ent, err := encodeTaskEntity(t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, ent, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// PutTask stores t as is, overwriting any existing row. It is used for
// seeding and does not touch the id counter beyond t.ID.
func (s *Storage) PutTask(ctx context.Context, t domain.Task) error {
	ent, err := encodeTaskEntity(t)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.UpsertEntity(ctx, ent, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return err
	}
	return s.bumpCounter(ctx, t.ID)
}

// UpdateTask reads the task, applies fn and writes it back guarded by the
// entity ETag. Lost races are retried with a fresh read.
func (s *Storage) UpdateTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		t, etag, err := s.getTask(ctx, id)
		if err != nil {
			return domain.Task{}, err
		}
		if err := fn(&t); err != nil {
			return domain.Task{}, err
		}
		ent, err := encodeTaskEntity(t)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.taskTable.UpdateEntity(ctx, ent, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		switch statusCode(err) {
		case 0:
			if err != nil {
				return domain.Task{}, err
			}
			return t, nil
		case http.StatusPreconditionFailed:
			continue
		default:
			return domain.Task{}, mapError(err)
		}
	}
	return domain.Task{}, ErrConcurrencyConflict
}

func (s *Storage) nextID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		resp, err := s.taskTable.GetEntity(ctx, metaPartition, counterRowKey, nil)
		if statusCode(err) == http.StatusNotFound {
			ent, _ := sonic.ConfigStd.Marshal(counterEntity{
				Entity: aztables.Entity{PartitionKey: metaPartition, RowKey: counterRowKey},
				Next:   1,
			})
			_, err = s.taskTable.AddEntity(ctx, ent, nil)
			if statusCode(err) == http.StatusConflict {
				continue
			}
			if err != nil {
				return 0, err
			}
			return 1, nil
		}
		if err != nil {
			return 0, err
		}
		var c counterEntity
		if err := sonic.ConfigStd.Unmarshal(resp.Value, &c); err != nil {
			return 0, err
		}
		c.Next++
		ent, _ := sonic.ConfigStd.Marshal(c)
		_, err = s.taskTable.UpdateEntity(ctx, ent, &aztables.UpdateEntityOptions{
			IfMatch:    &resp.ETag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		if statusCode(err) == http.StatusPreconditionFailed {
			continue
		}
		if err != nil {
			return 0, err
		}
		return c.Next, nil
	}
	return 0, ErrConcurrencyConflict
}

// bumpCounter raises the id counter to at least id.
func (s *Storage) bumpCounter(ctx context.Context, id int64) error {
	resp, err := s.taskTable.GetEntity(ctx, metaPartition, counterRowKey, nil)
	var c counterEntity
	switch {
	case statusCode(err) == http.StatusNotFound:
		c.Entity = aztables.Entity{PartitionKey: metaPartition, RowKey: counterRowKey}
	case err != nil:
		return err
	default:
		if err := sonic.ConfigStd.Unmarshal(resp.Value, &c); err != nil {
			return err
		}
	}
	if c.Next >= id {
		return nil
	}
	c.Next = id
	ent, _ := sonic.ConfigStd.Marshal(c)
	_, err = s.taskTable.UpsertEntity(ctx, ent, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// PublishEvent sends a single change event to the event queue.
func (s *Storage) PublishEvent(ctx context.Context, ev domain.Event) error {
	return s.PublishEvents(ctx, []domain.Event{ev})
}

// PublishEvents sends events to the event queue using up to
// queueConcurrency parallel requests. The first error cancels the rest.
func (s *Storage) PublishEvents(ctx context.Context, events []domain.Event) error {
	if s.eventQueue == nil || len(events) == 0 {
		return nil
	}
	workers := min(max(s.queueConcurrency, 1), len(events))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				if _, err := s.eventQueue.EnqueueMessage(ctx, msg, nil); err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}()
	}

loop:
	for _, ev := range events {
		data, err := sonic.ConfigStd.MarshalToString(ev)
		if err != nil {
			once.Do(func() { firstErr = err })
			break
		}
		select {
		case jobs <- data:
		case <-ctx.Done():
			break loop
		}
	}
	close(jobs)
	wg.Wait()
	if firstErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

// Ping checks that the event queue is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s.eventQueue == nil {
		return nil
	}
	_, err := s.eventQueue.GetProperties(ctx, nil)
	return err
}
