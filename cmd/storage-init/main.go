// Command storage-init creates the task table and event queue and can seed
// the table with fixture tasks.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"taskmaster/domain"
	"taskmaster/storage"
)

const queueAlreadyExists = "QueueAlreadyExists"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	var (
		seed     bool
		fixtures string
	)
	flagSet := pflag.NewFlagSet("storage-init", pflag.ExitOnError)
	flagSet.BoolVar(&seed, "seed", false, "write the fixture tasks to the task table")
	flagSet.StringVar(&fixtures, "fixtures", os.Getenv("FIXTURES_PATH"), "fixture file (default: embedded demo data)")
	_ = flagSet.Parse(os.Args[1:])

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	tasksTable := os.Getenv("TASKS_TABLE")
	if tasksTable == "" {
		tasksTable = "Tasks"
	}
	eventQueue := os.Getenv("EVENT_QUEUE")

	ctx := context.Background()
	if err := ensureTable(ctx, connStr, tasksTable); err != nil {
		log.Fatalf("create table %s: %v", tasksTable, err)
	}
	if eventQueue != "" {
		if err := ensureQueue(ctx, connStr, eventQueue); err != nil {
			log.Fatalf("create queue %s: %v", eventQueue, err)
		}
	}

	if seed {
		n, err := seedTasks(ctx, connStr, tasksTable, fixtures)
		if err != nil {
			log.Fatalf("seed tasks: %v", err)
		}
		log.WithField("tasks", n).Info("fixture tasks written")
	}

	log.WithFields(log.Fields{"table": tasksTable, "queue": eventQueue}).Info("storage init complete")
}

// ensureTable creates the table unless it already exists.
func ensureTable(ctx context.Context, connStr, name string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	if _, err := svc.CreateTable(ctx, name, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
		return err
	}
	log.WithField("table", name).Debug("table ready")
	return nil
}

func ensureQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, queueAlreadyExists) {
		return err
	}
	log.WithField("queue", name).Debug("queue ready")
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}

type taskWriter interface {
	PutTask(ctx context.Context, t domain.Task) error
}

func seedTasks(ctx context.Context, connStr, tasksTable, path string) (int, error) {
	fx, err := storage.DemoFixtures()
	if path != "" {
		fx, err = storage.LoadFixtures(path)
	}
	if err != nil {
		return 0, err
	}
	tasks, err := fx.BuildTasks(time.Now().UTC())
	if err != nil {
		return 0, err
	}
	store, err := storage.New(connStr, tasksTable, "")
	if err != nil {
		return 0, err
	}
	return putAll(ctx, store, tasks)
}

func putAll(ctx context.Context, w taskWriter, tasks []domain.Task) (int, error) {
	for i, t := range tasks {
		if err := w.PutTask(ctx, t); err != nil {
			return i, err
		}
		log.WithFields(log.Fields{"task_id": t.ID, "title": t.Title}).Debug("task seeded")
	}
	return len(tasks), nil
}
