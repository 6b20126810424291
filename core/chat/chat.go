// Package chat implements the per-task chat rooms.
// Messages are persisted first, then published on the room topic of the broker
// so that every connection subscribed to the room gets them once.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

const (
	Table = "chat_messages"

	historyLimit = 200
)

type ChatMessage struct {
	core.Model
	TaskID  int    `json:"task_id" gorm:"not null;index" validate:"required" ref:"task_manager/Task"`
	UserID  int    `json:"user_id" gorm:"not null;index" validate:"required" ref:"security/User"`
	Message string `json:"message" gorm:"type:text;not null" validate:"required,notblank,max=4000"`
}

func (ChatMessage) TableName() string { return Table }

func (m *ChatMessage) Clean() { m.Message = core.CleanString(m.Message) }

func (m *ChatMessage) References() []crud.Reference {
	return []crud.Reference{
		{Field: "task_id", Table: "tasks", ID: m.TaskID},
		{Field: "user_id", Table: "users", ID: m.UserID},
	}
}

type (
	Repository interface {
		crud.Repository[ChatMessage]
		// History returns the last n live messages of the task in chronological order.
		History(ctx context.Context, taskID, n int) ([]ChatMessage, error)
	}

	// Broker fans the published payloads of a topic out to all of its subscribers.
	Broker interface {
		Publish(ctx context.Context, topic string, payload []byte) error
		// Subscribe delivers the payloads published on topic until ctx is done.
		Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	}

	// Rooms tells whether a chat room exists.
	Rooms interface {
		Exists(ctx context.Context, taskID int) (bool, error)
	}

	Service struct {
		records *crud.Service[ChatMessage, *ChatMessage]
		repo    Repository
		broker  Broker
		rooms   Rooms
		logger  core.Logger
	}
)

func NewService(repo Repository, broker Broker, rooms Rooms, settings crud.Settings, logger core.Logger) *Service {
	return &Service{
		records: crud.NewService[ChatMessage](repo, settings),
		repo:    repo,
		broker:  broker,
		rooms:   rooms,
		logger:  logger,
	}
}

func (svc *Service) Records() *crud.Service[ChatMessage, *ChatMessage] { return svc.records }

// Room resolves a room name to its task id; unknown rooms are core.ErrNotFound.
func (svc *Service) Room(ctx context.Context, name string) (int, error) {
	id, err := strconv.Atoi(name)
	if err != nil || id <= 0 {
		return 0, core.ErrNotFound
	}
	ok, err := svc.rooms.Exists(ctx, id)
	if err != nil {
		return 0, errors.Wrap(err, "checking room")
	}
	if !ok {
		return 0, core.ErrNotFound
	}
	return id, nil
}

func (svc *Service) History(ctx context.Context, taskID int) ([]ChatMessage, error) {
	msgs, err := svc.repo.History(ctx, taskID, historyLimit)
	return msgs, errors.Wrap(err, "loading chat history")
}

// Post saves a message of the context actor in the room, then broadcasts it.
func (svc *Service) Post(ctx context.Context, taskID int, text string) (ChatMessage, error) {
	actor, ok := core.ActorFromContext(ctx)
	if !ok {
		return ChatMessage{}, core.ErrPermissionDenied
	}
	msg := ChatMessage{TaskID: taskID, UserID: actor.ID, Message: text}
	if err := svc.records.AddOrUpdate(ctx, &msg); err != nil {
		return ChatMessage{}, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return ChatMessage{}, errors.Wrap(err, "encoding chat message")
	}
	if err := svc.broker.Publish(ctx, Topic(taskID), payload); err != nil {
		return ChatMessage{}, errors.Wrap(err, "publishing chat message")
	}
	return msg, nil
}

// Subscribe returns the messages posted in the room until ctx is done.
func (svc *Service) Subscribe(ctx context.Context, taskID int) (<-chan ChatMessage, error) {
	payloads, err := svc.broker.Subscribe(ctx, Topic(taskID))
	if err != nil {
		return nil, errors.Wrap(err, "subscribing to room")
	}
	out := make(chan ChatMessage)
	go func() {
		defer close(out)
		for payload := range payloads {
			var msg ChatMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				svc.logger.Error(fmt.Sprintf("decoding chat message: %v", err), err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Topic of the room of a task.
func Topic(taskID int) string {
	return "chat.room." + strconv.Itoa(taskID)
}
