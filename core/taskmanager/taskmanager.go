// Package taskmanager tracks the tasks users assign each other; every task has its own chat room.
package taskmanager

import (
	"context"
	"fmt"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

const (
	TableTasks       = "tasks"
	TableAttachments = "task_attachments"
)

// Task statuses
const (
	StatusTodo       = 1
	StatusInProgress = 2
	StatusReview     = 3
	StatusDone       = 4
	StatusCancelled  = 5
)

// Task priorities
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

var OpenStatuses = []int{StatusTodo, StatusInProgress, StatusReview}

type Task struct {
	core.Model
	Title       string    `json:"title" gorm:"size:200;not null" validate:"required,notblank,max=200"`
	Description string    `json:"description" gorm:"type:text"`
	Priority    int       `json:"priority" gorm:"not null;default:2" validate:"omitempty,min=1,max=4"`
	AssigneeID  null.Int  `json:"assignee_id" gorm:"index" ref:"security/User"`
	CreatorID   null.Int  `json:"creator_id" gorm:"index" ref:"security/User"`
	DueDate     null.Time `json:"due_date"`
}

func (Task) TableName() string { return TableTasks }

func (t *Task) Clean() {
	t.Title = core.CleanString(t.Title)
	if t.Priority == 0 {
		t.Priority = PriorityNormal
	}
}

func (t *Task) References() []crud.Reference {
	return []crud.Reference{
		{Field: "assignee_id", Table: "users", ID: int(t.AssigneeID.Int)},
		{Field: "creator_id", Table: "users", ID: int(t.CreatorID.Int)},
	}
}

func (*Task) Children() []crud.Child {
	return []crud.Child{
		{Table: TableAttachments, ForeignKey: "task_id"},
		{Table: "chat_messages", ForeignKey: "task_id"},
	}
}

func (*Task) Statuses() []int {
	return []int{StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusCancelled}
}

type TaskAttachment struct {
	core.Model
	TaskID int    `json:"task_id" gorm:"not null;index" validate:"required" ref:"task_manager/Task"`
	FileID int    `json:"file_id" gorm:"not null" validate:"required" ref:"file_manager/File"`
	Note   string `json:"note" gorm:"size:300" validate:"max=300"`
}

func (TaskAttachment) TableName() string { return TableAttachments }

func (a *TaskAttachment) References() []crud.Reference {
	return []crud.Reference{
		{Field: "task_id", Table: TableTasks, ID: a.TaskID},
		{Field: "file_id", Table: "files", ID: a.FileID},
	}
}

type Service struct {
	tasks       *crud.Service[Task, *Task]
	attachments *crud.Service[TaskAttachment, *TaskAttachment]
	notifier    core.Notifier
	logger      core.Logger
}

func NewService(tasks crud.Repository[Task], attachments crud.Repository[TaskAttachment], notifier core.Notifier, settings crud.Settings, logger core.Logger) *Service {
	svc := &Service{notifier: notifier, logger: logger}
	svc.tasks = crud.NewService[Task](
		tasks,
		settings,
		crud.WithBeforeSave[Task](setCreator),
		crud.WithAfterSave[Task](svc.notifyAssignee),
	)
	svc.attachments = crud.NewService[TaskAttachment](attachments, settings)
	return svc
}

func (svc *Service) Tasks() *crud.Service[Task, *Task] { return svc.tasks }

func (svc *Service) Attachments() *crud.Service[TaskAttachment, *TaskAttachment] {
	return svc.attachments
}

// Exists reports whether a live task with the given id exists.
func (svc *Service) Exists(ctx context.Context, id int) (bool, error) {
	task, err := svc.tasks.Find(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return !task.IsDeleted, nil
}

// setCreator defaults the creator to the context actor and keeps it on updates.
func setCreator(ctx context.Context, task, existing *Task) error {
	if existing != nil {
		task.CreatorID = existing.CreatorID
		return nil
	}
	if !task.CreatorID.Valid {
		if actor, ok := core.ActorFromContext(ctx); ok {
			task.CreatorID = null.IntFrom(actor.ID)
		}
	}
	return nil
}

// notifyAssignee tells the new assignee of a task about it, unless they assigned it to themselves.
func (svc *Service) notifyAssignee(ctx context.Context, task, existing *Task) error {
	if !task.AssigneeID.Valid {
		return nil
	}
	if existing != nil && existing.AssigneeID == task.AssigneeID {
		return nil
	}
	assignee := int(task.AssigneeID.Int)
	if actor, ok := core.ActorFromContext(ctx); ok && actor.ID == assignee {
		return nil
	}
	err := svc.notifier.Notify(ctx, assignee, "New task: "+task.Title, task.Description, fmt.Sprintf("/tasks/%d", task.ID))
	if err != nil {
		svc.logger.Error(fmt.Sprintf("notifying user %d of task %d: %v", assignee, task.ID, err), err)
	}
	return nil
}
