// Package communicating handles what visitors send in (contact messages, newsletter subscriptions)
// and the notifications sent out to users.
package communicating

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

const (
	TableContactMessages = "contact_messages"
	TableSubscribers     = "newsletter_subscribers"
	TableNotifications   = "notifications"
)

// Contact message statuses
const (
	ContactUnread   = 1
	ContactRead     = 2
	ContactAnswered = 3
)

// Subscriber statuses
const (
	Subscribed   = 1
	Unsubscribed = 2
)

type ContactMessage struct {
	core.Model
	Name    string `json:"name" gorm:"size:150;not null" validate:"required,notblank,max=150"`
	Email   string `json:"email" gorm:"size:254;not null" validate:"required,email"`
	Phone   string `json:"phone" gorm:"size:20" validate:"omitempty,phone"`
	Subject string `json:"subject" gorm:"size:200" validate:"max=200"`
	Body    string `json:"body" gorm:"type:text;not null" validate:"required,notblank,max=5000"`
}

func (ContactMessage) TableName() string { return TableContactMessages }

func (m *ContactMessage) Clean() {
	m.Name = core.CleanString(m.Name)
	m.Email = core.CleanString(m.Email, true /* lower */)
	m.Phone = core.CleanString(m.Phone)
	m.Subject = core.CleanString(m.Subject)
	m.Body = core.CleanString(m.Body)
}

func (*ContactMessage) Statuses() []int { return []int{ContactUnread, ContactRead, ContactAnswered} }

type NewsletterSubscriber struct {
	core.Model
	Email string `json:"email" gorm:"size:254;not null;uniqueIndex" validate:"required,email"`
	Name  string `json:"name" gorm:"size:150" validate:"max=150"`
}

func (NewsletterSubscriber) TableName() string { return TableSubscribers }

func (s *NewsletterSubscriber) Clean() {
	s.Email = core.CleanString(s.Email, true /* lower */)
	s.Name = core.CleanString(s.Name)
}

func (*NewsletterSubscriber) Statuses() []int { return []int{Subscribed, Unsubscribed} }

const notificationTitleLen = 200

type Notification struct {
	core.Model
	UserID int       `json:"user_id" gorm:"not null;index" validate:"required" ref:"security/User"`
	Title  string    `json:"title" gorm:"size:200;not null" validate:"required,notblank,max=200"`
	Body   string    `json:"body" gorm:"type:text"`
	Link   string    `json:"link" gorm:"size:500" validate:"omitempty,uri"`
	ReadAt null.Time `json:"read_at"`
}

func (Notification) TableName() string { return TableNotifications }

func (n *Notification) References() []crud.Reference {
	return []crud.Reference{{Field: "user_id", Table: "users", ID: n.UserID}}
}

type (
	// SubscriberRepository finds subscribers regardless of their deletion flag.
	SubscriberRepository interface {
		crud.Repository[NewsletterSubscriber]
		FindByEmail(ctx context.Context, email string) (NewsletterSubscriber, error)
	}

	Service struct {
		contacts       *crud.Service[ContactMessage, *ContactMessage]
		subscribers    *crud.Service[NewsletterSubscriber, *NewsletterSubscriber]
		notifications  *crud.Service[Notification, *Notification]
		subscriberRepo SubscriberRepository
		mailSvc        core.EmailService
		adminEmails    []string
	}
)

func NewService(
	contacts crud.Repository[ContactMessage],
	subscribers SubscriberRepository,
	notifications crud.Repository[Notification],
	settings crud.Settings,
	mailSvc core.EmailService,
	conf *core.Config,
) *Service {
	return &Service{
		contacts:       crud.NewService[ContactMessage](contacts, settings),
		subscribers:    crud.NewService[NewsletterSubscriber](subscribers, settings),
		notifications:  crud.NewService[Notification](notifications, settings),
		subscriberRepo: subscribers,
		mailSvc:        mailSvc,
		adminEmails:    conf.AdminEmails,
	}
}

func (svc *Service) Contacts() *crud.Service[ContactMessage, *ContactMessage] { return svc.contacts }

func (svc *Service) Subscribers() *crud.Service[NewsletterSubscriber, *NewsletterSubscriber] {
	return svc.subscribers
}

func (svc *Service) Notifications() *crud.Service[Notification, *Notification] {
	return svc.notifications
}

// SubmitContact records a visitor message as unread and forwards it to the admins.
func (svc *Service) SubmitContact(ctx context.Context, msg ContactMessage) (ContactMessage, error) {
	msg.Model = core.Model{Status: ContactUnread}
	if err := svc.contacts.AddOrUpdate(ctx, &msg); err != nil {
		return ContactMessage{}, err
	}
	if len(svc.adminEmails) > 0 {
		to := make([]mail.Address, 0, len(svc.adminEmails))
		for _, addr := range svc.adminEmails {
			to = append(to, mail.Address{Address: addr})
		}
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           to,
			Subject:      "New contact message: " + msg.Subject,
			TemplateName: "contact_message",
			TemplateData: map[string]interface{}{
				"Name":    msg.Name,
				"Email":   msg.Email,
				"Subject": msg.Subject,
				"Body":    msg.Body,
			},
		})
	}
	return msg, nil
}

// Subscribe adds email to the newsletter, reactivating a former subscription.
func (svc *Service) Subscribe(ctx context.Context, email, name string) (NewsletterSubscriber, error) {
	sub := NewsletterSubscriber{Email: email, Name: name}
	sub.Clean()
	existing, err := svc.subscriberRepo.FindByEmail(ctx, sub.Email)
	switch errors.Cause(err) {
	case nil:
		if existing.Status == Subscribed && !existing.IsDeleted {
			return existing, nil
		}
		sub.ID = existing.ID
		if sub.Name == "" {
			sub.Name = existing.Name
		}
		if existing.IsDeleted {
			if err := svc.subscribers.Undelete(ctx, existing.ID); err != nil {
				return NewsletterSubscriber{}, err
			}
		}
	case core.ErrNotFound:
	default:
		return NewsletterSubscriber{}, errors.Wrap(err, "finding subscriber")
	}
	sub.Status = Subscribed
	if err := svc.subscribers.AddOrUpdate(ctx, &sub); err != nil {
		return NewsletterSubscriber{}, err
	}
	return sub, nil
}

// Unsubscribe removes email from the newsletter; unknown emails are ignored.
func (svc *Service) Unsubscribe(ctx context.Context, email string) error {
	sub, err := svc.subscriberRepo.FindByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "finding subscriber")
	}
	sub.Status = Unsubscribed
	return svc.subscribers.AddOrUpdate(ctx, &sub)
}

// Notify sends an in-app notification to a user. Links are absolute URLs or paths of the app.
func (svc *Service) Notify(ctx context.Context, userID int, title, body, link string) error {
	title = lo.Substring(title, 0, notificationTitleLen)
	return svc.notifications.AddOrUpdate(ctx, &Notification{UserID: userID, Title: title, Body: body, Link: link})
}

// MyNotifications lists the notifications of the context actor, newest first.
func (svc *Service) MyNotifications(ctx context.Context, q crud.ListQuery) (crud.Page[Notification], error) {
	actor, ok := core.ActorFromContext(ctx)
	if !ok {
		return crud.Page[Notification]{}, core.ErrPermissionDenied
	}
	q.Filters = append([]crud.Condition{{Column: "user_id", Value: actor.ID}}, q.Filters...)
	if q.Sort == "" {
		q.Sort = "-id"
	}
	return svc.notifications.List(ctx, q)
}

// MarkRead flags the notification of the context actor as read.
func (svc *Service) MarkRead(ctx context.Context, id int) error {
	notif, err := svc.notifications.Find(ctx, id)
	if err != nil {
		return err
	}
	if actor, ok := core.ActorFromContext(ctx); !ok || actor.ID != notif.UserID {
		return core.ErrPermissionDenied
	}
	if notif.ReadAt.Valid {
		return nil
	}
	notif.ReadAt = null.TimeFrom(time.Now().UTC())
	return svc.notifications.AddOrUpdate(ctx, &notif)
}
