package gormrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/trezcool/backoffice/core/chat"
	"github.com/trezcool/backoffice/core/communicating"
	"github.com/trezcool/backoffice/core/course"
	"github.com/trezcool/backoffice/core/filemanager"
	"github.com/trezcool/backoffice/core/payment"
)

type SubscriberRepository struct {
	*Repository[communicating.NewsletterSubscriber]
}

var _ communicating.SubscriberRepository = (*SubscriberRepository)(nil)

func NewSubscriberRepository(db *gorm.DB) *SubscriberRepository {
	return &SubscriberRepository{Repository: NewRepository[communicating.NewsletterSubscriber](db)}
}

func (repo *SubscriberRepository) FindByEmail(ctx context.Context, email string) (communicating.NewsletterSubscriber, error) {
	var sub communicating.NewsletterSubscriber
	err := repo.conn(ctx).Where("email = ?", email).Take(&sub).Error
	return sub, trapNotFound(err, "selecting subscriber")
}

type EnrollmentRepository struct {
	*Repository[course.Enrollment]
}

var _ course.EnrollmentRepository = (*EnrollmentRepository)(nil)

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{Repository: NewRepository[course.Enrollment](db)}
}

func (repo *EnrollmentRepository) FindEnrollment(ctx context.Context, userID, courseID int) (course.Enrollment, error) {
	var enr course.Enrollment
	err := repo.conn(ctx).Where("user_id = ? AND course_id = ?", userID, courseID).Order("id").Take(&enr).Error
	return enr, trapNotFound(err, "selecting enrollment")
}

func (repo *EnrollmentRepository) ListByUser(ctx context.Context, userID int) ([]course.Enrollment, error) {
	var enrollments []course.Enrollment
	err := repo.conn(ctx).Where("user_id = ? AND is_deleted = ?", userID, false).Order("id").Find(&enrollments).Error
	return enrollments, errors.Wrap(err, "selecting enrollments")
}

type ChatRepository struct {
	*Repository[chat.ChatMessage]
}

var _ chat.Repository = (*ChatRepository)(nil)

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{Repository: NewRepository[chat.ChatMessage](db)}
}

func (repo *ChatRepository) History(ctx context.Context, taskID, n int) ([]chat.ChatMessage, error) {
	msgs := make([]chat.ChatMessage, 0, n)
	err := repo.conn(ctx).
		Where("task_id = ? AND is_deleted = ?", taskID, false).
		Order("id DESC").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "selecting chat history")
	}
	// oldest first
	return lo.Reverse(msgs), nil
}

type PaymentRepository struct {
	*Repository[payment.Payment]
}

var _ payment.Repository = (*PaymentRepository)(nil)

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{Repository: NewRepository[payment.Payment](db)}
}

func (repo *PaymentRepository) FindByReference(ctx context.Context, ref string) (payment.Payment, error) {
	if ref == "" {
		return payment.Payment{}, errors.New("empty payment reference")
	}
	var pmt payment.Payment
	err := repo.conn(ctx).Where("reference = ?", ref).Take(&pmt).Error
	return pmt, trapNotFound(err, "selecting payment")
}

func (repo *PaymentRepository) ExpirePending(ctx context.Context, before time.Time) (int64, error) {
	res := repo.conn(ctx).Model(&payment.Payment{}).
		Where("status = ? AND created_at < ?", payment.StatusPending, before.UTC()).
		Updates(map[string]interface{}{"status": payment.StatusExpired, "updated_at": time.Now().UTC()})
	return res.RowsAffected, errors.Wrap(res.Error, "expiring pending payments")
}

type FileRepository struct {
	*Repository[filemanager.File]
}

var _ filemanager.FileRepository = (*FileRepository)(nil)

func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{Repository: NewRepository[filemanager.File](db)}
}

func (repo *FileRepository) KeysUnder(ctx context.Context, folderID int) ([]string, error) {
	conn := repo.conn(ctx)
	seen := map[int]bool{folderID: true}
	folders, level := []int{folderID}, []int{folderID}
	for len(level) > 0 {
		var ids []int
		err := conn.Table(filemanager.TableFolders).Where("parent_id IN ?", level).Pluck("id", &ids).Error
		if err != nil {
			return nil, errors.Wrap(err, "selecting subfolders")
		}
		level = lo.Filter(ids, func(id int, _ int) bool {
			if seen[id] {
				return false
			}
			seen[id] = true
			return true
		})
		folders = append(folders, level...)
	}

	var keys []string
	err := conn.Model(&filemanager.File{}).Where("folder_id IN ?", folders).Pluck("key", &keys).Error
	return keys, errors.Wrap(err, "selecting file keys")
}
