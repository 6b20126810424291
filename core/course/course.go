// Package course is the e-learning module: courses split in chapters and lessons, and the enrollments of students.
package course

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

const (
	TableCourses     = "courses"
	TableChapters    = "course_chapters"
	TableLessons     = "lessons"
	TableEnrollments = "enrollments"
)

// Course statuses
const (
	StatusDraft     = 1
	StatusPublished = 2
	StatusClosed    = 3
)

// Enrollment statuses
const (
	EnrollmentActive    = 1
	EnrollmentCompleted = 2
	EnrollmentCancelled = 3
)

var (
	ErrNotPublished    = errors.New("course is not open for enrollment")
	MsgPaymentRequired = "this course requires a payment"

	// Messages are the translations of the course errors.
	Messages = map[string]core.Texts{
		ErrNotPublished.Error(): {"fa": "ثبت‌نام در این دوره باز نیست"},
		MsgPaymentRequired:      {"fa": "این دوره نیاز به پرداخت دارد"},
	}
)

type Course struct {
	core.Model
	Title       string          `json:"title" gorm:"size:200;not null" validate:"required,notblank,max=200"`
	Slug        string          `json:"slug" gorm:"size:220;index" validate:"max=220"`
	Description string          `json:"description" gorm:"type:text"`
	TeacherID   null.Int        `json:"teacher_id" gorm:"index" ref:"security/User"`
	CategoryID  null.Int        `json:"category_id" gorm:"index" ref:"cms/ContentCategory"`
	ImageID     null.Int        `json:"image_id" ref:"file_manager/File"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null;default:0"`
}

func (Course) TableName() string { return TableCourses }

func (c *Course) Clean() {
	c.Title = core.CleanString(c.Title)
	if c.Slug = core.Slugify(c.Slug); c.Slug == "" {
		c.Slug = core.Slugify(c.Title)
	}
}

func (c *Course) References() []crud.Reference {
	return []crud.Reference{
		{Field: "teacher_id", Table: "users", ID: int(c.TeacherID.Int)},
		{Field: "category_id", Table: "content_categories", ID: int(c.CategoryID.Int)},
		{Field: "image_id", Table: "files", ID: int(c.ImageID.Int)},
	}
}

func (*Course) Children() []crud.Child {
	return []crud.Child{
		{
			Table:      TableChapters,
			ForeignKey: "course_id",
			Children:   []crud.Child{{Table: TableLessons, ForeignKey: "chapter_id"}},
		},
		{Table: TableEnrollments, ForeignKey: "course_id"},
	}
}

func (*Course) Statuses() []int { return []int{StatusDraft, StatusPublished, StatusClosed} }

// IsFree reports whether students can enroll without paying.
func (c *Course) IsFree() bool { return !c.Price.IsPositive() }

type CourseChapter struct {
	core.Model
	CourseID int    `json:"course_id" gorm:"not null;index" validate:"required" ref:"course/Course"`
	Title    string `json:"title" gorm:"size:200;not null" validate:"required,notblank,max=200"`
	Ordering int    `json:"ordering"`
}

func (CourseChapter) TableName() string { return TableChapters }

func (c *CourseChapter) Clean() { c.Title = core.CleanString(c.Title) }

func (c *CourseChapter) References() []crud.Reference {
	return []crud.Reference{{Field: "course_id", Table: TableCourses, ID: c.CourseID}}
}

func (*CourseChapter) Children() []crud.Child {
	return []crud.Child{{Table: TableLessons, ForeignKey: "chapter_id"}}
}

type Lesson struct {
	core.Model
	ChapterID int      `json:"chapter_id" gorm:"not null;index" validate:"required" ref:"course/CourseChapter"`
	Title     string   `json:"title" gorm:"size:200;not null" validate:"required,notblank,max=200"`
	Body      string   `json:"body" gorm:"type:text"`
	VideoID   null.Int `json:"video_id" ref:"file_manager/File"`
	Duration  int      `json:"duration"` // seconds
	IsPreview bool     `json:"is_preview"`
	Ordering  int      `json:"ordering"`
}

func (Lesson) TableName() string { return TableLessons }

func (l *Lesson) Clean() { l.Title = core.CleanString(l.Title) }

func (l *Lesson) References() []crud.Reference {
	return []crud.Reference{
		{Field: "chapter_id", Table: TableChapters, ID: l.ChapterID},
		{Field: "video_id", Table: "files", ID: int(l.VideoID.Int)},
	}
}

type Enrollment struct {
	core.Model
	UserID    int      `json:"user_id" gorm:"not null;index" validate:"required" ref:"security/User"`
	CourseID  int      `json:"course_id" gorm:"not null;index" validate:"required" ref:"course/Course"`
	PaymentID null.Int `json:"payment_id" ref:"payment/Payment"`
}

func (Enrollment) TableName() string { return TableEnrollments }

func (e *Enrollment) References() []crud.Reference {
	return []crud.Reference{
		{Field: "user_id", Table: "users", ID: e.UserID},
		{Field: "course_id", Table: TableCourses, ID: e.CourseID},
		{Field: "payment_id", Table: "payments", ID: int(e.PaymentID.Int)},
	}
}

func (*Enrollment) Statuses() []int {
	return []int{EnrollmentActive, EnrollmentCompleted, EnrollmentCancelled}
}

type (
	EnrollmentRepository interface {
		crud.Repository[Enrollment]
		// FindEnrollment returns core.ErrNotFound when the user is not enrolled in the course.
		FindEnrollment(ctx context.Context, userID, courseID int) (Enrollment, error)
		// ListByUser returns the non-deleted enrollments of the user, oldest first.
		ListByUser(ctx context.Context, userID int) ([]Enrollment, error)
	}

	// MyCourse is a course the user is enrolled in.
	MyCourse struct {
		Enrollment Enrollment `json:"enrollment"`
		Course     Course     `json:"course"`
	}

	Service struct {
		courses        *crud.Service[Course, *Course]
		chapters       *crud.Service[CourseChapter, *CourseChapter]
		lessons        *crud.Service[Lesson, *Lesson]
		enrollments    *crud.Service[Enrollment, *Enrollment]
		enrollmentRepo EnrollmentRepository
	}
)

func NewService(
	courses crud.Repository[Course],
	chapters crud.Repository[CourseChapter],
	lessons crud.Repository[Lesson],
	enrollments EnrollmentRepository,
	settings crud.Settings,
) *Service {
	return &Service{
		courses:        crud.NewService[Course](courses, settings),
		chapters:       crud.NewService[CourseChapter](chapters, settings),
		lessons:        crud.NewService[Lesson](lessons, settings),
		enrollments:    crud.NewService[Enrollment](enrollments, settings),
		enrollmentRepo: enrollments,
	}
}

func (svc *Service) Courses() *crud.Service[Course, *Course] { return svc.courses }

func (svc *Service) Chapters() *crud.Service[CourseChapter, *CourseChapter] { return svc.chapters }

func (svc *Service) Lessons() *crud.Service[Lesson, *Lesson] { return svc.lessons }

func (svc *Service) Enrollments() *crud.Service[Enrollment, *Enrollment] { return svc.enrollments }

// GetCourse returns a live course.
func (svc *Service) GetCourse(ctx context.Context, id int) (Course, error) {
	crs, err := svc.courses.Find(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if crs.IsDeleted {
		return Course{}, core.ErrNotFound
	}
	return crs, nil
}

// Enroll registers the user in the course; enrolling twice returns the existing enrollment.
// Only published courses take new students, unless the enrollment was paid for.
func (svc *Service) Enroll(ctx context.Context, userID, courseID int, paymentID null.Int) (Enrollment, error) {
	crs, err := svc.GetCourse(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if crs.Status != StatusPublished && !paymentID.Valid {
		return Enrollment{}, core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: ErrNotPublished.Error()})
	}

	enr, err := svc.enrollmentRepo.FindEnrollment(ctx, userID, courseID)
	switch errors.Cause(err) {
	case nil:
		if !enr.IsDeleted && enr.Status != EnrollmentCancelled {
			return enr, nil
		}
		if enr.IsDeleted {
			if err := svc.enrollments.Undelete(ctx, enr.ID); err != nil {
				return Enrollment{}, err
			}
		}
	case core.ErrNotFound:
		enr = Enrollment{UserID: userID, CourseID: courseID}
	default:
		return Enrollment{}, errors.Wrap(err, "finding enrollment")
	}

	enr.Status = EnrollmentActive
	if paymentID.Valid {
		enr.PaymentID = paymentID
	}
	if err := svc.enrollments.AddOrUpdate(ctx, &enr); err != nil {
		return Enrollment{}, err
	}
	return enr, nil
}

// EnrollFree enrolls the context actor in a free course.
func (svc *Service) EnrollFree(ctx context.Context, courseID int) (Enrollment, error) {
	actor, ok := core.ActorFromContext(ctx)
	if !ok {
		return Enrollment{}, core.ErrPermissionDenied
	}
	crs, err := svc.GetCourse(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !crs.IsFree() {
		return Enrollment{}, core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: MsgPaymentRequired})
	}
	return svc.Enroll(ctx, actor.ID, courseID, null.Int{})
}

// MyCourses lists the live enrollments of the context actor along with their courses.
func (svc *Service) MyCourses(ctx context.Context) ([]MyCourse, error) {
	actor, ok := core.ActorFromContext(ctx)
	if !ok {
		return nil, core.ErrPermissionDenied
	}
	enrollments, err := svc.enrollmentRepo.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, errors.Wrap(err, "listing enrollments")
	}

	mine := make([]MyCourse, 0, len(enrollments))
	for _, enr := range enrollments {
		if enr.Status == EnrollmentCancelled {
			continue
		}
		crs, err := svc.courses.Find(ctx, enr.CourseID)
		if err != nil {
			if errors.Cause(err) == core.ErrNotFound {
				continue
			}
			return nil, err
		}
		if crs.IsDeleted {
			continue
		}
		mine = append(mine, MyCourse{Enrollment: enr, Course: crs})
	}
	return mine, nil
}

// IsEnrolled reports whether the user has a live enrollment in the course.
func (svc *Service) IsEnrolled(ctx context.Context, userID, courseID int) (bool, error) {
	enr, err := svc.enrollmentRepo.FindEnrollment(ctx, userID, courseID)
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return false, nil
		}
		return false, errors.Wrap(err, "finding enrollment")
	}
	return !enr.IsDeleted && enr.Status != EnrollmentCancelled, nil
}
