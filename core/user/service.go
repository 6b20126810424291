package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

var (
	// errors
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrUsernameExists     = errors.New("a user with this username already exists")
	ErrPhoneExists        = errors.New("a user with this phone already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
)

type (
	Repository interface {
		crud.Repository[User]
		// GetUser returns core.ErrNotFound when no active record matches the filter.
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// CheckUniqueness returns ErrUsernameExists, ErrEmailExists or ErrPhoneExists when another user holds these values.
		CheckUniqueness(ctx context.Context, usr User) error
		UpdateOrCreateUser(ctx context.Context, usr User) (User, error)
		SetLastLogin(ctx context.Context, id int, at time.Time) error
	}

	Service struct {
		repo     Repository
		records  *crud.Service[User, *User]
		validate *validator.Validate
		mailSvc  core.EmailService
		conf     *core.Config
	}
)

func NewService(repo Repository, settings crud.Settings, mailSvc core.EmailService, conf *core.Config) *Service {
	svc := &Service{
		repo:     repo,
		validate: settings.Validate,
		mailSvc:  mailSvc,
		conf:     conf,
	}
	svc.records = crud.NewService[User](
		repo,
		settings,
		crud.WithBeforeSave[User](svc.beforeSave),
		crud.WithBeforeDelete[User](svc.beforeDelete),
	)

	secretKey = []byte(conf.SecretKey)
	passwordResetTimeoutDelta = conf.PasswordResetTimeoutDelta
	return svc
}

// Records exposes the generic record operations on users.
func (svc *Service) Records() *crud.Service[User, *User] { return svc.records }

func (svc *Service) beforeSave(ctx context.Context, usr, existing *User) error {
	// the actor cannot set a role > their own max role
	if actor, ok := core.ActorFromContext(ctx); ok {
		if MaxRolePriority(usr.Roles) > MaxRolePriority(actor.Roles) {
			return core.NewValidationError(nil, core.FieldError{Field: "roles", Error: msgNoPermsToSetRoles})
		}
	}
	if existing == nil && usr.Password == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: msgPasswordRequired})
	}
	if err := svc.checkUniqueness(ctx, *usr); err != nil {
		return err
	}

	if usr.Password != "" {
		if err := usr.SetPassword(usr.Password); err != nil {
			return errors.Wrap(err, "setting password")
		}
		usr.Password = ""
	} else if existing != nil {
		usr.PasswordHash = existing.PasswordHash
	}
	if existing != nil {
		usr.LastLogin = existing.LastLogin
	}
	return nil
}

func (svc *Service) beforeDelete(ctx context.Context, usr *User, _ crud.DeleteType) error {
	actor, ok := core.ActorFromContext(ctx)
	if !ok {
		return nil
	}
	// Say No to Suicide! the actor cannot delete themselves
	if actor.ID == usr.ID {
		return core.ErrPermissionDenied
	}
	if MaxRolePriority(usr.Roles) > MaxRolePriority(actor.Roles) {
		return core.ErrPermissionDenied
	}
	return nil
}

func (svc *Service) checkUniqueness(ctx context.Context, usr User) error {
	if err := svc.repo.CheckUniqueness(ctx, usr); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		case ErrPhoneExists:
			field = "phone"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) GetByID(ctx context.Context, id int) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	uname = core.CleanString(uname, true /* lower */)
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: []string{uname}})
}

func (svc *Service) GetByPhone(ctx context.Context, phone string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Phone: core.CleanString(phone)})
}

// Authenticate checks the credentials of an active user and records the login.
func (svc *Service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}
	return svc.SetLastLogin(ctx, usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := time.Now().UTC()
	if err := svc.repo.SetLastLogin(ctx, usr.ID, now); err != nil {
		return User{}, errors.Wrap(err, "setting lastLogin")
	}
	usr.LastLogin = null.TimeFrom(now)
	return usr, nil
}

// GetOrCreateByPhone returns the user owning phone, registering a new active student when there is none.
func (svc *Service) GetOrCreateByPhone(ctx context.Context, phone string) (User, error) {
	usr, err := svc.GetByPhone(ctx, phone)
	if err == nil {
		return usr, nil
	}
	if errors.Cause(err) != core.ErrNotFound {
		return User{}, errors.Wrap(err, "finding user by phone")
	}
	// the phone may belong to a deactivated or deleted account
	if err = svc.repo.CheckUniqueness(ctx, User{Phone: phone}); err != nil {
		if err == ErrPhoneExists {
			return User{}, ErrAccountDeactivated
		}
		return User{}, errors.Wrap(err, "checking phone uniqueness")
	}
	usr = User{
		Name:     phone,
		Phone:    phone,
		IsActive: true,
		Roles:    StudentRoles,
	}
	return svc.repo.UpdateOrCreateUser(ctx, usr)
}

// RequestPasswordReset emails a password reset link to the active user owning email.
func (svc *Service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: []string{core.CleanString(email, true /* lower */)}})
	if err != nil {
		return err
	}
	if usr.Email == "" {
		return core.ErrNotFound
	}
	svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *Service) sendPasswordResetMail(usr User) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": makeToken(usr),
		},
	}
	svc.mailSvc.SendMessages(msg)
}

// ResetPassword sets a new password when the reset token is valid.
func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	id, err := decodeUID(data.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return err
	}
	if err = verifyToken(usr, data.Token); err != nil {
		return core.NewValidationError(err)
	}

	usr.Password = data.Password
	if err = svc.validate.StructCtx(ctx, usr); err != nil {
		return err
	}
	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.Password = ""
	if _, err = svc.repo.UpdateOrCreateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "saving user")
	}
	return nil
}

// SetPassword changes the password of the user matching uname, bypassing the password policy.
func (svc *Service) SetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = svc.repo.UpdateOrCreateUser(ctx, usr)
	return errors.Wrap(err, fmt.Sprintf("saving user %d", usr.ID))
}
