package user

import (
	"strings"

	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

const Table = "users"

// Roles
const (
	// Admin
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"

	// Teacher
	RoleTeacher = "teacher:"

	// Student
	RoleStudent = "student:"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner, RoleAdminPrincipal}
	TeacherRoles = []string{RoleTeacher}
	StudentRoles = []string{RoleStudent}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner:     30,
		RoleAdminPrincipal: 29,
		RoleAdmin:          21,

		// Teachers: 20 - 11
		RoleTeacher: 11,

		// Students: 10 - 1
		RoleStudent: 1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Principal", Value: RoleAdminPrincipal},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 5)
	all = append(all, AdminRoles...)
	all = append(all, TeacherRoles...)
	all = append(all, StudentRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	core.Model
	Name         string         `json:"name" gorm:"size:150;not null" validate:"required,max=150"`
	Username     string         `json:"username" gorm:"size:150;index" validate:"omitempty,min=4,max=150,alphanum_"`
	Email        string         `json:"email" gorm:"size:254;index" validate:"omitempty,email"`
	Phone        string         `json:"phone" gorm:"size:20;index" validate:"omitempty,phone"`
	IsActive     bool           `json:"is_active" gorm:"not null"`
	Roles        pq.StringArray `json:"roles" gorm:"type:text" validate:"omitempty,allroles"`
	AvatarID     null.Int       `json:"avatar_id" ref:"file_manager/File"`
	LastLogin    null.Time      `json:"last_login"` // UTC
	PasswordHash []byte         `json:"-"`
	Password     string         `json:"password,omitempty" gorm:"-"`
}

func (User) TableName() string { return Table }

func (u *User) References() []crud.Reference {
	return []crud.Reference{{Field: "avatar_id", Table: "files", ID: int(u.AvatarID.Int)}}
}

// Clean normalizes user input before validation.
func (u *User) Clean() {
	u.Name = core.CleanString(u.Name)
	u.Username = core.CleanString(u.Username, true /* lower */)
	u.Email = core.CleanString(u.Email, true /* lower */)
	u.Phone = core.CleanString(u.Phone)
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u *User) IsTeacher() bool {
	return u.RoleStartsWith(RoleTeacher)
}

func (u *User) IsStudent() bool {
	return u.RoleStartsWith(RoleStudent)
}

// Actor returns the request actor matching the user.
func (u *User) Actor() core.Actor {
	return core.Actor{ID: u.ID, Username: u.Username, Email: u.Email, Roles: u.Roles}
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

// GetFilter selects a single user; the first non-empty criterion is used.
type GetFilter struct {
	ID              int
	UsernameOrEmail []string
	Phone           string
}
