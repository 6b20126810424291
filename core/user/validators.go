package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/samber/lo"

	"github.com/trezcool/backoffice/core"
	appfs "github.com/trezcool/backoffice/fs"
)

var (
	allRolesTag  = "allroles"
	allRolesText = core.Texts{"en": "invalid roles", "fa": "نقش‌ها نامعتبر هستند"}

	usernameOrEmailTag  = "username_or_email"
	usernameOrEmailText = core.Texts{"en": "one of username, email or phone is required", "fa": "یکی از نام کاربری، ایمیل یا تلفن الزامی است"}

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = core.Texts{
		"en": fmt.Sprintf("password must contain at least %d characters", pwdMinLen),
		"fa": fmt.Sprintf("رمز عبور باید حداقل %d کاراکتر داشته باشد", pwdMinLen),
	}

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = core.Texts{"en": "password must not contain whitespace", "fa": "رمز عبور نباید فاصله داشته باشد"}

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = core.Texts{"en": "password cannot be entirely numeric", "fa": "رمز عبور نمی‌تواند فقط عدد باشد"}

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = core.Texts{
		"en": "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character",
		"fa": "رمز عبور باید حداقل یک حرف بزرگ، یک حرف کوچک، یک عدد و یک نماد داشته باشد",
	}
	specialRegex = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = core.Texts{"en": "password cannot be similar to user attributes", "fa": "رمز عبور نباید شبیه اطلاعات کاربر باشد"}

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = core.Texts{"en": "password is too common", "fa": "رمز عبور بیش از حد رایج است"}
	commonPasswords = make([]string, 0, 128)
	commonPwdOnce   sync.Once

	// messages
	msgNoPermsToSetRoles = "not enough rights to set these roles"
	msgPasswordRequired  = "this field is required"
	messages             = map[string]core.Texts{
		msgPasswordRequired:           {"fa": "این فیلد الزامی است"},
		msgNoPermsToSetRoles:          {"fa": "دسترسی کافی برای تعیین این نقش‌ها وجود ندارد"},
		ErrEmailExists.Error():        {"fa": "کاربری با این ایمیل وجود دارد"},
		ErrUsernameExists.Error():     {"fa": "کاربری با این نام کاربری وجود دارد"},
		ErrPhoneExists.Error():        {"fa": "کاربری با این شماره تلفن وجود دارد"},
		ErrInvalidCredentials.Error(): {"fa": "اطلاعات ورود نامعتبر است"},
		ErrInvalidCaptcha.Error():     {"fa": "کد امنیتی نامعتبر است"},
		ErrInvalidOTP.Error():         {"fa": "کد تایید نامعتبر یا منقضی شده است"},
		errInvalidToken.Error():       {"fa": "توکن نامعتبر است"},
		errTokenExpired.Error():       {"fa": "توکن منقضی شده است"},
	}
)

// InitValidators registers the user validators and their translations.
func InitValidators(validate *validator.Validate, uni *ut.UniversalTranslator) {
	_ = validate.RegisterValidation(allRolesTag, allRolesValidation)
	core.RegisterCustomTranslation(validate, uni, allRolesTag, allRolesText)

	validate.RegisterStructValidation(userStructValidation, User{})
	core.RegisterCustomTranslation(validate, uni, usernameOrEmailTag, usernameOrEmailText)
	core.RegisterCustomTranslation(validate, uni, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, uni, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, uni, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, uni, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, uni, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, uni, pwdNoCommonTag, pwdNoCommonText)

	core.RegisterMessages(uni, messages)
}

// LoadCommonPasswords loads the embedded list of common passwords used by the password policy.
func LoadCommonPasswords(logger core.Logger) {
	commonPwdOnce.Do(func() {
		file, err := appfs.FS.Open("common-passwords.txt.gz")
		if err != nil {
			logger.Error(fmt.Sprintf("opening common passwords: %v", err), err)
			return
		}
		//goland:noinspection GoUnhandledErrorResult
		defer file.Close()

		gzRdr, err := gzip.NewReader(file)
		if err != nil {
			logger.Error(fmt.Sprintf("reading common passwords: %v", err), err)
			return
		}
		scanner := bufio.NewScanner(gzRdr)
		for scanner.Scan() {
			if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
				commonPasswords = append(commonPasswords, pwd)
			}
		}
		sort.Strings(commonPasswords)
	})
}

// Custom Validators

// allRolesValidation checks that provided user roles are all in AllRoles
func allRolesValidation(fl validator.FieldLevel) bool {
	switch roles := fl.Field().Interface().(type) {
	case pq.StringArray:
		return lo.Every(AllRoles, roles)
	case []string:
		return lo.Every(AllRoles, roles)
	}
	return false
}

// userStructValidation does struct level validation on User.
func userStructValidation(sl validator.StructLevel) {
	usr, ok := sl.Current().Interface().(User)
	if !ok {
		return
	}
	if usr.Username == "" && usr.Email == "" && usr.Phone == "" {
		sl.ReportError(usr.Username, "username", "Username", usernameOrEmailTag, "")
	}
	if usr.Password != "" {
		validatePassword(usr.Password, usr.Name, usr.Username, usr.Email, sl)
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
// - no common password
func validatePassword(pwd, name, uname, email string, sl validator.StructLevel) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}
	if tag := checkPassword(pwd, name, uname, email); tag != "" {
		reportErr(tag)
	}
}

// checkPassword returns the tag of the first broken password rule, or "".
func checkPassword(pwd, name, uname, email string) string {
	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	// - minLen: 8
	runes := []rune(pwd)
	pwdLen := len(runes)
	if pwdLen < pwdMinLen {
		return pwdMinLenTag
	}
	for _, char := range runes {
		// - no whitespace
		if unicode.IsSpace(char) {
			return pwdNoSpaceTag
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	// - not all numeric
	if digitCount == pwdLen {
		return pwdNotAllNumTag
	}

	// - complexity: 1 upper, 1 lower, 1 digit & 1 special
	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(pwd)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		return pwdComplexityTag
	}

	// - no user attrs similarity
	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(strings.ToLower(pass), ""), strings.Split(strings.ToLower(usrAttr), "")).QuickRatio()
	}
	if getRatio(pwd, name) >= pwdMaxSim ||
		getRatio(pwd, uname) >= pwdMaxSim ||
		getRatio(pwd, email) >= pwdMaxSim {
		return pwdAttrSimTag
	}

	// - no common passwords
	lpwd := strings.ToLower(pwd)
	if idx := sort.SearchStrings(commonPasswords, lpwd); idx < len(commonPasswords) {
		if match := commonPasswords[idx]; lpwd == match {
			return pwdNoCommonTag
		}
	}
	return ""
}
