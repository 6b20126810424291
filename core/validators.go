package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/fa"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	fa_translations "github.com/go-playground/validator/v10/translations/fa"
)

// Texts maps a locale ("en", "fa") to a message.
type Texts map[string]string

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = Texts{"en": "only alphanumeric characters and underscores are allowed", "fa": "فقط حروف، اعداد و زیرخط مجاز است"}
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	notBlankTag  = "notblank"
	notBlankText = Texts{"en": "this field cannot be blank", "fa": "این فیلد نمی‌تواند خالی باشد"}

	phoneTag   = "phone"
	phoneText  = Texts{"en": "invalid phone number", "fa": "شماره تلفن نامعتبر است"}
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = Texts{"en": "this field is required", "fa": "این فیلد الزامی است"}

	// messages of errors surfaced to API clients
	appMessages = map[string]Texts{
		ErrNotFound.Error():          {"fa": "موردی یافت نشد"},
		ErrInvalidDeleteType.Error(): {"fa": "نوع نامعتبر است"},
		ErrPermissionDenied.Error():  {"fa": "دسترسی مجاز نیست"},
		ErrTooManyRequests.Error():   {"fa": "تعداد درخواست‌ها بیش از حد مجاز است"},
		MsgUnknownColumn:             {"fa": "ستون نامعتبر است"},
		MsgRelatedNotFound:           {"fa": "مورد مرتبط یافت نشد"},
		MsgInvalidStatus:             {"fa": "وضعیت نامعتبر است"},
		MsgInvalidValue:              {"fa": "مقدار نامعتبر است"},
	}
)

const (
	MsgUnknownColumn   = "unknown column"
	MsgRelatedNotFound = "related object not found"
	MsgInvalidStatus   = "invalid status"
	MsgInvalidValue    = "invalid value"
)

// NewTranslator returns a universal translator for the supported locales; en is the fallback.
func NewTranslator() *ut.UniversalTranslator {
	_en := en.New()
	return ut.New(_en, _en, fa.New())
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, uni *ut.UniversalTranslator) {
	enTrans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, enTrans)
	faTrans, _ := uni.GetTranslator("fa")
	_ = fa_translations.RegisterDefaultTranslations(validate, faTrans)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, uni, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, uni, notBlankTag, notBlankText)

	_ = validate.RegisterValidation(phoneTag, phoneValidation)
	RegisterCustomTranslation(validate, uni, phoneTag, phoneText)

	RegisterCustomTranslation(validate, uni, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, uni, requiredWithTag, requiredText, true)

	RegisterMessages(uni, appMessages)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag in every locale of texts.
func RegisterCustomTranslation(validate *validator.Validate, uni *ut.UniversalTranslator, tag string, texts Texts, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	for locale, text := range texts {
		translator, found := uni.GetTranslator(locale)
		if !found {
			continue
		}
		text := text
		_ = validate.RegisterTranslation(
			tag, translator,
			func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
			func(t ut.Translator, fe validator.FieldError) string {
				s, _ := t.T(tag, fe.Field())
				return s
			},
		)
	}
}

// RegisterMessages adds message translations; keys are the english texts.
func RegisterMessages(uni *ut.UniversalTranslator, messages map[string]Texts) {
	enTrans, _ := uni.GetTranslator("en")
	for key, texts := range messages {
		_ = enTrans.Add(key, key, true)
		for locale, text := range texts {
			if translator, found := uni.GetTranslator(locale); found {
				_ = translator.Add(key, text, true)
			}
		}
	}
}

// Translate returns the translation of msg, or msg itself when none is registered.
func Translate(translator ut.Translator, msg string) string {
	if translator == nil {
		return msg
	}
	if s, err := translator.T(msg); err == nil && s != "" {
		return s
	}
	return msg
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

func notBlankValidation(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func phoneValidation(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}
