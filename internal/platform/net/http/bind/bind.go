// Package bind decodes and validates JSON request bodies for the API
package bind

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	perr "clinicaletl/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"
)

// Options bounds a decode
type Options struct {
	MaxBytes        int64
	DisallowUnknown bool
	// AllowEmptyBody decodes an absent body as the zero value
	AllowEmptyBody bool
}

// Defaults is a 1 MiB strict decode of a required body
var Defaults = Options{MaxBytes: 1 << 20, DisallowUnknown: true}

type checker struct {
	v     *validator.Validate
	trans ut.Translator
}

var (
	checkOnce sync.Once
	check     checker

	identRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

func validate() checker {
	checkOnce.Do(func() {
		loc := en.New()
		trans, _ := ut.New(loc, loc).GetTranslator("en")
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonName)
		_ = entrans.RegisterDefaultTranslations(v, trans)

		// ident: a stage or table name as written in the pipeline file
		_ = v.RegisterValidation("ident", func(fl validator.FieldLevel) bool {
			return identRE.MatchString(fl.Field().String())
		})
		message(v, trans, "ident", "{0} must be a lowercase identifier")
		message(v, trans, "max", "{0} must be at most {1}")
		message(v, trans, "lte", "{0} must be at most {1}")
		message(v, trans, "gte", "{0} must be at least {1}")
		check = checker{v: v, trans: trans}
	})
	return check
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

func message(v *validator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field(), fe.Param())
			return s
		})
}

// ParseJSON decodes the body of r into T and validates it. Malformed input is
// a JSON error; a failed rule is a Validation error naming the field
func ParseJSON[T any](r *http.Request, opt Options) (T, error) {
	var out T
	body := io.Reader(r.Body)
	if opt.MaxBytes > 0 {
		body = io.LimitReader(body, opt.MaxBytes)
	}
	dec := json.NewDecoder(body)
	if opt.DisallowUnknown {
		dec.DisallowUnknownFields()
	}

	switch err := dec.Decode(&out); {
	case errors.Is(err, io.EOF):
		if !opt.AllowEmptyBody {
			return out, perr.JSONErrf("empty body")
		}
	case err != nil:
		return out, perr.JSONErrf("invalid JSON: %v", err)
	case dec.More():
		return out, perr.JSONErrf("unexpected trailing data")
	}

	return out, Validate(out)
}

// Validate runs the struct tags of v
func Validate(v any) error {
	c := validate()
	err := c.v.Struct(v)
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		return perr.WithField(perr.New(perr.ErrorCodeValidation, fe.Translate(c.trans)), fe.Field())
	}
	if err != nil {
		return perr.JSONErrf("validation: %v", err)
	}
	return nil
}
