package pipeline

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	perr "clinicaletl/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	stageNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
	sqlIdentRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}(\.[A-Za-z_][A-Za-z0-9_]{0,62})?$`)

	vOnce sync.Once
	vInst *validator.Validate
	vTr   ut.Translator
)

func validate() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		enLoc := en.New()
		trans, _ := ut.New(enLoc, enLoc).GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("yaml")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("stagename", func(fl validator.FieldLevel) bool {
			return stageNameRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
			return sqlIdentRe.MatchString(fl.Field().String())
		})
		registerMessage(v, trans, "stagename", "{0} must be lower_snake_case")
		registerMessage(v, trans, "sqlident", "{0} must be a plain sql identifier")

		vInst, vTr = v, trans
	})
	return vInst, vTr
}

func registerMessage(v *validator.Validate, trans ut.Translator, tag, msg string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error { return ut.Add(tag, msg, true) },
		func(ut ut.Translator, fe validator.FieldError) string {
			s, _ := ut.T(tag, fe.Field())
			return s
		},
	)
}

// Validate checks field rules, kind blocks and the dependency graph
func (p *Pipeline) Validate() error {
	v, trans := validate()
	if err := v.Struct(p); err != nil {
		if ves, ok := err.(validator.ValidationErrors); ok && len(ves) > 0 {
			fe := ves[0]
			ns := fe.Namespace()
			if i := strings.Index(ns, "."); i >= 0 {
				ns = ns[i+1:]
			}
			return perr.WithField(perr.Newf(perr.ErrorCodeValidation, "pipeline: %s", fe.Translate(trans)), ns)
		}
		return perr.Wrap(err, perr.ErrorCodeValidation, "pipeline")
	}

	for i := range p.Stages {
		if err := p.Stages[i].validateKind(); err != nil {
			return err
		}
	}
	if err := p.validateEdges(); err != nil {
		return err
	}
	if _, err := p.Order(); err != nil {
		return err
	}
	return nil
}

func (s *Stage) validateKind() error {
	blocks := 0
	for _, set := range []bool{s.Identity != nil, s.Concept != nil, s.Transform != nil} {
		if set {
			blocks++
		}
	}
	if blocks != 1 {
		return stageErr(s.Name, "exactly one of identity, concept or transform must be set")
	}

	switch s.Kind {
	case KindIdentity:
		if s.Identity == nil {
			return stageErr(s.Name, "identity stage needs an identity block")
		}
	case KindConcept:
		if s.Concept == nil {
			return stageErr(s.Name, "concept stage needs a concept block")
		}
	case KindTransform, KindRelocate:
		if s.Transform == nil {
			return stageErr(s.Name, "%s stage needs a transform block", s.Kind)
		}
	}
	seen := map[string]bool{}
	for _, sc := range s.Scopes() {
		if seen[sc.Name] {
			return stageErr(s.Name, "source %s listed twice", sc.Name)
		}
		seen[sc.Name] = true
	}

	if s.Transform != nil {
		if err := s.validateTransform(); err != nil {
			return err
		}
	}
	if s.Kind != KindRelocate {
		if len(s.Verify) > 0 {
			return stageErr(s.Name, "verify is only valid on relocate stages")
		}
		if s.Transform != nil && s.Transform.Code.Carried() {
			return stageErr(s.Name, "concept_column is only valid on relocate stages")
		}
	}
	return nil
}

var reservedColumns = map[string]struct{}{
	"source_key": {}, "subject_key": {}, "event_time": {}, "source_code": {}, "concept_id": {},
}

func (s *Stage) validateTransform() error {
	t := s.Transform
	taken := map[string]string{}
	claim := func(col, what string) error {
		if _, ok := reservedColumns[col]; ok {
			return stageErr(s.Name, "%s %q collides with a fixed target column", what, col)
		}
		if prev, ok := taken[col]; ok {
			return stageErr(s.Name, "%s %q already used by %s", what, col, prev)
		}
		taken[col] = what
		return nil
	}
	for _, r := range t.References {
		if err := claim(r.ReferenceColumn(), "reference"); err != nil {
			return err
		}
	}
	for _, f := range t.Fields {
		if err := claim(f.Name, "field"); err != nil {
			return err
		}
	}
	for _, c := range s.Verify {
		if _, ok := taken[c]; !ok {
			if _, fixed := reservedColumns[c]; !fixed {
				return stageErr(s.Name, "verify column %q is not a target column", c)
			}
		}
	}
	return nil
}

func (p *Pipeline) validateEdges() error {
	for _, s := range p.Stages {
		for _, d := range s.DependsOn {
			if d == s.Name {
				return stageErr(s.Name, "depends on itself")
			}
			if p.Index(d) < 0 {
				return stageErr(s.Name, "unknown dependency %q", d)
			}
		}
	}
	return nil
}

func stageErr(stage, format string, a ...any) error {
	return perr.WithField(perr.Newf(perr.ErrorCodeValidation, "stage %s: %s", stage, fmt.Sprintf(format, a...)), stage)
}
