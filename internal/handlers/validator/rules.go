package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewBoardValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("subject_id", subjectIDValidator),
		},
	}
}

func NewJobValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("job_id", uuidValidator),
		},
	}
}
