package entity

import (
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "z-novel-canon-api/pkg/errors"
)

// domainValidate 领域输入校验器，越界数值直接拒绝，不做截断
var domainValidate = validator.New()

// ValidateStruct 按 validate 标签校验结构体
func ValidateStruct(v any) error {
	if err := domainValidate.Struct(v); err != nil {
		return apperrors.ErrInvalidFact.WithDetail(describeValidation(err)).WithError(err)
	}
	return nil
}

// describeValidation 将校验错误转换为简短描述
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fe.Namespace()+" failed "+fe.Tag()+"="+fe.Param())
		} else {
			parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}

// MinScore / MaxScore significance 与 intensity 的取值范围
const (
	MinScore = 0
	MaxScore = 10
)

func invalidFact(detail string) error {
	return apperrors.ErrInvalidFact.WithDetail(detail)
}
