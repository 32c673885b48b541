package utils

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

var (
	validate     *validator.Validate
	translator   ut.Translator
	validateOnce sync.Once
)

// 覆盖默认翻译的错误信息
var customErrorMessages = map[string]string{
	"required": "不能为空",
	"oneof":    "必须是[%s]中的一个",
	"min":      "必须至少为%s",
	"max":      "不能超过%s",
	"gt":       "必须大于%s",
	"gte":      "必须大于或等于%s",
	"lte":      "必须小于或等于%s",
	"url":      "必须是有效的URL",
	"cidr":     "必须是有效的CIDR网段",
	"ip":       "必须是有效的IP地址",
}

// NewValidator 创建一个支持中文错误信息的验证器，字段名优先取 yaml 标签
func NewValidator() (*validator.Validate, ut.Translator) {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		}
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	zhTrans := zh.New()
	uni := ut.New(zhTrans, zhTrans)
	trans, _ := uni.GetTranslator("zh")
	_ = zh_translations.RegisterDefaultTranslations(v, trans)

	for tag, msg := range customErrorMessages {
		registerCustomTranslation(v, trans, tag, msg)
	}
	return v, trans
}

func registerCustomTranslation(v *validator.Validate, trans ut.Translator, tag string, message string) {
	_ = v.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		return ut.Add(tag, "{0}"+strings.Replace(message, "%s", "{1}", 1), true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, err := ut.T(fe.Tag(), fe.Field(), fe.Param())
		if err != nil {
			return fe.Field() + message
		}
		return t
	})
}

// GetValidator 获取全局验证器实例
func GetValidator() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		validate, translator = NewValidator()
	})
	return validate, translator
}

// ValidateStruct 校验结构体，返回中文错误信息（多条以 "; " 连接）和原始错误
func ValidateStruct(s any) (string, error) {
	v, trans := GetValidator()
	err := v.Struct(s)
	if err == nil {
		return "", nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error(), err
	}

	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Translate(trans))
	}
	return strings.Join(msgs, "; "), err
}
