package model

import (
	"math"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// パラメータグリッドの値は int / int64 / uint64 / float64 のいずれかで渡されることがあるため、
// 推定器のSetParamsはこれらのヘルパーで受け取った値を目的の型に変換する。

// ParamFloat は数値パラメータをfloat64として取り出す
func ParamFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	default:
		return 0, errors.NewValidationError(name, "must be a number", v)
	}
}

// ParamInt は整数パラメータを取り出す。小数部のあるfloat64は拒否する
func ParamInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(x), nil
	default:
		return 0, errors.NewValidationError(name, "must be an integer", v)
	}
}

// ParamSeed は乱数シードを取り出す
func ParamSeed(name string, v interface{}) (uint64, error) {
	if u, ok := v.(uint64); ok {
		return u, nil
	}
	i, err := ParamInt(name, v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, errors.NewValidationError(name, "must be non-negative", v)
	}
	return uint64(i), nil
}

// ParamBool は真偽値パラメータを取り出す
func ParamBool(name string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewValidationError(name, "must be a bool", v)
	}
	return b, nil
}

// ParamString は文字列パラメータを取り出す
func ParamString(name string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidationError(name, "must be a string", v)
	}
	return s, nil
}

// UnknownParam は推定器が知らないパラメータ名のエラーを返す
func UnknownParam(model, name string, v interface{}) error {
	return errors.NewValidationError(name, "unknown parameter for "+model, v)
}

// CopyParams はパラメータマップの浅いコピーを返す
func CopyParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
