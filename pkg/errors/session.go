package errors

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	学習セッションのエラー型
//
// ===========================================================================

// SchemaError は列が存在しない、または列の使い方が不正な場合のエラーです。
// 前処理中に発生した場合はセッション全体を中断します。
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("mlexplorer: schema error on column '%s': %s", e.Column, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *SchemaError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("column", e.Column).
		Str("reason", e.Reason).
		Str("type", "SchemaError")
}

// NewSchemaError は新しいSchemaErrorを作成し、スタックトレースを付与します。
func NewSchemaError(column, reason string) error {
	return errors.WithStack(&SchemaError{Column: column, Reason: reason})
}

// TypeMismatchError は欠損値戦略と列の型が合わない場合のエラーです。
type TypeMismatchError struct {
	Column     string
	Strategy   string
	ColumnType string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("mlexplorer: strategy '%s' cannot be applied to %s column '%s'", e.Strategy, e.ColumnType, e.Column)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *TypeMismatchError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("column", e.Column).
		Str("strategy", e.Strategy).
		Str("column_type", e.ColumnType).
		Str("type", "TypeMismatchError")
}

// NewTypeMismatchError は新しいTypeMismatchErrorを作成し、スタックトレースを付与します。
func NewTypeMismatchError(column, strategy, columnType string) error {
	return errors.WithStack(&TypeMismatchError{Column: column, Strategy: strategy, ColumnType: columnType})
}

// InsufficientDataError は分割や層化に必要な行数が足りない場合のエラーです。
type InsufficientDataError struct {
	Reason   string
	Required int
	Got      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("mlexplorer: insufficient data: %s (required %d, got %d)", e.Reason, e.Required, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *InsufficientDataError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("reason", e.Reason).
		Int("required", e.Required).
		Int("got", e.Got).
		Str("type", "InsufficientDataError")
}

// NewInsufficientDataError は新しいInsufficientDataErrorを作成し、スタックトレースを付与します。
func NewInsufficientDataError(reason string, required, got int) error {
	return errors.WithStack(&InsufficientDataError{Reason: reason, Required: required, Got: got})
}

// ConfigurationError はセッション設定が不正な場合のエラーです。
// 例えば、fold数が訓練行数を超えている場合や、未知の評価指標名が指定された場合など。
type ConfigurationError struct {
	Option string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mlexplorer: invalid configuration '%s'=%v: %s", e.Option, e.Value, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigurationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("option", e.Option).
		Interface("value", e.Value).
		Str("reason", e.Reason).
		Str("type", "ConfigurationError")
}

// NewConfigurationError は新しいConfigurationErrorを作成し、スタックトレースを付与します。
func NewConfigurationError(option string, value interface{}, reason string) error {
	return errors.WithStack(&ConfigurationError{Option: option, Value: value, Reason: reason})
}

// 学習失敗の種別
const (
	FailureNumerical = "numerical_instability"
	FailureDimension = "dimension"
	FailureNotFitted = "not_fitted"
	FailureValue     = "invalid_value"
	FailurePanic     = "panic"
	FailureUnknown   = "unknown"
)

// TrainingFailure は1モデルの学習失敗の記録です。
// セッションを中断させず、他のモデルの学習は続行されます。
type TrainingFailure struct {
	Model string
	Kind  string
	Err   error
}

func (e *TrainingFailure) Error() string {
	return fmt.Sprintf("mlexplorer: training %s failed (%s): %v", e.Model, e.Kind, e.Err)
}

func (e *TrainingFailure) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *TrainingFailure) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model", e.Model).
		Str("kind", e.Kind).
		Str("cause", fmt.Sprint(e.Err)).
		Str("type", "TrainingFailure")
}

// NewTrainingFailure はerrからTrainingFailureを作成します。種別はエラー型から判定します。
func NewTrainingFailure(model string, err error) *TrainingFailure {
	return &TrainingFailure{Model: model, Kind: FailureKind(err), Err: err}
}

// FailureKind はエラーチェーンから学習失敗の種別を判定します。
func FailureKind(err error) string {
	var (
		numErr   *NumericalInstabilityError
		dimErr   *DimensionError
		fitErr   *NotFittedError
		valErr   *ValueError
		validErr *ValidationError
		panicErr *PanicError
	)
	switch {
	case errors.As(err, &numErr), errors.Is(err, ErrSingularMatrix):
		return FailureNumerical
	case errors.As(err, &dimErr):
		return FailureDimension
	case errors.As(err, &fitErr):
		return FailureNotFitted
	case errors.As(err, &valErr), errors.As(err, &validErr):
		return FailureValue
	case errors.As(err, &panicErr):
		return FailurePanic
	default:
		return FailureUnknown
	}
}

// EmptyLeaderboardError は全モデルの学習が失敗し、順位付けできる結果がない場合のエラーです。
type EmptyLeaderboardError struct {
	Metric string
}

func (e *EmptyLeaderboardError) Error() string {
	return fmt.Sprintf("mlexplorer: leaderboard ranked by '%s' is empty: every model failed training", e.Metric)
}

// NewEmptyLeaderboardError は新しいEmptyLeaderboardErrorを作成し、スタックトレースを付与します。
func NewEmptyLeaderboardError(metric string) error {
	return errors.WithStack(&EmptyLeaderboardError{Metric: metric})
}

// IncompatibleArtifactError はアーティファクトを読み込めない、または前処理状態と整合しない場合のエラーです。
type IncompatibleArtifactError struct {
	Reason string
	Err    error
}

func (e *IncompatibleArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mlexplorer: incompatible artifact: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mlexplorer: incompatible artifact: %s", e.Reason)
}

func (e *IncompatibleArtifactError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *IncompatibleArtifactError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("reason", e.Reason).
		Str("type", "IncompatibleArtifactError")
}

// NewIncompatibleArtifactError は新しいIncompatibleArtifactErrorを作成し、スタックトレースを付与します。
func NewIncompatibleArtifactError(reason string, err error) error {
	return errors.WithStack(&IncompatibleArtifactError{Reason: reason, Err: err})
}

// SchemaMismatchError はデータセットのスキーマが学習時のフィンガープリントと異なる場合のエラーです。
type SchemaMismatchError struct {
	Expected string   // 学習時のフィンガープリント
	Got      string   // 入力データのフィンガープリント
	Missing  []string // 学習時にあって入力にない列
	Mismatch []string // 型が変わった列
}

func (e *SchemaMismatchError) Error() string {
	msg := fmt.Sprintf("mlexplorer: schema fingerprint mismatch: expected %s, got %s", e.Expected, e.Got)
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf("; missing columns [%s]", strings.Join(e.Missing, ", "))
	}
	if len(e.Mismatch) > 0 {
		msg += fmt.Sprintf("; type changed [%s]", strings.Join(e.Mismatch, ", "))
	}
	return msg
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *SchemaMismatchError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("expected", e.Expected).
		Str("got", e.Got).
		Strs("missing", e.Missing).
		Strs("mismatch", e.Mismatch).
		Str("type", "SchemaMismatchError")
}

// NewSchemaMismatchError は新しいSchemaMismatchErrorを作成し、スタックトレースを付与します。
func NewSchemaMismatchError(expected, got string, missing, mismatch []string) error {
	return errors.WithStack(&SchemaMismatchError{Expected: expected, Got: got, Missing: missing, Mismatch: mismatch})
}

// BackendUnavailableError はオプションのバックエンドが必要な機能を、バックエンドなしで要求した場合のエラーです。
type BackendUnavailableError struct {
	Backend string
	Feature string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("mlexplorer: %s requires backend '%s', which is not registered", e.Feature, e.Backend)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *BackendUnavailableError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("backend", e.Backend).
		Str("feature", e.Feature).
		Str("type", "BackendUnavailableError")
}

// NewBackendUnavailableError は新しいBackendUnavailableErrorを作成し、スタックトレースを付与します。
func NewBackendUnavailableError(backend, feature string) error {
	return errors.WithStack(&BackendUnavailableError{Backend: backend, Feature: feature})
}
