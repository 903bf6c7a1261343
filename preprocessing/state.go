package preprocessing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// FeatureSchema は特徴量1列の名前と型
type FeatureSchema struct {
	Name string
	Type dataset.ColumnType
}

// Fingerprint は特徴量の名前・順序・型から作るスキーマの指紋
type Fingerprint struct {
	Features []FeatureSchema
	Hash     string
}

// Equal は2つの指紋が同じスキーマを表すかを返す
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Hash == other.Hash
}

func fingerprintOf(features []FeatureSchema) Fingerprint {
	h := sha256.New()
	for _, f := range features {
		fmt.Fprintf(h, "%s\x1f%s\x1e", f.Name, f.Type)
	}
	return Fingerprint{
		Features: append([]FeatureSchema(nil), features...),
		Hash:     hex.EncodeToString(h.Sum(nil))[:16],
	}
}

// State は訓練パーティションだけから学習した前処理の状態。
// 学習後は変更されず、推論時の生データを学習時と同じ表現へ変換する
type State struct {
	ProblemType dataset.ProblemType
	Target      string
	Features    []FeatureSchema
	Imputer     *Imputer
	Encoder     *OrdinalEncoder
	Scaler      *StandardScaler // スケーリング無効時はnil
	Labels      *LabelEncoder   // 回帰ではnil
}

// FeatureNames は特徴量名を順に返す
func (s *State) FeatureNames() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Fingerprint は学習時のスキーマの指紋を返す
func (s *State) Fingerprint() Fingerprint {
	return fingerprintOf(s.Features)
}

// Classes は分類のクラスラベルを符号順に返す。回帰ではnil
func (s *State) Classes() []string {
	if s.Labels == nil {
		return nil
	}
	return append([]string(nil), s.Labels.Classes...)
}

// CheckSchema はdsが学習時の特徴量をすべて互換な型で持っているかを検証する。
// 数値列として学習した列がカテゴリ列になっている場合は不一致とする
func (s *State) CheckSchema(ds *dataset.Dataset) error {
	var missing, mismatch []string
	got := make([]FeatureSchema, 0, len(s.Features))
	for _, f := range s.Features {
		col, err := ds.Column(f.Name)
		if err != nil {
			missing = append(missing, f.Name)
			continue
		}
		got = append(got, FeatureSchema{Name: f.Name, Type: col.Type})
		if f.Type == dataset.Numeric && col.Type == dataset.Categorical {
			mismatch = append(mismatch, f.Name)
		}
	}
	if len(missing) > 0 || len(mismatch) > 0 {
		return errors.NewSchemaMismatchError(s.Fingerprint().Hash, fingerprintOf(got).Hash, missing, mismatch)
	}
	return nil
}

// Apply はdsの全行を学習時と同じ手順で特徴量行列へ変換する
func (s *State) Apply(ds *dataset.Dataset) (*mat.Dense, error) {
	if err := s.CheckSchema(ds); err != nil {
		return nil, err
	}
	rows := make([]int, ds.NRows())
	for i := range rows {
		rows[i] = i
	}
	return s.transformRows(ds, rows)
}

// encodeRows は補完と符号化だけを行った行列を返す
func (s *State) encodeRows(ds *dataset.Dataset, rows []int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, errors.NewModelError("State.Apply", "empty data", errors.ErrEmptyData)
	}
	X := mat.NewDense(len(rows), len(s.Features), nil)
	for j, f := range s.Features {
		col, err := ds.Column(f.Name)
		if err != nil {
			return nil, err
		}
		fill := FillValue{}
		if s.Imputer != nil {
			fill = s.Imputer.Fill[j]
		}
		for i, r := range rows {
			v, err := s.cell(j, f, col, r, fill)
			if err != nil {
				return nil, err
			}
			X.Set(i, j, v)
		}
	}
	return X, nil
}

func (s *State) cell(j int, f FeatureSchema, col dataset.Column, r int, fill FillValue) (float64, error) {
	if f.Type == dataset.Numeric {
		if col.Type == dataset.Numeric && !col.IsMissing(r) {
			return col.Floats[r], nil
		}
		if !fill.Set {
			return 0, errors.NewValueError("State.Apply", fmt.Sprintf("missing value in numeric column '%s' at row %d and no imputation value was learned", f.Name, r))
		}
		return fill.Float, nil
	}

	if col.IsMissing(r) {
		if !fill.Set {
			return UnseenCategory, nil
		}
		return float64(s.Encoder.Code(j, fill.Str)), nil
	}
	return float64(s.Encoder.Code(j, col.Text(r))), nil
}

// transformRows は補完・符号化・標準化をすべて適用する
func (s *State) transformRows(ds *dataset.Dataset, rows []int) (*mat.Dense, error) {
	X, err := s.encodeRows(ds, rows)
	if err != nil {
		return nil, err
	}
	if s.Scaler == nil {
		return X, nil
	}
	scaled, err := s.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return scaled.(*mat.Dense), nil
}

// EncodeTarget はターゲット列の指定行をモデル用のベクトルにする。
// 分類ではクラス符号、回帰では数値そのもの
func (s *State) EncodeTarget(col dataset.Column, rows []int) (*mat.VecDense, error) {
	y := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		if col.IsMissing(r) {
			return nil, errors.NewValueError("State.EncodeTarget", fmt.Sprintf("missing target at row %d", r))
		}
		if s.Labels == nil {
			if col.Type != dataset.Numeric {
				return nil, errors.NewSchemaError(col.Name, "regression requires a numeric target")
			}
			y.SetVec(i, col.Floats[r])
			continue
		}
		code, err := s.Labels.Encode(col.Text(r))
		if err != nil {
			return nil, err
		}
		y.SetVec(i, float64(code))
	}
	return y, nil
}

// DecodeLabels はクラス符号の予測をラベルへ戻す
func (s *State) DecodeLabels(pred mat.Matrix) ([]string, error) {
	if s.Labels == nil {
		return nil, errors.NewValueError("State.DecodeLabels", "labels are only defined for classification")
	}
	n, _ := pred.Dims()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		label, err := s.Labels.Decode(int(pred.At(i, 0)))
		if err != nil {
			return nil, err
		}
		out[i] = label
	}
	return out, nil
}
