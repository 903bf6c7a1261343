package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// StandardScaler は平均0、標準偏差1への標準化スケーラー
// Columns が指定された場合はその列だけを標準化し、他の列（符号化済みカテゴリ列など）はそのまま通す
type StandardScaler struct {
	State *model.StateManager

	// Mean は各列の平均値（対象外の列は0）
	Mean []float64

	// Scale は各列の標準偏差（母分散、対象外の列は1）
	Scale []float64

	// Columns は標準化する列のインデックス。nilなら全列
	Columns []int
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// パラメータ:
//   - columns: 標準化する列のインデックス（nilで全列）
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(nil)
//	XScaled, err := scaler.FitTransform(X)
func NewStandardScaler(columns []int) *StandardScaler {
	return &StandardScaler{State: model.NewStateManager(), Columns: columns}
}

func (s *StandardScaler) targets(c int) []int {
	if s.Columns != nil {
		return s.Columns
	}
	all := make([]int, c)
	for j := range all {
		all[j] = j
	}
	return all
}

// Fit は訓練データから平均と標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	s.Mean = make([]float64, c)
	s.Scale = make([]float64, c)
	for j := range s.Scale {
		s.Scale[j] = 1.0
	}

	for _, j := range s.targets(c) {
		if j < 0 || j >= c {
			return errors.NewDimensionError("StandardScaler.Fit", c, j+1, 1)
		}
		sum := 0.0
		for i := 0; i < r; i++ {
			sum += X.At(i, j)
		}
		s.Mean[j] = sum / float64(r)

		sumSquares := 0.0
		for i := 0; i < r; i++ {
			diff := X.At(i, j) - s.Mean[j]
			sumSquares += diff * diff
		}
		s.Scale[j] = math.Sqrt(sumSquares / float64(r))
		// 標準偏差が0に近い場合は1に設定（ゼロ除算を避ける）
		if s.Scale[j] < 1e-8 {
			s.Scale[j] = 1.0
		}
	}

	s.State.SetDimensions(c, r)
	s.State.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.State.CheckFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}

	result := mat.DenseCopyOf(X)
	for _, j := range s.targets(c) {
		for i := 0; i < r; i++ {
			result.Set(i, j, (X.At(i, j)-s.Mean[j])/s.Scale[j])
		}
	}
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.State.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.State.CheckFeatures("StandardScaler.InverseTransform", c); err != nil {
		return nil, err
	}

	result := mat.DenseCopyOf(X)
	for _, j := range s.targets(c) {
		for i := 0; i < r; i++ {
			result.Set(i, j, X.At(i, j)*s.Scale[j]+s.Mean[j])
		}
	}
	return result, nil
}
