package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// checkBinaryLabels はラベルが0か1だけであることを検証する
func checkBinaryLabels(op string, yTrue *mat.VecDense) (nPos, nNeg int, err error) {
	for i := 0; i < yTrue.Len(); i++ {
		switch yTrue.AtVec(i) {
		case 1:
			nPos++
		case 0:
			nNeg++
		default:
			return 0, 0, errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %g at index %d", yTrue.AtVec(i), i))
		}
	}
	return nPos, nNeg, nil
}

// AUC はROC曲線下面積を順位（Mann-Whitney U）から計算する。
// 同点のスコアは平均順位で扱うため、陽性と陰性の同点は0.5として数えられる。
// 片方のクラスしかない場合は定義できないので警告を出して0.5を返す
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	nPos, nNeg, err := checkBinaryLabels("AUC", yTrue)
	if err != nil {
		return 0, err
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("roc_auc", "only one class present in yTrue", 0.5))
		return 0.5, nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return yScore.AtVec(order[a]) < yScore.AtVec(order[b]) })

	// 同点グループに平均順位を割り当てる
	var rankSumPos float64
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(order[j+1]) == yScore.AtVec(order[i]) {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue.AtVec(order[k]) == 1 {
				rankSumPos += avgRank
			}
		}
		i = j + 1
	}

	u := rankSumPos - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg)), nil
}

// AUCMatrix は行列形式の入力に対してAUCを計算する。複数列の場合は先頭列を使う
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	t, s, err := columnVectors("AUCMatrix", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return AUC(t, s)
}

// ROCPoint はROC曲線上の1点
type ROCPoint struct {
	FPR       float64
	TPR       float64
	Threshold float64
}

// ROCCurve はスコアの降順に閾値を下げていったときのROC曲線を返す。
// 先頭は (0, 0)、末尾は (1, 1)
func ROCCurve(yTrue, yScore *mat.VecDense) ([]ROCPoint, error) {
	n, err := checkPair("ROCCurve", yTrue, yScore)
	if err != nil {
		return nil, err
	}
	nPos, nNeg, err := checkBinaryLabels("ROCCurve", yTrue)
	if err != nil {
		return nil, err
	}
	if nPos == 0 || nNeg == 0 {
		return nil, errors.NewValueError("ROCCurve", "both classes must be present in yTrue")
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return yScore.AtVec(order[a]) > yScore.AtVec(order[b]) })

	points := []ROCPoint{{FPR: 0, TPR: 0, Threshold: math.Inf(1)}}
	var tp, fp int
	for i := 0; i < n; {
		threshold := yScore.AtVec(order[i])
		for i < n && yScore.AtVec(order[i]) == threshold {
			if yTrue.AtVec(order[i]) == 1 {
				tp++
			} else {
				fp++
			}
			i++
		}
		points = append(points, ROCPoint{
			FPR:       float64(fp) / float64(nNeg),
			TPR:       float64(tp) / float64(nPos),
			Threshold: threshold,
		})
	}
	return points, nil
}

// OneVsRestAUC は多クラスのAUCを各クラス対その他で計算し、マクロ平均する。
// proba の列jはクラス符号jの確率。yTrueに現れないクラスは平均から除く
func OneVsRestAUC(yTrue *mat.VecDense, proba mat.Matrix) (float64, error) {
	if yTrue == nil || yTrue.Len() == 0 || proba == nil {
		return 0, errors.NewValueError("OneVsRestAUC", "empty input")
	}
	r, c := proba.Dims()
	if r != yTrue.Len() {
		return 0, errors.NewDimensionError("OneVsRestAUC", yTrue.Len(), r, 0)
	}

	var sum float64
	used := 0
	for k := 0; k < c; k++ {
		binary := mat.NewVecDense(r, nil)
		pos := 0
		for i := 0; i < r; i++ {
			if int(yTrue.AtVec(i)) == k {
				binary.SetVec(i, 1)
				pos++
			}
		}
		if pos == 0 || pos == r {
			continue
		}
		auc, err := AUC(binary, columnOf(proba, k))
		if err != nil {
			return 0, err
		}
		sum += auc
		used++
	}
	if used == 0 {
		return 0, errors.NewValueError("OneVsRestAUC", "at least two classes must be present in yTrue")
	}
	return sum / float64(used), nil
}

// BinaryLogLoss は2値分類の交差エントロピーを計算する。
// 予測確率は log(0) を避けるため [1e-15, 1-1e-15] にクリップする
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if _, _, err := checkBinaryLabels("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	const eps = 1e-15
	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yProb.AtVec(i), eps, 1-eps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率 1 - Accuracy を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// ConfusionMatrix は行が正解クラス、列が予測クラスの混同行列を返す
func ConfusionMatrix(yTrue, yPred *mat.VecDense, nClasses int) (*mat.Dense, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if nClasses < 1 {
		return nil, errors.NewValueError("ConfusionMatrix", "nClasses must be positive")
	}

	cm := mat.NewDense(nClasses, nClasses, nil)
	for i := 0; i < n; i++ {
		t, p := int(yTrue.AtVec(i)), int(yPred.AtVec(i))
		if t < 0 || t >= nClasses || p < 0 || p >= nClasses {
			return nil, errors.NewValueError("ConfusionMatrix", fmt.Sprintf("class code out of range at index %d", i))
		}
		cm.Set(t, p, cm.At(t, p)+1)
	}
	return cm, nil
}

// PrecisionRecallF1 は適合率・再現率・F1を計算する。
// 2クラスでは符号1を陽性とした2値の値、3クラス以上ではマクロ平均を返す。
// 分母が0になるクラスの値は0とし、UndefinedMetricWarningを出す
func PrecisionRecallF1(yTrue, yPred *mat.VecDense, nClasses int) (precision, recall, f1 float64, err error) {
	cm, err := ConfusionMatrix(yTrue, yPred, nClasses)
	if err != nil {
		return 0, 0, 0, err
	}

	classes := make([]int, 0, nClasses)
	if nClasses == 2 {
		classes = append(classes, 1)
	} else {
		for k := 0; k < nClasses; k++ {
			classes = append(classes, k)
		}
	}

	for _, k := range classes {
		var tp, predicted, actual float64
		tp = cm.At(k, k)
		for j := 0; j < nClasses; j++ {
			predicted += cm.At(j, k)
			actual += cm.At(k, j)
		}
		p := ratio("precision", tp, predicted, "no predicted samples")
		r := ratio("recall", tp, actual, "no true samples")
		f := 0.0
		if p+r > 0 {
			f = 2 * p * r / (p + r)
		}
		precision += p
		recall += r
		f1 += f
	}
	m := float64(len(classes))
	return precision / m, recall / m, f1 / m, nil
}

func ratio(metric string, num, den float64, condition string) float64 {
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(metric, condition, 0))
		return 0
	}
	return num / den
}

// Precision は適合率を計算する
func Precision(yTrue, yPred *mat.VecDense, nClasses int) (float64, error) {
	p, _, _, err := PrecisionRecallF1(yTrue, yPred, nClasses)
	return p, err
}

// Recall は再現率を計算する
func Recall(yTrue, yPred *mat.VecDense, nClasses int) (float64, error) {
	_, r, _, err := PrecisionRecallF1(yTrue, yPred, nClasses)
	return r, err
}

// F1 はF1スコアを計算する
func F1(yTrue, yPred *mat.VecDense, nClasses int) (float64, error) {
	_, _, f, err := PrecisionRecallF1(yTrue, yPred, nClasses)
	return f, err
}
