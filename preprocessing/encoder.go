package preprocessing

import (
	"sync"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// UnseenCategory は学習時に見なかったカテゴリに割り当てる符号
const UnseenCategory = -1

// OrdinalEncoder はカテゴリ列ごとに category → 整数符号 の対応を保持する。
// 符号は訓練パーティションでの初出順に振られる
type OrdinalEncoder struct {
	Categories map[int][]string // 特徴量インデックス → カテゴリ一覧（インデックスが符号）
	once       sync.Once
	codes      map[int]map[string]int
}

func newOrdinalEncoder() *OrdinalEncoder {
	return &OrdinalEncoder{Categories: make(map[int][]string)}
}

func (e *OrdinalEncoder) fitColumn(j int, values []string) {
	seen := make(map[string]struct{})
	var cats []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		cats = append(cats, v)
	}
	e.Categories[j] = cats
}

// Code は特徴量jの値vの符号を返す。未知のカテゴリはUnseenCategory
func (e *OrdinalEncoder) Code(j int, v string) int {
	e.once.Do(func() {
		e.codes = make(map[int]map[string]int, len(e.Categories))
		for col, cats := range e.Categories {
			m := make(map[string]int, len(cats))
			for code, c := range cats {
				m[c] = code
			}
			e.codes[col] = m
		}
	})
	if code, ok := e.codes[j][v]; ok {
		return code
	}
	return UnseenCategory
}

// LabelEncoder は分類ターゲットのラベルとクラス符号を対応付ける。
// クラス順は訓練ラベルでの初出順で、混同行列の行列順にもなる
type LabelEncoder struct {
	Classes []string
}

func fitLabelEncoder(labels []string) *LabelEncoder {
	enc := &LabelEncoder{}
	seen := make(map[string]struct{})
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		enc.Classes = append(enc.Classes, l)
	}
	return enc
}

// Encode はラベルのクラス符号を返す
func (e *LabelEncoder) Encode(label string) (int, error) {
	for i, c := range e.Classes {
		if c == label {
			return i, nil
		}
	}
	return 0, errors.NewValueError("LabelEncoder.Encode", "label '"+label+"' was not seen during training")
}

// Decode はクラス符号のラベルを返す
func (e *LabelEncoder) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", errors.NewValueError("LabelEncoder.Decode", "class code out of range")
	}
	return e.Classes[code], nil
}

// labelsOf は列の値をラベル文字列として取り出す
func labelsOf(col dataset.Column, rows []int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = col.Text(r)
	}
	return out
}
