package model

import (
	"fmt"
	"sort"
	"strings"
)

// Param は1つのハイパーパラメータと候補値。Values[0] がデフォルト値
type Param struct {
	Name   string
	Values []interface{}
}

// ParamGrid は順序付きのハイパーパラメータ候補の一覧
type ParamGrid []Param

// Combinations は全ての組み合わせを決定的な順序で返す。
// 後ろのパラメータほど速く変化する（最後の桁から繰り上がる数え上げ順）
func (g ParamGrid) Combinations() []map[string]interface{} {
	combos := []map[string]interface{}{{}}
	for _, p := range g {
		if len(p.Values) == 0 {
			continue
		}
		next := make([]map[string]interface{}, 0, len(combos)*len(p.Values))
		for _, c := range combos {
			for _, v := range p.Values {
				m := CopyParams(c)
				m[p.Name] = v
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

// Size は組み合わせの数を返す
func (g ParamGrid) Size() int {
	n := 1
	for _, p := range g {
		if len(p.Values) > 0 {
			n *= len(p.Values)
		}
	}
	return n
}

// Defaults は各パラメータの先頭の値を返す
func (g ParamGrid) Defaults() map[string]interface{} {
	out := make(map[string]interface{}, len(g))
	for _, p := range g {
		if len(p.Values) > 0 {
			out[p.Name] = p.Values[0]
		}
	}
	return out
}

// FormatParams はパラメータをキー順の "k=v" 形式で返す。ログ出力用
func FormatParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, ", ")
}
