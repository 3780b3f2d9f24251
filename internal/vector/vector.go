// Package vector は推薦処理で使う固定長ベクトルの演算を提供する。
// 長さの異なるベクトル同士の比較は部分比較せず、DimensionMismatchErrorを返す。
package vector

import (
	"math"

	"github.com/hitoshi/newsrec/internal/model"
)

// CheckDimension はaとbの長さが一致することを確認する。
func CheckDimension(a, b []float64) error {
	if len(a) != len(b) {
		return &model.DimensionMismatchError{Want: len(a), Got: len(b)}
	}
	return nil
}

// Dot はaとbの内積を返す。
func Dot(a, b []float64) (float64, error) {
	if err := CheckDimension(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// Magnitude はL2ノルムを返す。
func Magnitude(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// IsZero は全要素が0（または空）かを返す。
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Normalize はL2正規化したコピーを返す。
// ノルムが0のベクトルはゼロ除算を避けるためそのままのコピーを返す。
// 入力は変更しない。
func Normalize(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)

	mag := Magnitude(v)
	if mag == 0 {
		return out
	}
	for i := range out {
		out[i] /= mag
	}
	return out
}

// CosineSimilarity はコサイン類似度（1 - コサイン距離）を返す。値域は[-1, 1]。
// どちらかのノルムが0の場合は角度が定義できないため0を返す。
func CosineSimilarity(a, b []float64) (float64, error) {
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	magA, magB := Magnitude(a), Magnitude(b)
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	sim := dot / (magA * magB)
	// 丸め誤差で値域を僅かに超えることがあるため丸める
	return math.Max(-1, math.Min(1, sim)), nil
}

// AddScaled はdst[i] += src[i] * w を適用する。
// 長さが異なる場合はdstを変更せずにエラーを返す。
func AddScaled(dst, src []float64, w float64) error {
	if err := CheckDimension(dst, src); err != nil {
		return err
	}
	for i := range dst {
		dst[i] += src[i] * w
	}
	return nil
}
