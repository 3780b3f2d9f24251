// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 推薦エンジンのエラー分類。
// ベクトル・プロファイルの欠如は呼び出し側で縮退結果に変換し、
// 次元不一致とストレージの競合は明示的な失敗として返す。
var (
	// ErrVectorUnavailable は記事またはプロファイルのベクトルが未生成であることを示す。
	ErrVectorUnavailable = errors.New("vector unavailable")
	// ErrProfileNotFound はユーザーのプロファイルが存在しないことを示す。
	ErrProfileNotFound = errors.New("profile not found")
	// ErrDimensionMismatch は比較対象のベクトル長が異なることを示す（データ不整合）。
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrConcurrentUpdateConflict はストレージ層の排他更新が完了できなかったことを示す。
	ErrConcurrentUpdateConflict = errors.New("concurrent update conflict")
	// ErrArticleNotFound は記事が存在しないことを示す。
	ErrArticleNotFound = errors.New("article not found")
)

// DimensionMismatchError はベクトル次元の不一致を表す。
// errors.Is(err, ErrDimensionMismatch) で判定できる。
type DimensionMismatchError struct {
	Want int
	Got  int
}

// Error はerrorインターフェースを実装する。
func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Unwrap はErrDimensionMismatchを返す。
func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// APIError は呼び出し側に返す統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, article, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeArticleNotFound     = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidInteraction  = "INVALID_INTERACTION"
	ErrCodeInvalidArticle      = "INVALID_ARTICLE"
	ErrCodeInvalidCount        = "INVALID_COUNT"
	ErrCodeInteractionConflict = "INTERACTION_CONFLICT"
)

// NewArticleNotFoundError は記事未検出エラーを生成する。
// errors.Is(err, ErrArticleNotFound) でも判定できるようにする。
func NewArticleNotFoundError(articleID string) error {
	return fmt.Errorf("%w: %w", &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "article",
		Action:   "記事IDを確認してください。",
	}, ErrArticleNotFound)
}

// NewInvalidInteractionError はインタラクション入力の検証エラーを生成する。
func NewInvalidInteractionError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInteraction,
		Message:  fmt.Sprintf("無効なインタラクションです: %s", reason),
		Category: "validation",
		Action:   "ユーザーID、記事ID、セッションID、閲覧時間（0以上）を指定してください。",
	}
}

// NewInvalidArticleError は記事入力の検証エラーを生成する。
func NewInvalidArticleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArticle,
		Message:  fmt.Sprintf("無効な記事です: %s", reason),
		Category: "validation",
		Action:   "タイトルと本文を指定してください。",
	}
}

// NewInvalidCountError は推薦件数の検証エラーを生成する。
func NewInvalidCountError(k int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCount,
		Message:  fmt.Sprintf("無効な推薦件数です: %d", k),
		Category: "validation",
		Action:   "推薦件数には1以上を指定してください。",
	}
}

// NewInteractionConflictError は競合による再試行上限到達エラーを生成する。
// 一時的なエラーのため、呼び出し側は時間をおいて再送できる。
func NewInteractionConflictError(attempts int, cause error) error {
	return fmt.Errorf("%w: %w", &APIError{
		Code:     ErrCodeInteractionConflict,
		Message:  fmt.Sprintf("同時更新の競合により記録できませんでした（%d回試行）", attempts),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}, cause)
}
