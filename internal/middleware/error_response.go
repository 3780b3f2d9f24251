package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/newsrec/internal/model"
)

// ErrorResponseBody はエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// ErrCodeServiceUnavailable は依存サービス（DBなど）に接続できないことを示す。
const ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

// WriteServiceUnavailable は依存サービス停止時の統一レスポンスを書き込む。
func WriteServiceUnavailable(w http.ResponseWriter, dependency string) {
	WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  dependency + "に接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、呼び出し側には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
