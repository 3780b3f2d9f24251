package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsrec/internal/middleware"
)

// healthCheckTimeout はDB疎通確認の最大待ち時間。
const healthCheckTimeout = 2 * time.Second

// Pinger はDB疎通確認のインターフェース。*sql.DB が実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse は /health のレスポンスボディ。
type HealthResponse struct {
	Status     string `json:"status"`
	Database   string `json:"database"`
	Vectorizer string `json:"vectorizer,omitempty"`
}

// HealthHandler は /health エンドポイントのハンドラー。
type HealthHandler struct {
	db           Pinger
	breakerState func() string
	logger       *slog.Logger
}

// NewHealthHandler はHealthHandlerの新しいインスタンスを生成する。
func NewHealthHandler(db Pinger, breakerState func() string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, breakerState: breakerState, logger: logger}
}

// Check はDBへの疎通を確認し、結果をJSONで返す。
// DBに接続できない場合は503を返す。
// ベクトル生成サービスのブレーカー状態は参考情報で、開いていても200を返す
// （推薦と記録はベクトル生成なしでも動作する）。
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("ヘルスチェックでDBに接続できませんでした",
			slog.String("error", err.Error()),
		)
		middleware.WriteServiceUnavailable(w, "データベース")
		return
	}

	resp := HealthResponse{Status: "ok", Database: "ok"}
	if h.breakerState != nil {
		resp.Vectorizer = h.breakerState()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
