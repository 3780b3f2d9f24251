package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hitoshi/newsrec/internal/article"
	"github.com/hitoshi/newsrec/internal/model"
	"github.com/hitoshi/newsrec/internal/recommend"
)

// ArticleLine は推薦系コマンドが1行ずつ出力する記事。
type ArticleLine struct {
	Rank      int       `json:"rank"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Labels    []string  `json:"labels"`
	Views     int64     `json:"views"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source,omitempty"`
}

// EventLine は record コマンドの出力。
type EventLine struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ArticleID string `json:"article_id"`
	SessionID string `json:"session_id"`
	Clicked   bool   `json:"clicked"`
	TimeSpent int64  `json:"time_spent"`
}

// ImportLine は import-articles が読み込む1行分の記事。
type ImportLine struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	Labels labelList `json:"labels"`
}

// labelList はラベルの配列、またはカンマ区切りの文字列を受け付ける。
type labelList []string

// UnmarshalJSON は json.Unmarshaler を実装する。
func (l *labelList) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*l = model.ParseLabels(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("labels must be an array or a comma separated string: %w", err)
	}
	*l = list
	return nil
}

// writeArticles は記事を順位順にJSON Linesで出力する。
func writeArticles(w io.Writer, source recommend.HomeSource, articles []model.Article) error {
	enc := json.NewEncoder(w)
	for i, a := range articles {
		labels := a.Labels
		if labels == nil {
			labels = []string{}
		}
		line := ArticleLine{
			Rank:      i + 1,
			ID:        a.ID,
			Title:     a.Title,
			Labels:    labels,
			Views:     a.Views,
			CreatedAt: a.CreatedAt,
			Source:    string(source),
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to write article: %w", err)
		}
	}
	return nil
}

// writeEvent はイベントをJSONで出力する。
func writeEvent(w io.Writer, event *model.InteractionEvent) error {
	return json.NewEncoder(w).Encode(EventLine{
		ID:        event.ID,
		UserID:    event.UserID,
		ArticleID: event.ArticleID,
		SessionID: event.SessionID,
		Clicked:   event.Clicked,
		TimeSpent: event.TimeSpent,
	})
}

// articleSaver は記事の保存インターフェース。article.Service が実装する。
type articleSaver interface {
	Save(ctx context.Context, input article.SaveInput) (*model.Article, error)
}

// importStats は取り込み結果の件数。
type importStats struct {
	Saved   int
	Skipped int
}

// importArticles はJSON Linesの記事を順に保存し、保存した記事IDを出力する。
// 内容が不正な行（APIError）は警告ログを出してスキップする。
// JSONとして読めない行、またはストレージのエラーで中断する。
func importArticles(ctx context.Context, in io.Reader, out io.Writer, saver articleSaver, logger *slog.Logger) (importStats, error) {
	var stats importStats
	dec := json.NewDecoder(in)

	for line := 1; dec.More(); line++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var rec ImportLine
		if err := dec.Decode(&rec); err != nil {
			return stats, fmt.Errorf("failed to decode article at line %d: %w", line, err)
		}

		saved, err := saver.Save(ctx, article.SaveInput{
			ID:     rec.ID,
			Title:  rec.Title,
			Text:   rec.Text,
			Labels: rec.Labels,
		})
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			logger.Warn("不正な記事をスキップしました",
				slog.Int("line", line),
				slog.String("article_id", rec.ID),
				slog.String("code", apiErr.Code),
			)
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("failed to save article at line %d: %w", line, err)
		}

		fmt.Fprintln(out, saved.ID)
		stats.Saved++
	}
	return stats, nil
}
