// Package model はドメインモデルを定義する。
package model

import "time"

// InteractionEvent はユーザーの記事閲覧イベントを表す。
// (UserID, ArticleID, SessionID) の組で一意。同じ組への再送は既存イベントを更新する。
type InteractionEvent struct {
	ID        string
	UserID    string
	ArticleID string
	SessionID string
	Clicked   bool
	TimeSpent int64 // 閲覧秒数
	CreatedAt time.Time
	UpdatedAt time.Time
}
