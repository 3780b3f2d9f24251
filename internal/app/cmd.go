package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/hitoshi/newsrec/internal/interaction"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker はワーカーモード（ベクトル生成バックフィル、
	// インタラクションのクリーンアップ、運用HTTPサーバー）で起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandRecommend はユーザー向けの推薦記事を出力することを示す。
	CommandRecommend Command = "recommend"
	// CommandRelated は記事の関連記事を出力することを示す。
	CommandRelated Command = "related"
	// CommandHome はホーム画面の記事一覧を出力することを示す。
	CommandHome Command = "home"
	// CommandRecord は閲覧インタラクションを1件記録することを示す。
	CommandRecord Command = "record"
	// CommandImportArticles は標準入力のJSON Linesから記事を取り込むことを示す。
	CommandImportArticles Command = "import-articles"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWorker
	}

	switch Command(args[0]) {
	case CommandWorker, CommandMigrate, CommandRecommend, CommandRelated,
		CommandHome, CommandRecord, CommandImportArticles, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandWorker
	}
}

// migrate サブコマンドの操作
const (
	migrateUp     = "up"
	migrateDown   = "down"
	migrateStatus = "status"
)

// migrateArgs は migrate サブコマンドの引数。
type migrateArgs struct {
	action string
	steps  int
}

// parseMigrateArgs は "migrate [up|down [N]|status]" の引数を解析する。
// 操作の省略時は up、down のステップ数の省略時は1とする。
func parseMigrateArgs(args []string) (migrateArgs, error) {
	if len(args) == 0 {
		return migrateArgs{action: migrateUp}, nil
	}

	switch args[0] {
	case migrateUp, migrateStatus:
		return migrateArgs{action: args[0]}, nil
	case migrateDown:
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return migrateArgs{}, fmt.Errorf("invalid rollback steps: %q", args[1])
			}
			steps = n
		}
		return migrateArgs{action: migrateDown, steps: steps}, nil
	default:
		return migrateArgs{}, fmt.Errorf("unknown migrate action: %q", args[0])
	}
}

// queryArgs は推薦系サブコマンドの引数。
type queryArgs struct {
	id string
	k  int
}

// parseQueryArgs は "<name> [-k N] <id>" の引数を解析する。
// idRequiredがfalseの場合はidを省略できる（home の未ログイン扱い）。
func parseQueryArgs(name string, args []string, defaultK int, idRequired bool) (queryArgs, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	k := fs.Int("k", defaultK, "number of articles")
	if err := fs.Parse(args); err != nil {
		return queryArgs{}, fmt.Errorf("%s: %w", name, err)
	}

	var id string
	if fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" && idRequired {
		return queryArgs{}, fmt.Errorf("%s: id is required", name)
	}
	return queryArgs{id: id, k: *k}, nil
}

// parseRecordArgs は record サブコマンドの引数を解析する。
//
//	record -user U -article A -session S [-time SECONDS] [-final]
func parseRecordArgs(args []string) (interaction.RecordInput, error) {
	fs := flag.NewFlagSet(string(CommandRecord), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "user id")
	articleID := fs.String("article", "", "article id")
	sessionID := fs.String("session", "", "session id")
	timeSpent := fs.Int64("time", 0, "time spent in seconds")
	final := fs.Bool("final", false, "final update of the session")
	if err := fs.Parse(args); err != nil {
		return interaction.RecordInput{}, fmt.Errorf("record: %w", err)
	}
	if *userID == "" || *articleID == "" || *sessionID == "" {
		return interaction.RecordInput{}, errors.New("record: -user, -article and -session are required")
	}

	return interaction.RecordInput{
		UserID:      *userID,
		ArticleID:   *articleID,
		SessionID:   *sessionID,
		TimeSpent:   *timeSpent,
		FinalUpdate: *final,
	}, nil
}
