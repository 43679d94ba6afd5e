// Package migrations はスキーマ変更SQLをバイナリに埋め込む。
// ファイル名は {version}_{name}.sql とし、1ファイル1ステートメントとする。
// SQLは方言ごとのディレクトリに置き、バージョン番号を揃える。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed mysql/*.sql sqlite/*.sql
var files embed.FS

// For は方言（gorm.Dialector.Name()の値）に対応するマイグレーションを返す。
func For(dialect string) (fs.FS, error) {
	switch dialect {
	case "mysql", "sqlite":
		return fs.Sub(files, dialect)
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}
