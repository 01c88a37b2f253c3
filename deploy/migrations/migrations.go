package migrations

import "embed"

// Files 暴露对话记录表的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
