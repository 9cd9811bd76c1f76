package storage

import "github.com/uptrace/bun"

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// EAModel is one named attribute of a file, keyed by device and inode.
// Unsigned ids are stored bit-for-bit in SQLite's signed integers.
type EAModel struct {
	bun.BaseModel `bun:"table:eas"`

	Dev   int64  `bun:"dev,pk"`
	Ino   int64  `bun:"ino,pk"`
	Name  string `bun:"name,pk"`
	Value []byte `bun:"value,notnull"`
}
