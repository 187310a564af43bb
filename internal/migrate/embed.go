package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

// Migrations returns the schema migrations compiled into the binary.
func Migrations() fs.FS {
	sub, _ := fs.Sub(embedded, "sql")
	return sub
}

// Seeds returns the demo seed files compiled into the binary.
func Seeds() fs.FS {
	sub, _ := fs.Sub(embedded, "seeds")
	return sub
}
