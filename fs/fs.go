package appfs

import "embed"

// FS holds the files shipped within the binary: email templates and the common passwords list.
//
//go:embed templates common-passwords.txt.gz
var FS embed.FS
