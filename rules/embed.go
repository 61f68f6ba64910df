package rules

import "embed"

//go:embed *.yaml
var embedded embed.FS

// FS returns the embedded filesystem with modpipe's default policy tables.
func FS() embed.FS {
	return embedded
}
