package shell

import "strings"

// shellQuote wraps s in single quotes, escaping any embedded single quote as
// '\'' so the result is always safe to place inside a single-quoted shell
// argument. It quotes file paths, cwd overrides and setEnv values; the
// command text itself never passes through the script, only through the
// cmd_* file on disk.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
