package verifier

import (
	"strings"
)

// shellMeta are constructs that chain, redirect or substitute commands.
// Pipes are allowed and each stage is checked on its own.
var shellMeta = []string{";", "&", ">", "<", "`", "$(", "(", ")", "{", "}", "\n", "\r"}

// readOnlyPrograms lists the programs a verification command may run.
// Unix tools first, then PowerShell cmdlets and Windows utilities.
var readOnlyPrograms = map[string]struct{}{
	"ls": {}, "dir": {}, "cat": {}, "head": {}, "tail": {}, "wc": {},
	"grep": {}, "egrep": {}, "fgrep": {}, "test": {}, "[": {}, "stat": {},
	"du": {}, "df": {}, "pwd": {}, "whoami": {}, "id": {}, "uname": {},
	"which": {}, "whereis": {}, "type": {}, "ps": {}, "pgrep": {}, "pidof": {},
	"lsof": {}, "echo": {}, "printf": {}, "basename": {}, "dirname": {},
	"realpath": {}, "readlink": {}, "md5sum": {}, "sha256sum": {}, "mdfind": {},
	"find": {}, "git": {}, "defaults": {},

	"get-childitem": {}, "gci": {}, "get-content": {}, "gc": {}, "get-item": {},
	"gi": {}, "get-itemproperty": {}, "test-path": {}, "get-location": {},
	"get-process": {}, "gps": {}, "get-service": {}, "select-string": {},
	"sls": {}, "get-date": {}, "resolve-path": {}, "get-filehash": {},
	"get-command": {}, "gcm": {}, "get-ciminstance": {}, "measure-object": {},
	"select-object": {}, "format-list": {}, "format-table": {}, "out-string": {},
	"tasklist": {}, "tasklist.exe": {}, "where.exe": {},
}

var (
	// findActions are find primaries that run programs or write files.
	findActions = map[string]struct{}{
		"-delete": {}, "-exec": {}, "-execdir": {}, "-ok": {}, "-okdir": {},
		"-fprint": {}, "-fprint0": {}, "-fprintf": {}, "-fls": {},
	}
	gitReadOnly      = map[string]struct{}{"status": {}, "log": {}, "diff": {}, "show": {}, "ls-files": {}, "rev-parse": {}}
	defaultsReadOnly = map[string]struct{}{"read": {}, "read-type": {}}
)

// ReadOnlyCommand reports whether command only inspects the system. Every
// pipeline stage must start with an allowed program named without a path,
// and no stage may chain, redirect or substitute.
func ReadOnlyCommand(command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	for _, m := range shellMeta {
		if strings.Contains(command, m) {
			return false
		}
	}
	for _, stage := range strings.Split(command, "|") {
		if !readOnlyStage(strings.Fields(stage)) {
			return false
		}
	}
	return true
}

func readOnlyStage(args []string) bool {
	if len(args) == 0 {
		return false
	}
	prog := strings.ToLower(args[0])
	if strings.ContainsAny(prog, `/\`) {
		return false
	}
	if _, ok := readOnlyPrograms[prog]; !ok {
		return false
	}
	switch prog {
	case "find":
		for _, a := range args[1:] {
			if _, bad := findActions[strings.ToLower(a)]; bad {
				return false
			}
		}
	case "git":
		if len(args) < 2 {
			return false
		}
		if _, ok := gitReadOnly[args[1]]; !ok {
			return false
		}
		for _, a := range args[2:] {
			if strings.HasPrefix(a, "--output") {
				return false
			}
		}
	case "defaults":
		if len(args) < 2 {
			return false
		}
		if _, ok := defaultsReadOnly[args[1]]; !ok {
			return false
		}
	}
	return true
}
