package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadOnlyCommand(t *testing.T) {
	testCases := []struct {
		command string
		want    bool
	}{
		{"ls -la ~/Documents", true},
		{"test -d demo", true},
		{"pgrep -x Calculator", true},
		{"ps aux | grep firefox | head -n 5", true},
		{"find . -name '*.txt'", true},
		{"git status --short", true},
		{"defaults read com.apple.dock", true},
		{"Get-ChildItem C:\\Users | Select-String demo", true},
		{"Test-Path demo", true},

		{"", false},
		{"rm -rf ~/Documents", false},
		{"/bin/ls", false},
		{"./ls", false},
		{"ls; rm -rf ~", false},
		{"ls && rm demo", false},
		{"ls || reboot", false},
		{"echo hi > ~/.bashrc", false},
		{"cat < /etc/passwd", false},
		{"echo $(rm demo)", false},
		{"echo `rm demo`", false},
		{"ls\nrm demo", false},
		{"cat notes | sh", false},
		{"ls |", false},
		{"find . -delete", false},
		{"find . -exec rm {} +", false},
		{"git", false},
		{"git checkout -- .", false},
		{"git diff --output=/tmp/x", false},
		{"defaults write com.apple.dock autohide 1", false},
		{"Get-Content a.txt | Remove-Item", false},
		{"Get-Process | ForEach-Object { $_.Kill() }", false},
		{"(Remove-Item demo)", false},
		{"FOO=1 ls", false},
		{"sudo ls", false},
	}
	for _, tc := range testCases {
		t.Run(tc.command, func(t *testing.T) {
			assert.Equal(t, tc.want, ReadOnlyCommand(tc.command))
		})
	}
}
