package cmd

import (
	"reflect"
	"strings"
	"testing"
)

func TestRootCmd_Help(t *testing.T) {
	setupCmdTest(t)

	out := mustRun(t, "--help")
	if !strings.Contains(out, "labctl") {
		t.Errorf("expected help output to contain 'labctl', got:\n%s", out)
	}
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	setupCmdTest(t)

	_, err := runCommand(t, "nonexistent-command")
	if err == nil {
		t.Fatal("expected error for unknown command, got nil")
	}
}

func TestRootCmd_SubcommandsList(t *testing.T) {
	setupCmdTest(t)

	out := mustRun(t, "--help")
	for _, name := range []string{"deploy", "uninstall", "status", "list", "render", "version"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected help output to list %q command, got:\n%s", name, out)
		}
	}
}

func TestSplitModuleArgs(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{nil, nil},
		{[]string{"base"}, []string{"base"}},
		{[]string{"base,chat"}, []string{"base", "chat"}},
		{[]string{" base , chat ", "mpi"}, []string{"base", "chat", "mpi"}},
		{[]string{"base,,chat"}, []string{"base", "chat"}},
	}

	for _, tc := range cases {
		got := splitModuleArgs(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitModuleArgs(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRequireTarget(t *testing.T) {
	if err := requireTarget(true, nil); err != nil {
		t.Errorf("--all alone should be accepted, got %v", err)
	}
	if err := requireTarget(false, []string{"base"}); err != nil {
		t.Errorf("--module alone should be accepted, got %v", err)
	}
	if err := requireTarget(false, nil); err == nil {
		t.Error("expected error with no target")
	}
	if err := requireTarget(true, []string{"base"}); err == nil {
		t.Error("expected error with both --all and --module")
	}
}
