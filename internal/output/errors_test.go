package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestCLIError_Error(t *testing.T) {
	err := &CLIError{
		Summary:    "deploy failed for module llamacpp",
		Detail:     "health check timed out",
		Suggestion: "increase --timeout",
		ExitCode:   ExitTimeout,
	}

	if err.Error() != "deploy failed for module llamacpp" {
		t.Errorf("Error() = %q, want summary", err.Error())
	}
}

func TestFormatError_AllFields(t *testing.T) {
	var stderr bytes.Buffer
	p := NewPrinterWithOptions(PrinterOptions{ColorMode: ColorNever})
	p.err = &stderr

	p.FormatError(&CLIError{
		Summary:    "unknown module: foo",
		Detail:     "module 'foo' is not registered",
		Suggestion: "Run 'labctl list' to see available modules",
		ExitCode:   ExitUsageError,
	})

	out := stderr.String()
	for _, want := range []string{
		"unknown module: foo",
		"module 'foo' is not registered",
		"Run 'labctl list' to see available modules",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output: %q", want, out)
		}
	}
}

func TestFormatError_NoDetail(t *testing.T) {
	var stderr bytes.Buffer
	p := NewPrinterWithOptions(PrinterOptions{ColorMode: ColorNever})
	p.err = &stderr

	p.FormatError(&CLIError{
		Summary:    "config file not found",
		Suggestion: "Check .labctl.yaml syntax or use --config flag",
		ExitCode:   ExitConfigError,
	})

	out := stderr.String()
	if !strings.Contains(out, "config file not found") {
		t.Errorf("missing summary in output: %q", out)
	}
	if strings.Contains(out, "Cause:") {
		t.Errorf("should not contain Cause line when Detail is empty: %q", out)
	}
}

func TestExitCodes(t *testing.T) {
	codes := map[string]struct{ got, want int }{
		"success":  {ExitSuccess, 0},
		"general":  {ExitGeneral, 1},
		"usage":    {ExitUsageError, 2},
		"apply":    {ExitApplyError, 3},
		"config":   {ExitConfigError, 4},
		"timeout":  {ExitTimeout, 5},
		"conflict": {ExitConflict, 6},
		"rollback": {ExitRollback, 7},
	}
	for name, c := range codes {
		if c.got != c.want {
			t.Errorf("exit code %s = %d, want %d", name, c.got, c.want)
		}
	}
}
