package cmd

import (
	"errors"
	"fmt"

	"github.com/jrgochan/labctl/internal/cluster"
	"github.com/jrgochan/labctl/internal/engine"
	"github.com/jrgochan/labctl/internal/health"
	"github.com/jrgochan/labctl/internal/output"
	"github.com/jrgochan/labctl/internal/registry"
	"github.com/jrgochan/labctl/internal/render"
	"github.com/jrgochan/labctl/internal/state"
)

// newEngine builds the deployment engine against the configured cluster.
// Tests swap this out to run against fakes.
var newEngine = buildEngine

func buildEngine() (*engine.Engine, error) {
	client, err := cluster.NewClient(cfg.Cluster.Kubeconfig, cfg.Cluster.Context, logger)
	if err != nil {
		return nil, &output.CLIError{
			Summary:    "failed connecting to the cluster",
			Detail:     err.Error(),
			Suggestion: "Check --kubeconfig and --context, or the cluster section of .labctl.yaml",
			ExitCode:   output.ExitConfigError,
		}
	}
	reg := registry.NewRegistry()
	return engine.New(engine.Params{
		Registry:  reg,
		Renderer:  render.New(reg, cfg.Lab.Namespace, cfg.Lab.Domain),
		Plane:     client,
		Store:     state.NewConfigMapStore(client.Clientset(), cfg.Lab.Namespace, logger),
		Health:    health.NewChecker(client, logger),
		Logger:    logger,
		Namespace: cfg.Lab.Namespace,
	}), nil
}

// cliError maps engine errors onto CLI errors with stable exit codes so
// scripts can branch on what went wrong.
func cliError(err error) error {
	if err == nil {
		return nil
	}
	var merr *engine.ModuleError
	if !errors.As(err, &merr) {
		return err
	}

	cli := &output.CLIError{
		Summary:  merr.Error(),
		ExitCode: output.ExitGeneral,
	}
	if merr.Err != nil {
		cli.Summary = fmt.Sprintf("%s (%s)", kindSummary(merr), merr.Kind)
		cli.Detail = merr.Err.Error()
	}

	switch merr.Kind {
	case engine.KindUnknownModule:
		cli.ExitCode = output.ExitUsageError
		cli.Suggestion = "Run 'labctl list' to see available modules"
	case engine.KindDependencyCycle:
		cli.ExitCode = output.ExitConfigError
		cli.Suggestion = "Run 'labctl list --deps' to inspect module dependencies"
	case engine.KindRenderError:
		cli.ExitCode = output.ExitConfigError
		cli.Suggestion = "Check the --values file and module overrides in .labctl.yaml"
	case engine.KindApplyError:
		cli.ExitCode = output.ExitApplyError
		cli.Suggestion = "Run 'labctl status' to inspect module state"
	case engine.KindHealthTimeout:
		cli.ExitCode = output.ExitTimeout
		cli.Suggestion = fmt.Sprintf("Inspect pods with 'oc -n %s get pods', or retry with a longer --timeout", cfg.Lab.Namespace)
	case engine.KindConflict:
		cli.ExitCode = output.ExitConflict
		cli.Suggestion = "Another operation may be in progress; retry later or use --force"
	case engine.KindRollbackError:
		cli.ExitCode = output.ExitRollback
		cli.Suggestion = fmt.Sprintf("Cluster state needs attention; run 'labctl status' and inspect %s", cfg.Lab.Namespace)
	}
	return cli
}

func kindSummary(merr *engine.ModuleError) string {
	subject := "operation"
	if merr.Module != "" {
		subject = fmt.Sprintf("module %s", merr.Module)
	}
	switch merr.Kind {
	case engine.KindUnknownModule:
		return "unknown module requested"
	case engine.KindDependencyCycle:
		return "module dependencies form a cycle"
	case engine.KindRenderError:
		return fmt.Sprintf("rendering %s failed", subject)
	case engine.KindApplyError:
		return fmt.Sprintf("applying %s failed", subject)
	case engine.KindHealthTimeout:
		return fmt.Sprintf("%s did not become healthy", subject)
	case engine.KindConflict:
		return fmt.Sprintf("%s is in a conflicting state", subject)
	case engine.KindRollbackError:
		return fmt.Sprintf("rollback of %s failed", subject)
	}
	return fmt.Sprintf("%s failed", subject)
}

// printOutcomes renders an operation result as a table.
func printOutcomes(printer *output.Printer, res *engine.Result) {
	table := output.NewQuietTable([]string{"MODULE", "ACTION", "STATUS", "REV", "DETAIL"}, printer.IsQuiet())
	for _, o := range res.Outcomes {
		detail := o.Detail
		if o.Error != "" {
			detail = o.Error
		}
		table.AddRow([]string{
			o.Module,
			string(o.Action),
			printer.StatusBadge(string(o.Status)) + " " + string(o.Status),
			fmt.Sprintf("%d", o.Revision),
			detail,
		})
	}
	table.Render()
}
