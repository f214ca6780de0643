package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/flowengine/pkg/dispatch"
	"github.com/lemonberrylabs/flowengine/pkg/events"
	"github.com/lemonberrylabs/flowengine/pkg/flowexec"
	"github.com/lemonberrylabs/flowengine/pkg/flowparser"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <flow-file>",
		Short: "execute a flow document and print its results",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().String("dispatch-url", "", "JSON-RPC endpoint request steps dispatch to; omit to run in mock mode (no methods are registered, so request steps fail with method not found)")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading flow file: %w", err)
	}
	flow, err := flowparser.Parse(source)
	if err != nil {
		return fmt.Errorf("parsing flow document: %w", err)
	}

	dispatchURL, _ := cmd.Flags().GetString("dispatch-url")
	var dispatchFn dispatch.Func
	if dispatchURL != "" {
		dispatchFn = dispatch.NewHTTPClient(dispatchURL).Dispatch
	} else {
		dispatchFn = dispatch.NewMock().Dispatch
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	executor, err := flowexec.New(flow, dispatchFn, logger, events.DefaultOptions())
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("running %s", flow.Name))
	executor.Subscribe(func(ev events.Event) {
		switch ev.Name {
		case events.StepStart:
			spinner.UpdateText(fmt.Sprintf("%s: running", ev.Step))
		case events.StepComplete:
			pterm.Success.Printf("%s completed (%dms)\n", ev.Step, ev.Duration)
		case events.StepError:
			pterm.Error.Printf("%s failed: %v\n", ev.Step, ev.Err)
		case events.StepSkip:
			pterm.Info.Printf("%s skipped: %s\n", ev.Step, ev.Reason)
		case events.StepRetry:
			pterm.Warning.Printf("%s retry %d after %dms: %v\n", ev.Step, ev.Attempt, ev.Delay, ev.Err)
		}
	})

	results, err := executor.Execute(flowexec.ExecuteOptions{})
	if err != nil {
		spinner.Fail(fmt.Sprintf("flow %s failed: %v", flow.Name, err))
		return err
	}
	spinner.Success(fmt.Sprintf("flow %s completed", flow.Name))

	for name, res := range results {
		pterm.Println(pterm.Bold.Sprint(name) + ": " + res.ToValue().String())
	}
	return nil
}
