package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/flowengine/pkg/depresolver"
	"github.com/lemonberrylabs/flowengine/pkg/flowparser"
)

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <flow-file>",
		Short: "print a flow's dependency graph as a Mermaid diagram, without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runGraph,
	}
}

func runGraph(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading flow file: %w", err)
	}
	flow, err := flowparser.Parse(source)
	if err != nil {
		return fmt.Errorf("parsing flow document: %w", err)
	}
	graph, err := depresolver.Build(flow)
	if err != nil {
		return fmt.Errorf("building dependency graph: %w", err)
	}
	fmt.Println(graph.GetMermaidDiagram())
	return nil
}
