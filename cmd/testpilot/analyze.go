package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/testpilot/internal/analyzer"
	"github.com/jordanhubbard/testpilot/internal/render"
)

type analyzeResult struct {
	Summary  analyzer.TestSummary `json:"summary"`
	FileName string               `json:"fileName,omitempty"`
	Code     string               `json:"testCode,omitempty"`
}

func newAnalyzeCommand() *cobra.Command {
	var withCode bool
	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Propose tests for local files without contacting GitHub",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.OutOrStdout(), args, withCode)
		},
	}
	cmd.Flags().BoolVar(&withCode, "render", false, "Include rendered test source for each summary")
	return cmd
}

func runAnalyze(out io.Writer, paths []string, withCode bool) error {
	results := []analyzeResult{}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		for _, s := range analyzer.Analyze(analyzer.File{Path: p, Content: string(data)}) {
			r := analyzeResult{Summary: s}
			if withCode {
				rendered, err := render.Render(s, string(data))
				if err != nil {
					return fmt.Errorf("render %s: %w", s.ID, err)
				}
				r.FileName, r.Code = rendered.FileName, rendered.Code
			}
			results = append(results, r)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
