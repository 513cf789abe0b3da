package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"dxlower/internal/pipeline"
	"dxlower/internal/ui"
)

type lowerOutcome struct {
	results []*pipeline.Result
	err     error
}

func runLowerWithUI(ctx context.Context, title string, files []string, opts pipeline.Options) ([]*pipeline.Result, error) {
	events := make(chan pipeline.Event, 256)
	outcomeCh := make(chan lowerOutcome, 1)

	go func() {
		o := opts
		o.Progress = pipeline.ChannelSink{Ch: events}
		res, err := pipeline.LowerFiles(ctx, files, o)
		outcomeCh <- lowerOutcome{results: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, files, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
