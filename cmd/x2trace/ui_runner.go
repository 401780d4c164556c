package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"x2trace/internal/convert"
	"x2trace/internal/ui"
)

type convertOutcome struct {
	result convert.Result
	err    error
}

func runConvertWithUI(ctx context.Context, title string, req *convert.Request) (convert.Result, error) {
	if req == nil {
		return convert.Result{}, fmt.Errorf("missing convert request")
	}
	events := make(chan convert.Event, 256)
	outcomeCh := make(chan convertOutcome, 1)

	go func() {
		reqCopy := *req
		reqCopy.Progress = convert.ChannelSink{Ch: events}
		res, err := convert.Run(ctx, &reqCopy)
		outcomeCh <- convertOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, req.Inputs, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil && outcome.err == nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}
