package main

import (
	"fmt"
	"io"
	"time"

	"x2trace/internal/convert"
	"x2trace/internal/observ"
)

var stageVerbs = map[convert.Stage]string{
	convert.StageRead:      "read",
	convert.StageDecode:    "decoded",
	convert.StageSymbolize: "symbolized",
	convert.StageWrite:     "wrote",
}

func printStageTimings(out io.Writer, timings convert.Timings, timer *observ.Timer) {
	if out == nil {
		return
	}
	for _, stage := range convert.Stages {
		if !timings.Has(stage) {
			continue
		}
		if _, err := fmt.Fprintf(out, "%s %.1f ms\n", stageVerbs[stage], toMillis(timings.Duration(stage))); err != nil {
			panic(err)
		}
	}
	if timer != nil {
		if _, err := io.WriteString(out, timer.Summary()); err != nil {
			panic(err)
		}
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
