package main

import (
	"reflect"
	"testing"
)

type orderedStop struct {
	name string
	log  *[]string
}

func (s orderedStop) Stop() { *s.log = append(*s.log, s.name) }
func (s orderedStop) Wait() { *s.log = append(*s.log, s.name) }

func TestStopPipeline_WriterFlushesBeforeFinalCandlePass(t *testing.T) {
	var log []string

	stopPipeline(
		orderedStop{"dispatcher", &log},
		orderedStop{"writer", &log},
		orderedStop{"aggregator", &log},
	)

	want := []string{"dispatcher", "writer", "aggregator"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("stop order = %v, want %v", log, want)
	}
}
