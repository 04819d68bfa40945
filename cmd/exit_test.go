package cmd

import (
	"errors"
	"testing"

	"github.com/mikaelmello/ringo/core"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		snap core.Snapshot
		err  error
		want int
	}{
		{"all replies", core.Snapshot{Transmitted: 4, Received: 4}, nil, exitOK},
		{"some lost", core.Snapshot{Transmitted: 4, Received: 3}, nil, exitLoss},
		{"all lost", core.Snapshot{Transmitted: 4}, nil, exitLoss},
		{"nothing sent", core.Snapshot{}, nil, exitLoss},
		{"fatal", core.Snapshot{}, errors.New("boom"), exitFatal},
		{"fatal after replies", core.Snapshot{Transmitted: 1, Received: 1}, core.ErrSessionStart, exitFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.snap, tt.err))
		})
	}
}
