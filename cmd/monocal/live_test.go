//go:build !gnuplot

package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamletTheHamster/monocal/internal/liveview"
)

func TestLiveWithoutGnuplot(t *testing.T) {
	opts, _ := testOptions(t)

	err := run(context.Background(), opts, []string{"live"})
	require.ErrorIs(t, err, liveview.ErrNoDisplay)

	// The session, and with it the run log, is never opened.
	_, err = os.Stat(opts.cfg.PlotDir)
	assert.True(t, os.IsNotExist(err))
}
