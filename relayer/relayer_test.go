package relayer_test

import (
	"errors"
	"testing"

	"github.com/personachain/identity-relayer/relayer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRelayer(id string, reliability float64, chains ...string) relayer.Relayer {
	return relayer.Relayer{
		ID:              id,
		Endpoint:        "http://" + id + ".example:8080",
		SupportedChains: chains,
		Status:          relayer.RelayerActive,
		Fee:             1_000_000,
		Reliability:     reliability,
		AvgResponseTime: 2000,
		SuccessRate:     95,
	}
}

func TestSelectOptimalRelayerPrefersReliability(t *testing.T) {
	rm := relayer.NewRelayerManager(zaptest.NewLogger(t))
	rm.AddRelayer(testRelayer("r-70", 70, "X", "Y"))
	rm.AddRelayer(testRelayer("r-other", 99, "X", "Z"))
	rm.AddRelayer(testRelayer("r-90", 90, "X", "Y"))

	r, err := rm.SelectOptimalRelayer("X", "Y")
	require.NoError(t, err)
	require.Equal(t, "r-90", r.ID)
}

func TestSelectOptimalRelayerEligibility(t *testing.T) {
	tests := []struct {
		name     string
		relayers []relayer.Relayer
		wantID   string
	}{
		{
			name:     "missing destination chain",
			relayers: []relayer.Relayer{testRelayer("a", 99, "X")},
		},
		{
			name:     "missing source chain",
			relayers: []relayer.Relayer{testRelayer("a", 99, "Y")},
		},
		{
			name: "inactive and maintenance skipped",
			relayers: func() []relayer.Relayer {
				a := testRelayer("a", 99, "X", "Y")
				a.Status = relayer.RelayerInactive
				b := testRelayer("b", 99, "X", "Y")
				b.Status = relayer.RelayerMaintenance
				return []relayer.Relayer{a, b}
			}(),
		},
		{
			name: "only active eligible",
			relayers: func() []relayer.Relayer {
				a := testRelayer("a", 99, "X", "Y")
				a.Status = relayer.RelayerInactive
				return []relayer.Relayer{a, testRelayer("b", 10, "Y", "X")}
			}(),
			wantID: "b",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rm := relayer.NewRelayerManager(zaptest.NewLogger(t))
			for _, r := range tt.relayers {
				rm.AddRelayer(r)
			}

			r, err := rm.SelectOptimalRelayer("X", "Y")
			if tt.wantID == "" {
				require.ErrorIs(t, err, relayer.ErrNoEligibleRelayer)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantID, r.ID)
			require.True(t, r.Supports("X", "Y"))
			require.Equal(t, relayer.RelayerActive, r.Status)
		})
	}
}

func TestSelectOptimalRelayerTieBreakIsRegistrationOrder(t *testing.T) {
	rm := relayer.NewRelayerManager(zaptest.NewLogger(t))
	rm.AddRelayer(testRelayer("first", 80, "X", "Y"))
	rm.AddRelayer(testRelayer("second", 80, "X", "Y"))
	rm.AddRelayer(testRelayer("third", 80, "X", "Y"))

	for i := 0; i < 10; i++ {
		r, err := rm.SelectOptimalRelayer("X", "Y")
		require.NoError(t, err)
		require.Equal(t, "first", r.ID)
	}

	// Overwriting keeps the original registration position.
	rm.AddRelayer(testRelayer("first", 80, "X", "Y"))
	r, err := rm.SelectOptimalRelayer("X", "Y")
	require.NoError(t, err)
	require.Equal(t, "first", r.ID)
}

func TestScore(t *testing.T) {
	r := relayer.Relayer{
		Reliability:     90,
		AvgResponseTime: 2000,
		SuccessRate:     80,
		Fee:             5_000_000,
	}
	// 0.4*90 + 0.3*(100-20) + 0.2*80 + 0.1*(100-5)
	require.InDelta(t, 36+24+16+9.5, relayer.Score(r), 1e-9)

	slow := relayer.Relayer{AvgResponseTime: 50_000, Fee: 500_000_000}
	require.InDelta(t, 0, relayer.Score(slow), 1e-9)
}

func TestUpdateRelayerMetrics(t *testing.T) {
	rm := relayer.NewRelayerManager(zaptest.NewLogger(t))
	r := testRelayer("a", 90, "X", "Y")
	r.AvgResponseTime = 1000
	r.SuccessRate = 0
	rm.AddRelayer(r)

	rm.UpdateRelayerMetrics("a", 3000, true)
	got, ok := rm.GetRelayer("a")
	require.True(t, ok)
	require.Equal(t, 2000.0, got.AvgResponseTime)
	require.Equal(t, uint64(1), got.TotalPacketsRelayed)
	require.Equal(t, 100.0, got.SuccessRate)

	rm.UpdateRelayerMetrics("a", 0, false)
	got, _ = rm.GetRelayer("a")
	require.Equal(t, 1000.0, got.AvgResponseTime)
	require.Equal(t, uint64(2), got.TotalPacketsRelayed)
	require.Equal(t, 50.0, got.SuccessRate)

	// Unknown relayers are ignored.
	rm.UpdateRelayerMetrics("missing", 10, true)
	_, ok = rm.GetRelayer("missing")
	require.False(t, ok)
}

func TestSetStatus(t *testing.T) {
	rm := relayer.NewRelayerManager(zaptest.NewLogger(t))
	rm.AddRelayer(testRelayer("a", 90, "X", "Y"))

	require.NoError(t, rm.SetStatus("a", relayer.RelayerMaintenance))
	_, err := rm.SelectOptimalRelayer("X", "Y")
	require.True(t, errors.Is(err, relayer.ErrNoEligibleRelayer))

	require.NoError(t, rm.SetStatus("a", relayer.RelayerActive))
	_, err = rm.SelectOptimalRelayer("X", "Y")
	require.NoError(t, err)

	require.ErrorIs(t, rm.SetStatus("missing", relayer.RelayerActive), relayer.ErrRelayerNotFound)
	require.Error(t, rm.SetStatus("a", "retired"))
	require.Len(t, rm.GetAllRelayers(), 1)
}
