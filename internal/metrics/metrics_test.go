package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordOperation("patches", "success")
	m.RecordPatch("fallback")
	m.RecordPatch("fallback")
	m.RecordFiles("created", 3)
	m.RecordFiles("created", 0)
	m.RecordRetry("")
	m.RecordTokens("openai", "gpt", 42)
	m.RecordRevert()
	m.RecordDecision("accept")

	require.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("patches", "success")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Patches.WithLabelValues("fallback")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.Files.WithLabelValues("created")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.UpdateRetries.WithLabelValues("unknown")))
	require.Equal(t, 42.0, testutil.ToFloat64(m.StreamedTokens.WithLabelValues("openai", "gpt")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Reverts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReviewDecisions.WithLabelValues("accept")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation("files", "success")
	m.RecordPatch("strict")
	m.RecordRevert()
	require.NoError(t, m.WriteTextfile("ignored"))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordPatch("strict")
	path := filepath.Join(t.TempDir(), "chatapply.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `chatapply_patches_total{result="strict"} 1`))
}
