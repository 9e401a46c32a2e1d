package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_SpansArePairwiseDisjointAndIncreasing(t *testing.T) {
	data := []byte(`{"frame_id":1,"kind":"observation"}` + "\n" +
		`{"frame_id":2,"kind":"safety_trigger"}` + "\n")

	var spans []Span
	err := Scan(data, func(ev Event, sp Span) error {
		spans = append(spans, sp)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Less(t, spans[0].End, spans[1].Start)
	assert.True(t, spans[0].Start < spans[0].End)
}

func TestScan_SpanReproducesExactLineBytes(t *testing.T) {
	line1 := `{"frame_id":1,"kind":"observation"}`
	line2 := `{"frame_id":2,"kind":"other"}`
	data := []byte(line1 + "\n" + line2 + "\n")

	var got []string
	err := Scan(data, func(ev Event, sp Span) error {
		got = append(got, string(data[sp.Start:sp.End]))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{line1, line2}, got)
}

func TestScan_AllowsMissingTrailingLF(t *testing.T) {
	data := []byte(`{"frame_id":1,"kind":"other"}`)
	count := 0
	err := Scan(data, func(ev Event, sp Span) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScan_EmptyTrailingLineIsIgnored(t *testing.T) {
	data := []byte(`{"frame_id":1,"kind":"other"}` + "\n")
	count := 0
	err := Scan(data, func(ev Event, sp Span) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScan_RejectsTrailingBytesAfterJSON(t *testing.T) {
	data := []byte(`{"frame_id":1} garbage` + "\n")
	err := Scan(data, func(ev Event, sp Span) error { return nil })
	require.Error(t, err)
}

func TestScan_RejectsMalformedJSON(t *testing.T) {
	data := []byte(`{"frame_id":` + "\n")
	err := Scan(data, func(ev Event, sp Span) error { return nil })
	require.Error(t, err)
}

func TestScanner_NextIsRestartable(t *testing.T) {
	data := []byte(`{"frame_id":1}` + "\n" + `{"frame_id":2}` + "\n")
	s := NewScanner(data)

	ev1, _, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev1.FrameID)

	ev2, _, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), ev2.FrameID)

	_, _, ok, err = s.Next()
	require.NoError(t, err)
	assert.False(t, ok)

	// A fresh Scanner over the same bytes starts again at the first line.
	again, _, ok, err := NewScanner(data).Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), again.FrameID)
}

func TestScan_ConcatenationOfSpansReproducesFile(t *testing.T) {
	data := []byte(`{"a":1}` + "\n" + `{"b":2}` + "\n" + `{"c":3}`)
	var spans []Span
	err := Scan(data, func(ev Event, sp Span) error {
		spans = append(spans, sp)
		return nil
	})
	require.NoError(t, err)

	reconstructed := make([]byte, 0, len(data))
	for i, sp := range spans {
		reconstructed = append(reconstructed, data[sp.Start:sp.End]...)
		if i != len(spans)-1 {
			reconstructed = append(reconstructed, '\n')
		}
	}
	assert.Equal(t, data, reconstructed)
}
