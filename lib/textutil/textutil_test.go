package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	require.Equal(t, "fecha de inscripcion", NormalizeKey("  Fecha de   Inscripción\n"))
	require.Equal(t, "participantes juridicos", NormalizeKey("Participantes Jurídicos"))
}

func TestMatchKey(t *testing.T) {
	require.True(t, MatchKey("Fecha de Presentación", "presentacion"))
	require.True(t, MatchKey("ACTO", "acto"))
	require.False(t, MatchKey("Rubro", "acto", "presentacion"))
	require.True(t, MatchKey("Participantes\u00a0Naturales", "participantes naturales"))
	require.Equal(t, "participantes juridicos", NormalizeKey(" Participantes\u00a0\u00a0Jurídicos "))
}

func TestClosestMatch(t *testing.T) {
	offices := []string{"LIMA", "AREQUIPA", "CUSCO", "TRUJILLO", "TACNA"}

	best, ok := ClosestMatch("Arequipa", offices, 0.85)
	require.True(t, ok)
	require.Equal(t, "AREQUIPA", best)

	best, ok = ClosestMatch("TRUJILO", offices, 0.85)
	require.True(t, ok)
	require.Equal(t, "TRUJILLO", best)

	_, ok = ClosestMatch("Moquegua", offices, 0.85)
	require.False(t, ok)
}
