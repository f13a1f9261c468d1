package scenario

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListTemplatesReturnsCatalog(t *testing.T) {
	list := ListTemplates()
	require.Len(t, list, 3)
	require.Equal(t, "basic-charge", list[0].ID)
}

func TestBuildTemplateInstantiatesForConnector(t *testing.T) {
	def, err := BuildTemplate("basic-charge", 2)
	require.NoError(t, err)
	require.Equal(t, TargetConnector, def.TargetType)
	require.Equal(t, 2, def.TargetID)
	require.Contains(t, def.Nodes, def.StartNodeID)
}

func TestBuildTemplateUnknownID(t *testing.T) {
	_, err := BuildTemplate("does-not-exist", 1)
	require.Error(t, err)
}

func TestRampMeterTemplateEndsWithFullDelta(t *testing.T) {
	def, err := BuildTemplate("ramp-meter", 1)
	require.NoError(t, err)

	last := def.Nodes["bump-10"]
	require.Equal(t, 1000, last.Action.Params["value"])
	require.Equal(t, "report-10", last.Next)
	require.Equal(t, "stop", def.Nodes["report-10"].Next)
}
