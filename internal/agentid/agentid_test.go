package agentid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormAndParseRoundTrip(t *testing.T) {
	raw := Form("build-cluster", "build", "prod", "build-agent-3")
	id, ok := Parse(raw)
	assert.True(t, ok)
	assert.Equal(t, ID{Cluster: "build-cluster", Role: "build", Env: "prod", Name: "build-agent-3"}, id)
	assert.Equal(t, raw, id.String())
}

func TestParseRejectsWrongSegmentCount(t *testing.T) {
	_, ok := Parse("cluster/role/env")
	assert.False(t, ok)
}

func TestParseRejectsEmptySegment(t *testing.T) {
	_, ok := Parse("cluster//env/build-agent-0")
	assert.False(t, ok)
}

func TestParseRejectsIllFormedName(t *testing.T) {
	_, ok := Parse("cluster/role/env/not-a-generated-name")
	assert.False(t, ok)
}

func TestMustParsePanicsOnIllFormedID(t *testing.T) {
	assert.Panics(t, func() {
		MustParse("not/well/formed")
	})
}

func TestAgentName(t *testing.T) {
	assert.Equal(t, "build-agent-7", AgentName("build", 7))
}
