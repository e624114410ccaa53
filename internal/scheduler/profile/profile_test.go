package profile

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func TestValidateAgentProfileValid(t *testing.T) {
	p := AgentProfile{Tag: "build", CPU: "1.0", RAM: "1024", Disk: "1024"}
	assert.Empty(t, ValidateAgentProfile(p, parseFloat))
}

func TestValidateAgentProfileBadTag(t *testing.T) {
	p := AgentProfile{Tag: "Build1", CPU: "1.0", RAM: "1024", Disk: "1024"}
	errs := ValidateAgentProfile(p, parseFloat)
	assert.Len(t, errs, 1)
	assert.Equal(t, "tag", errs[0].Key)
}

func TestValidateAgentProfileOutOfRange(t *testing.T) {
	p := AgentProfile{Tag: "build", CPU: "64", RAM: "10", Disk: "10"}
	assert.Len(t, ValidateAgentProfile(p, parseFloat), 3)
}

func TestValidateAgentProfileBlankResourcesSkipped(t *testing.T) {
	p := AgentProfile{Tag: "build"}
	assert.Empty(t, ValidateAgentProfile(p, parseFloat))
}

func TestValidateClusterProfileRequiredFields(t *testing.T) {
	assert.Len(t, ValidateClusterProfile(ClusterProfile{}), 4)
}
