package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStringSliceScalarAndList(t *testing.T) {
	assert.Equal(t, []string{"echo hi"}, toStringSlice("echo hi"))
	assert.Equal(t, []string{"a", "b"}, toStringSlice([]interface{}{"a", "b"}))
	assert.Nil(t, toStringSlice(nil))
}

func TestNormalizeImageTagDefaultsToLatest(t *testing.T) {
	assert.Equal(t, "alpine:latest", normalizeImageTag("alpine"))
	assert.Equal(t, "alpine:3.18", normalizeImageTag("alpine:3.18"))
	assert.Equal(t, "registry.example.com/group/img:latest", normalizeImageTag("registry.example.com/group/img"))
}

func TestRefSlug(t *testing.T) {
	assert.Equal(t, "feature-my-branch", refSlug("feature/My_Branch"))
	assert.LessOrEqual(t, len(refSlug(string(make([]byte, 200)))), 63)
}

func TestCamelCase(t *testing.T) {
	assert.Equal(t, "myProjectName", camelCase("my-project-name"))
}

func TestFirstDuplicate(t *testing.T) {
	assert.Equal(t, "test", firstDuplicate([]string{"build", "test", "test"}))
	assert.Equal(t, "", firstDuplicate([]string{"build", "test"}))
}

func TestResolveExtendsMergesBaseBeforeDerived(t *testing.T) {
	jobs := map[string]*rawJob{
		".base": {Stage: "build", Script: []interface{}{"echo base"}},
		"job1": {
			Extends: ".base",
			Script:  []interface{}{"echo derived"},
		},
	}
	resolved, err := resolveExtends(jobs)
	require.NoError(t, err)
	assert.Equal(t, "build", resolved["job1"].Stage)
	assert.Equal(t, []interface{}{"echo derived"}, resolved["job1"].Script)
}

func TestResolveExtendsListMergeOrderLaterWins(t *testing.T) {
	jobs := map[string]*rawJob{
		".a": {Stage: "build"},
		".b": {Stage: "test"},
		"job1": {
			Extends: []interface{}{".a", ".b"},
		},
	}
	resolved, err := resolveExtends(jobs)
	require.NoError(t, err)
	assert.Equal(t, "test", resolved["job1"].Stage)
}

func TestResolveExtendsCycleDetected(t *testing.T) {
	jobs := map[string]*rawJob{
		".a": {Extends: ".b"},
		".b": {Extends: ".a"},
	}
	_, err := resolveExtends(jobs)
	require.Error(t, err)
}

func TestResolveExtendsUnknownBase(t *testing.T) {
	jobs := map[string]*rawJob{
		"job1": {Extends: ".missing"},
	}
	_, err := resolveExtends(jobs)
	require.Error(t, err)
}

func TestValidateJobInvariantsInteractiveRequiresManual(t *testing.T) {
	j := &Job{Name: "job1", Interactive: true, When: "on_success"}
	err := validateJobInvariants(j)
	require.Error(t, err)
}

func TestValidateJobInvariantsInteractiveForbidsImage(t *testing.T) {
	j := &Job{Name: "job1", Interactive: true, When: "manual", Image: &Image{Name: "alpine"}}
	err := validateJobInvariants(j)
	require.Error(t, err)
}

func TestValidateJobInvariantsSSHAgentRequiresImage(t *testing.T) {
	j := &Job{Name: "job1", InjectSSHAgent: true}
	err := validateJobInvariants(j)
	require.Error(t, err)
}

func TestValidateNeedsMissingTarget(t *testing.T) {
	cfg := &Config{Jobs: map[string]*Job{
		"test-job": {Name: "test-job", HasNeeds: true, Needs: []string{"invalid"}},
	}}
	err := validateNeeds(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[ invalid ] jobs are needed by test-job, but they cannot be found")
}

func TestParseIncludeValueVariants(t *testing.T) {
	specs, err := parseIncludeValue("local.yml")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, includeLocal, specs[0].kind)

	specs, err = parseIncludeValue(map[string]interface{}{"remote": "https://example.com/x.yml"})
	require.NoError(t, err)
	assert.Equal(t, includeRemote, specs[0].kind)

	specs, err = parseIncludeValue(map[string]interface{}{
		"project": "group/project", "ref": "main", "file": []interface{}{"a.yml", "b.yml"},
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, includeProject, specs[0].kind)
}
