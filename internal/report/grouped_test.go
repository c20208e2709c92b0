package report

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalcybersoft/mussh/internal/executor"
)

func TestGroupOutcomes_Identical(t *testing.T) {
	r := dispatch(t, []string{"host-c", "host-a", "host-b"}, map[string]reply{
		"host-a": {stdout: "hello\n"},
		"host-b": {stdout: "hello\n"},
		"host-c": {stdout: "hello\n"},
	})

	g := GroupOutcomes(r.Outcomes())
	require.Len(t, g.Groups, 1)
	assert.True(t, g.Groups[0].IsNorm)
	assert.Equal(t, []string{"host-c", "host-a", "host-b"}, g.Groups[0].Hosts, "hosts keep host-list order")
	assert.Empty(t, g.Incomplete)
}

func TestGroupOutcomes_NormIsLargest(t *testing.T) {
	r := dispatch(t, []string{"a", "b", "c", "d"}, map[string]reply{
		"a": {stdout: "Debian 11\n"},
		"b": {stdout: "Debian 12\n"},
		"c": {stdout: "Debian 12\n"},
		"d": {stdout: "Debian 12\n"},
	})

	g := GroupOutcomes(r.Outcomes())
	require.Len(t, g.Groups, 2)
	assert.Equal(t, []string{"b", "c", "d"}, g.Groups[0].Hosts)
	assert.True(t, g.Groups[0].IsNorm)
	assert.Empty(t, g.Groups[0].Diff)

	assert.Equal(t, []string{"a"}, g.Groups[1].Hosts)
	assert.Contains(t, g.Groups[1].Diff, "-Debian 12")
	assert.Contains(t, g.Groups[1].Diff, "+Debian 11")
}

func TestGroupOutcomes_ExitStatusSplitsGroups(t *testing.T) {
	r := dispatch(t, []string{"a", "b"}, map[string]reply{
		"a": {stdout: "same\n"},
		"b": {stdout: "same\n", code: 1},
	})

	g := GroupOutcomes(r.Outcomes())
	require.Len(t, g.Groups, 2)
	assert.Equal(t, 0, g.Groups[0].ExitStatus)
	assert.Equal(t, 1, g.Groups[1].ExitStatus)
}

func TestGroupOutcomes_Incomplete(t *testing.T) {
	r := dispatch(t, []string{"a", "b"}, map[string]reply{
		"b": {err: errors.New("refused")},
	})

	g := GroupOutcomes(r.Outcomes())
	require.Len(t, g.Groups, 1)
	require.Len(t, g.Incomplete, 1)
	assert.Equal(t, "b", g.Incomplete[0].Host)
	assert.Equal(t, executor.ConnectionFailed, g.Incomplete[0].Class)
}

func TestGroupOutcomes_ListsByGroupNotHostOrder(t *testing.T) {
	r := dispatch(t, []string{"down", "a", "b", "c", "d", "e"}, map[string]reply{
		"down": {err: errors.New("refused")},
		"a":    {stdout: "v1\n"},
		"b":    {stdout: "v2\n"},
		"c":    {stdout: "v2\n"},
		"d":    {stdout: "v1\n"},
		"e":    {stdout: "v2\n"},
	})

	g := GroupOutcomes(r.Outcomes())
	var listed []string
	for _, grp := range g.Groups {
		listed = append(listed, grp.Hosts...)
	}
	for _, o := range g.Incomplete {
		listed = append(listed, o.Host)
	}
	assert.Equal(t, []string{"b", "c", "e", "a", "d", "down"}, listed)
}

func TestGroupOutcomes_NothingCompleted(t *testing.T) {
	r := dispatch(t, []string{"a"}, map[string]reply{"a": {err: errors.New("refused")}})

	g := GroupOutcomes(r.Outcomes())
	assert.Empty(t, g.Groups)
	assert.Len(t, g.Incomplete, 1)
}

func TestRenderGrouped(t *testing.T) {
	r := dispatch(t, []string{"host-a", "host-b", "host-c", "host-d", "host-e"}, map[string]reply{
		"host-a": {stdout: "Debian 12\n"},
		"host-b": {stdout: "Debian 12\n"},
		"host-c": {stdout: "Debian 11\n"},
		"host-d": {stdout: "oops\n", code: 2},
		"host-e": {err: errors.New("connection refused")},
	})

	out := render(t, &Formatter{Mode: ModeGrouped}, r)

	assert.Contains(t, out, " 2 hosts identical:\n   host-a, host-b\n   Debian 12\n")
	assert.Contains(t, out, " 1 host differs:\n   host-c\n")
	assert.Contains(t, out, "   -Debian 12\n")
	assert.Contains(t, out, "   +Debian 11\n")
	assert.Contains(t, out, " 1 host exited with code 2:\n   host-d\n")
	assert.Contains(t, out, " connection failed:\n   host-e (connection refused)\n")
	assert.Contains(t, out, "3 succeeded, 1 non-zero exit, 1 failed")
}

func TestRenderGroupedSingleHost(t *testing.T) {
	r := dispatch(t, []string{"solo"}, map[string]reply{"solo": {stdout: "hi\n"}})

	out := render(t, &Formatter{Mode: ModeGrouped}, r)
	assert.Contains(t, out, " 1 host:\n   solo\n   hi\n")
	assert.NotContains(t, out, "identical")
}
