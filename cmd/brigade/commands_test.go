package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonathan/brigade/internal/llm"
	"github.com/jonathan/brigade/internal/llm/llmtest"
	"github.com/jonathan/brigade/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coachingInput = "I sell a $2k coaching program to burned-out founders"

var replies = map[types.Role]string{
	types.RoleExtractor:          `{"content":"Founders, burnout","summary":"Evidence mapped","structuredData":{"headers":["Fact","Source"],"rows":[["Audience: founders","input"]]}}`,
	types.RoleProfiler:           `{"content":"Ambition versus exhaustion","summary":"Status under threat","structuredData":{"q1":{"label":"Ego","items":["Identity"]},"q2":{"label":"Risk","items":["Burnout"]},"q3":{"label":"Validation","items":["Peers"]},"q4":{"label":"Relief","items":["Rest"]}}}`,
	types.RoleCopywriter:         `{"content":"# Hooks\n- Let it carry you.","summary":"Earned rest"}`,
	types.RoleArchitect:          `{"content":"Program","summary":"Three phases","structuredData":{"ingredients":["1:1"],"steps":["Audit","Delegate"]}}`,
	types.RoleCompetitorAnalyzer: `{"content":"Alternatives","summary":"Therapy","structuredData":{"headers":["Alternative","Weakness"],"rows":[["Therapy","Not business-aware"]]}}`,
	types.RoleJudge:              `{"content":"Synthesis","summary":"Ready","structuredData":{"overallScore":2,"metrics":[{"label":"Clarity","score":7,"advice":"Sharpen the hook"}]}}`,
}

func marker(role types.Role) string {
	return "Role: " + string(role) + "\n"
}

// useStub routes backend calls to a scripted client for the rest of the test
func useStub(t *testing.T) *llmtest.Stub {
	t.Helper()
	stub := llmtest.NewStub()
	for role, text := range replies {
		stub.On(marker(role), llmtest.Reply{Text: text})
	}

	original := newLLMClient
	newLLMClient = func(context.Context, *llm.Config, string) (llm.Client, error) {
		return stub, nil
	}
	t.Cleanup(func() { newLLMClient = original })
	return stub
}

// isolateEnv clears the environment the config layer reads
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "BRIGADE_PROVIDER", "BRIGADE_STORE",
		"BRIGADE_DATA_DIR", "DATABASE_URL", "LOG_FILE", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_LEVEL", "error")
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command in-process and returns its stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runJSONSession(t *testing.T, dir string, extra ...string) types.Session {
	t.Helper()
	args := append([]string{"run", "--data-dir", dir, "--api-key", "test", "--json", "-i", coachingInput, "-o", "12 weeks"}, extra...)
	out, err := execute(t, args...)
	require.NoError(t, err)

	var s types.Session
	require.NoError(t, json.Unmarshal([]byte(out), &s), out)
	return s
}

func TestRunCommand_MissingInput(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "run", "--data-dir", t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "either --input or --input-file must be provided")
}

func TestRunCommand_MissingAPIKey(t *testing.T) {
	isolateEnv(t)
	useStub(t)

	_, err := execute(t, "run", "--data-dir", t.TempDir(), "-i", coachingInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY environment variable or --api-key flag is required")

	_, err = execute(t, "run", "--data-dir", t.TempDir(), "--provider", "openai", "-i", coachingInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestRunCommand_APIKeyFromProviderEnv(t *testing.T) {
	isolateEnv(t)
	useStub(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := execute(t, "run", "--data-dir", t.TempDir(), "--provider", "openai", "-i", coachingInput)

	assert.NoError(t, err)
}

func TestRunCommand_InputAndFileExclusive(t *testing.T) {
	isolateEnv(t)

	_, err := execute(t, "run", "-i", "x", "-f", "input.txt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestRunCommand_Completes(t *testing.T) {
	isolateEnv(t)
	stub := useStub(t)
	dir := t.TempDir()

	s := runJSONSession(t, dir)

	assert.Equal(t, types.SessionCompleted, s.Status)
	require.NotNil(t, s.Score)
	assert.Equal(t, 2, *s.Score)
	assert.Len(t, s.Artifacts, 5)
	assert.Len(t, stub.Calls(), 5)
	assert.FileExists(t, filepath.Join(dir, "brigade_sessions_v2.json"))
}

func TestRunCommand_PrintsSummary(t *testing.T) {
	isolateEnv(t)
	useStub(t)

	out, err := execute(t, "run", "--data-dir", t.TempDir(), "--api-key", "test", "-v", "-i", coachingInput)

	require.NoError(t, err)
	assert.Contains(t, out, "Status:   completed")
	assert.Contains(t, out, "Score:    2/3")
	assert.Contains(t, out, "Extractor")
	assert.Contains(t, out, "Pipeline started")
}

func TestRunCommand_InputFileAndExport(t *testing.T) {
	isolateEnv(t)
	useStub(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "idea.txt")
	require.NoError(t, os.WriteFile(input, []byte(coachingInput), 0644))
	dossier := filepath.Join(dir, "dossier.md")

	out, err := execute(t, "run", "--data-dir", dir, "--api-key", "test", "-f", input, "--export", dossier)

	require.NoError(t, err)
	assert.Contains(t, out, "Dossier written to "+dossier)
	data, err := os.ReadFile(dossier)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Score: 2/3")
}

func TestRunCommand_Competitor(t *testing.T) {
	isolateEnv(t)
	useStub(t)

	s := runJSONSession(t, t.TempDir(), "--competitor")

	require.Len(t, s.Artifacts, 6)
	assert.Equal(t, types.RoleCompetitorAnalyzer, s.Artifacts[2].Role)
}

func TestRunCommand_SQLiteStore(t *testing.T) {
	isolateEnv(t)
	useStub(t)
	dir := t.TempDir()

	s := runJSONSession(t, dir, "--store", "sqlite")

	out, err := execute(t, "sessions", "list", "--store", "sqlite", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, s.ID)
	assert.FileExists(t, filepath.Join(dir, "brigade.db"))
}

func TestRunCommand_FailureIsStored(t *testing.T) {
	isolateEnv(t)
	stub := useStub(t)
	stub.On(marker(types.RoleProfiler), llmtest.Reply{Err: errors.New("quota exceeded")})
	dir := t.TempDir()

	_, err := execute(t, "run", "--data-dir", dir, "--api-key", "test", "-i", coachingInput)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not complete")
	assert.Contains(t, err.Error(), "Profiler")

	out, err := execute(t, "sessions", "list", "--data-dir", dir, "--json")
	require.NoError(t, err)
	var list []types.Session
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, types.SessionRunning, list[0].Status)
	assert.NotEmpty(t, list[0].Error)
	assert.Empty(t, stub.CallsMatching(marker(types.RoleJudge)))
}

func TestSessionsCommands(t *testing.T) {
	isolateEnv(t)
	useStub(t)
	dir := t.TempDir()
	s := runJSONSession(t, dir)

	out, err := execute(t, "sessions", "list", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, s.ID)
	assert.Contains(t, out, "2/3")

	out, err = execute(t, "sessions", "list", "--data-dir", dir, "--status", "running")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions.")

	out, err = execute(t, "sessions", "show", s.ID, "--data-dir", dir, "--logs")
	require.NoError(t, err)
	assert.Contains(t, out, "generation 1")
	assert.Contains(t, out, "Dossier ready")

	out, err = execute(t, "sessions", "delete", s.ID, "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted session "+s.ID)

	_, err = execute(t, "sessions", "show", s.ID, "--data-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestExportCommand(t *testing.T) {
	isolateEnv(t)
	useStub(t)
	dir := t.TempDir()
	s := runJSONSession(t, dir)

	out, err := execute(t, "export", s.ID, "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Score: 2/3")

	outDir := t.TempDir()
	out, err = execute(t, "export", s.ID, "--data-dir", dir, "--out", outDir)
	require.NoError(t, err)
	matches, err := filepath.Glob(filepath.Join(outDir, "dossier-*.md"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, out, matches[0])
}

func TestExportCommand_NotCompleted(t *testing.T) {
	isolateEnv(t)
	stub := useStub(t)
	stub.On(marker(types.RoleJudge), llmtest.Reply{Err: errors.New("quota exceeded")})
	dir := t.TempDir()

	_, err := execute(t, "run", "--data-dir", dir, "--api-key", "test", "-i", coachingInput)
	require.Error(t, err)
	out, err := execute(t, "sessions", "list", "--data-dir", dir, "--json")
	require.NoError(t, err)
	var list []types.Session
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)

	_, err = execute(t, "export", list[0].ID, "--data-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not completed")
}

func TestRerunCommand(t *testing.T) {
	isolateEnv(t)
	useStub(t)
	dir := t.TempDir()
	s := runJSONSession(t, dir)

	out, err := execute(t, "rerun", s.ID, "--data-dir", dir, "--api-key", "test", "--json")
	require.NoError(t, err)

	var rerun types.Session
	require.NoError(t, json.Unmarshal([]byte(out), &rerun))
	assert.Equal(t, s.ID, rerun.ID)
	assert.Equal(t, 2, rerun.Generation)
	assert.Equal(t, types.SessionCompleted, rerun.Status)
	assert.Len(t, rerun.Artifacts, 5)

	_, err = execute(t, "rerun", "missing", "--data-dir", dir, "--api-key", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestConfigFile(t *testing.T) {
	isolateEnv(t)
	useStub(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "brigade.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("api_key: from-file\ncompetitor_analysis: true\ndata_dir: "+dir+"\n"), 0644))

	out, err := execute(t, "run", "--config", cfgPath, "--json", "-i", coachingInput)
	require.NoError(t, err)
	var s types.Session
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Len(t, s.Artifacts, 6)

	// flags win over the file
	out, err = execute(t, "run", "--config", cfgPath, "--competitor=false", "--json", "-i", coachingInput)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Len(t, s.Artifacts, 5)
}

func TestConfigFile_Invalid(t *testing.T) {
	isolateEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "brigade.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"store":"mongo"}`), 0644))

	_, err := execute(t, "sessions", "list", "--config", cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config error")
}
