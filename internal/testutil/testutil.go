// Package testutil holds helpers shared by tests: mock CLI binaries written
// as bash scripts, canned CLI responses, and polling helpers.
package testutil

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// AllocateTestPort returns a deterministic port based on test name
func AllocateTestPort(t *testing.T) int {
	t.Helper()
	h := fnv.New32a()
	h.Write([]byte(t.Name()))
	return 10000 + int(h.Sum32()%10000)
}

// WaitForHealthy waits for a URL to return 200 OK
func WaitForHealthy(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	Eventually(t, timeout, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})
}

// Eventually retries a condition until it returns true or timeout expires
func Eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Condition did not become true within timeout")
}

// WriteScript writes an executable bash script to a temp dir and returns its path.
func WriteScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	script := "#!/bin/bash\n" + body
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing mock script: %v", err)
	}
	return path
}

// MockCLIScript returns a script body that prints stdout verbatim and exits 0.
func MockCLIScript(stdout string) string {
	return fmt.Sprintf("cat <<'MOCK_EOF'\n%s\nMOCK_EOF\n", stdout)
}

// FlakyCLIScript returns a script body that exits 1 for the first failures
// invocations and prints stdout afterwards. Invocations are counted in
// countFile; see Invocations.
func FlakyCLIScript(countFile string, failures int, stdout string) string {
	return fmt.Sprintf(`n=$(cat %[1]q 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > %[1]q
if [ "$n" -le %[2]d ]; then
  echo "transient failure $n" >&2
  exit 1
fi
%[3]s`, countFile, failures, MockCLIScript(stdout))
}

// RecordArgsScript returns a script body that writes each argument on its
// own line to argsFile, then prints stdout.
func RecordArgsScript(argsFile, stdout string) string {
	return fmt.Sprintf("printf '%%s\\n' \"$@\" > %q\n%s", argsFile, MockCLIScript(stdout))
}

// Invocations reads the counter written by FlakyCLIScript.
func Invocations(t *testing.T, countFile string) int {
	t.Helper()
	data, err := os.ReadFile(countFile)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("reading invocation count: %v", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parsing invocation count: %v", err)
	}
	return n
}

// StructuredResponse returns CLI stdout whose result message carries
// structured_output. structured must be valid JSON.
func StructuredResponse(structured string) string {
	return fmt.Sprintf(`[{"type":"system","subtype":"init","session_id":"test-session"},`+
		`{"type":"result","subtype":"success","session_id":"test-session","total_cost_usd":0.02,`+
		`"usage":{"input_tokens":100,"output_tokens":50},"structured_output":%s}]`, structured)
}

// TextResponse returns CLI stdout whose result message carries only a
// free-text result.
func TextResponse(result string) string {
	quoted, _ := json.Marshal(result)
	return fmt.Sprintf(`[{"type":"result","subtype":"success","session_id":"test-session","total_cost_usd":0.01,`+
		`"usage":{"input_tokens":10,"output_tokens":5},"result":%s}]`, quoted)
}
