// Package e2e_test drives the built httpmockd binary as a subprocess and
// exercises it through testscript scripts covering spec.md §8's S1, S2, S3
// and S6 scenarios, grounded on the teacher's tests/e2e/cli_test.go (build-once,
// spawn-as-subprocess, testscript.Run over testdata/*.txt). Each script
// starts its own server instance (`startserver`) so scripts that run as
// parallel subtests never share mutable mock/rule/history state.
package e2e_test

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rogpeppe/go-internal/testscript"
)

var (
	binaryPath string
	buildOnce  sync.Once
	buildErr   error
)

func buildBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		binaryPath = filepath.Join(os.TempDir(), "httpmockd_testscript_bin")
		buildCmd := exec.Command("go", "build", "-o", binaryPath, "../../cmd/httpmockd")
		if out, err := buildCmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("build httpmockd: %w\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return binaryPath
}

// fataler is satisfied by both *testing.T and *testscript.TestScript.
type fataler interface {
	Fatalf(format string, args ...interface{})
}

func getFreePort(t fataler) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("get free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForHealth(t fataler, url string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server at %s never became healthy", url)
}

func TestHTTPMockdE2E(t *testing.T) {
	bin := buildBinary(t)

	// A single read-only upstream, safe to share across parallel scripts:
	// it only echoes the request it receives.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "upstream saw %s", r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	testscript.Run(t, testscript.Params{
		Dir: "testdata",
		Setup: func(env *testscript.Env) error {
			env.Setenv("HTTPMOCKD_BIN", bin)
			env.Setenv("UPSTREAM_URL", upstream.URL)
			return nil
		},
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"startserver": startServerCmd,
			"httpreq":     httpreqCmd,
		},
	})
}

// startServerCmd launches a fresh httpmockd instance for the current
// script, sets $BASE_URL once it reports healthy, and registers a deferred
// shutdown so the process dies when the script finishes.
func startServerCmd(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! startserver")
	}
	bin := ts.Getenv("HTTPMOCKD_BIN")
	port := getFreePort(ts)

	cmdArgs := append([]string{"--port", strconv.Itoa(port), "--history-limit", "5"}, args...)
	cmd := exec.Command(bin, cmdArgs...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ts.Fatalf("start httpmockd: %v", err)
	}
	ts.Defer(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	baseURL := "http://127.0.0.1:" + strconv.Itoa(port)
	waitForHealth(ts, baseURL+"/__httpmock__/health")
	ts.Setenv("BASE_URL", baseURL)
}

// httpreqCmd implements the `httpreq METHOD PATH WANT_STATUS [WANT_BODY|-] [REQUEST_BODY]`
// script directive: it issues one request against $BASE_URL and fails the
// script unless the response status (and, if given, body) match.
func httpreqCmd(ts *testscript.TestScript, neg bool, args []string) {
	if len(args) < 3 {
		ts.Fatalf("usage: httpreq METHOD PATH WANT_STATUS [WANT_BODY] [REQUEST_BODY]")
	}
	method, path, wantStatus := args[0], args[1], args[2]
	var wantBody string
	hasWantBody := len(args) > 3 && args[3] != "-"
	if hasWantBody {
		wantBody = args[3]
	}
	var reqBody io.Reader
	if len(args) > 4 {
		reqBody = strings.NewReader(args[4])
	}

	base := ts.Getenv("BASE_URL")
	req, err := http.NewRequest(method, base+path, reqBody)
	if err != nil {
		ts.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		ts.Fatalf("read body: %v", err)
	}

	got := strconv.Itoa(resp.StatusCode)
	matched := got == wantStatus && (!hasWantBody || string(out) == wantBody)
	if matched == neg {
		ts.Fatalf("httpreq %s %s: status=%s body=%q, want status=%s body=%q (neg=%v)",
			method, path, got, out, wantStatus, wantBody, neg)
	}
}

func TestMain(m *testing.M) {
	defer func() {
		if binaryPath != "" {
			os.Remove(binaryPath)
		}
	}()
	os.Exit(testscript.RunMain(m, map[string]func() int{}))
}
