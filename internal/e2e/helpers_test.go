package e2e

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"vramd/internal/config"
	"vramd/internal/controller"
	"vramd/internal/httpapi"
	"vramd/internal/supervisor"
	"vramd/internal/vram"
)

// writeScript drops an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// newStack stands up the whole daemon against scripted external pieces:
// the backend binary is a shell script that prints the readiness marker
// and sleeps, the estimation and monitoring tools are scripts emitting
// fixed JSON, and one HTTP test server plays every backend.
func newStack(t *testing.T, idleTimeout string) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q,"echo":%s}`, r.URL.Path, string(b))
	}))
	t.Cleanup(backend.Close)
	port := backend.Listener.Addr().(*net.TCPAddr).Port

	dir := t.TempDir()
	llamaBin := writeScript(t, dir, "llama-server",
		`echo "server is listening on"`+"\nexec sleep 60")
	estimatorBin := writeScript(t, dir, "gguf-parser",
		`echo '{"estimate":{"items":[{"vrams":[{"nonuma":1000000000}]}]}}'`)
	monitorBin := writeScript(t, dir, "rocm-smi",
		`echo '{"card0":{"VRAM Total Memory (B)":"17000000000","VRAM Total Used Memory (B)":"1000000000"}}'`)

	cfgPath := filepath.Join(dir, "vramd.yaml")
	cfgYAML := fmt.Sprintf(`
idle_timeout: %s
llama:
  bin: %q
  start_timeout: 10s
  stop_grace: 2s
tools:
  estimator_bin: %q
  monitor_bin: %q
models:
  alpha:
    file: alpha.gguf
    port: %d
  beta:
    file: beta.gguf
    port: %d
    embeddings: true
`, idleTimeout, llamaBin, estimatorBin, monitorBin, port, port)
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	log := zerolog.Nop()
	sup := supervisor.New(cfg.Llama.StopGrace.Std(), log)
	est := vram.NewEstimator(cfg.Tools.EstimatorBin, cfg.Tools.MonitorBin, cfg.DeviceIndex, nil, log)
	ctl := controller.New(&cfg, sup, est, log)
	t.Cleanup(ctl.Close)

	api := httptest.NewServer(httpapi.NewMux(ctl))
	t.Cleanup(api.Close)
	return api
}
