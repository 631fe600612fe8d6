package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anything-indexer/anything/internal/config"
	"github.com/anything-indexer/anything/internal/dbpool"
	"github.com/anything-indexer/anything/internal/httpapi"
	"github.com/anything-indexer/anything/internal/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	pool := dbpool.New()
	reg := registry.New(pool, registry.Options{ExcludedPatterns: []string{}})
	t.Cleanup(func() { reg.Close() })

	cfg := config.Config{BaseDir: t.TempDir(), ListenAddr: "unused"}
	server := httpapi.NewServer(reg, cfg)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, "alice"
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	return body
}

func TestCORSHeadersPresentOnEveryResponse(t *testing.T) {
	ts, uid := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/scan_obj/"+uid, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp2, err := http.Get(ts.URL + "/api/scan_obj/" + uid)
	require.NoError(t, err)
	assert.Equal(t, "*", resp2.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp2.Header.Get("X-Request-Id"))
	decodeEnvelope(t, resp2)
}

func TestAddListAndDeleteScanObj(t *testing.T) {
	ts, uid := newTestServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	body, _ := json.Marshal(map[string]string{"directory_path": dir, "description": "my docs"})
	resp, err := http.Post(ts.URL+"/api/scan_obj/"+uid, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	addEnvelope := decodeEnvelope(t, resp)
	require.Equal(t, "ok", addEnvelope["result"])

	scanObj := addEnvelope["scan_obj"].(map[string]any)
	id := scanObj["id"].(float64)

	listResp, err := http.Get(ts.URL + "/api/scan_obj/" + uid)
	require.NoError(t, err)
	listEnvelope := decodeEnvelope(t, listResp)
	assert.Equal(t, float64(1), listEnvelope["count"])

	idStr := strconv.FormatInt(int64(id), 10)
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/scan_obj/"+uid+"/"+idStr, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delEnvelope := decodeEnvelope(t, delResp)
	assert.Equal(t, "ok", delEnvelope["result"])

	afterResp, err := http.Get(ts.URL + "/api/scan_obj/" + uid)
	require.NoError(t, err)
	afterEnvelope := decodeEnvelope(t, afterResp)
	assert.Equal(t, float64(0), afterEnvelope["count"])
}

func TestAddScanObjMissingDirectoryPathFails(t *testing.T) {
	ts, uid := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"description": "no path"})
	resp, err := http.Post(ts.URL+"/api/scan_obj/"+uid, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	envelope := decodeEnvelope(t, resp)
	assert.Equal(t, "error", envelope["result"])
}

// Invariant 7: after POST /api/audit/events {path, DELETE} for a
// previously indexed path, a following GET /filedb/.../basename omits it.
func TestAuditEventDeleteThenSearchOmitsPath(t *testing.T) {
	ts, uid := newTestServer(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	addBody, _ := json.Marshal(map[string]string{"directory_path": dir})
	addResp, err := http.Post(ts.URL+"/api/scan_obj/"+uid, "application/json", bytes.NewReader(addBody))
	require.NoError(t, err)
	decodeEnvelope(t, addResp)

	searchResp, err := http.Get(ts.URL + "/api/filedb/" + uid + "/report")
	require.NoError(t, err)
	searchEnvelope := decodeEnvelope(t, searchResp)
	assert.Equal(t, float64(1), searchEnvelope["count"])

	auditBody, _ := json.Marshal(map[string]string{"path": target, "type": "DELETE"})
	auditResp, err := http.Post(ts.URL+"/api/audit/events", "application/json", bytes.NewReader(auditBody))
	require.NoError(t, err)
	auditEnvelope := decodeEnvelope(t, auditResp)
	require.Equal(t, "ok", auditEnvelope["result"])

	afterResp, err := http.Get(ts.URL + "/api/filedb/" + uid + "/report")
	require.NoError(t, err)
	afterEnvelope := decodeEnvelope(t, afterResp)
	assert.Equal(t, float64(0), afterEnvelope["count"])
}

func TestAuditEventRejectsUnknownType(t *testing.T) {
	ts, uid := newTestServer(t)
	_ = uid

	body, _ := json.Marshal(map[string]string{"path": "/tmp/x", "type": "BOGUS"})
	resp, err := http.Post(ts.URL+"/api/audit/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	envelope := decodeEnvelope(t, resp)
	assert.Equal(t, "error", envelope["result"])
}
