package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/freebox-portal/freebox-server/internal/config"
	"github.com/freebox-portal/freebox-server/internal/core"
	"github.com/freebox-portal/freebox-server/internal/proto"
	"github.com/freebox-portal/freebox-server/internal/store/sqlite"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zerolog.Nop()
	stats := core.NewStatsAggregator(st, nil, time.Now())
	hub := core.NewHub(st, stats, 50, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.StorageDir = t.TempDir()
	cfg.StaticDir = ""
	cfg.PortalHosts = []string{"127.0.0.1"}
	cfg.ReadHeaderTimeout = time.Second

	server := NewServer(hub, stats, st, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func noRedirectClient(ts *httptest.Server) *stdhttp.Client {
	client := ts.Client()
	client.CheckRedirect = func(*stdhttp.Request, []*stdhttp.Request) error {
		return stdhttp.ErrUseLastResponse
	}
	return client
}

func decodeBody(t *testing.T, resp *stdhttp.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "online" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestVisitorCookieSetOnce(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == "freebox_visitor" {
			cookie = c.Value
		}
	}
	if cookie == "" {
		t.Fatal("expected visitor cookie on first request")
	}

	req, _ := stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+"/api/status", nil)
	req.AddCookie(&stdhttp.Cookie{Name: "freebox_visitor", Value: cookie})
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == "freebox_visitor" {
			t.Fatal("cookie should not be reissued to a returning visitor")
		}
	}
}

func TestCaptiveProbeRedirects(t *testing.T) {
	ts := startTestServer(t)
	client := noRedirectClient(ts)

	for _, path := range []string{"/generate_204", "/hotspot-detect.html", "/ncsi.txt"} {
		resp, err := client.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("probe %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != stdhttp.StatusFound {
			t.Fatalf("probe %s: expected 302, got %d", path, resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); loc != "/" {
			t.Fatalf("probe %s: unexpected location %q", path, loc)
		}
	}
}

func TestForeignHostRedirectsToPortal(t *testing.T) {
	ts := startTestServer(t)
	client := noRedirectClient(ts)

	req, _ := stdhttp.NewRequest(stdhttp.MethodGet, ts.URL+"/some/random/page", nil)
	req.Host = "www.example.com"

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
}

func TestUnknownPathOnPortalHost(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/nonexistent")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body ErrorResponse
	decodeBody(t, resp, &body)
	if body.Error != "not found" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func uploadFile(t *testing.T, ts *httptest.Server, name, content string) UploadResponse {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	resp, err := ts.Client().Post(ts.URL+"/api/upload", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("upload failed with %d: %s", resp.StatusCode, body)
	}

	var upload UploadResponse
	decodeBody(t, resp, &upload)
	return upload
}

func TestFileUploadDownloadDelete(t *testing.T) {
	ts := startTestServer(t)

	upload := uploadFile(t, ts, "hello.txt", "hello world")
	if !upload.Success {
		t.Fatal("expected success response")
	}
	if upload.File.Filename != "hello.txt" || upload.File.Size != 11 {
		t.Fatalf("unexpected file summary: %+v", upload.File)
	}

	resp, err := ts.Client().Get(ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	var files []FileSummary
	decodeBody(t, resp, &files)
	if len(files) != 1 || files[0].ID != upload.File.ID {
		t.Fatalf("unexpected file list: %+v", files)
	}

	resp, err = ts.Client().Get(fmt.Sprintf("%s/api/download/%d", ts.URL, upload.File.ID))
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("download failed with %d", resp.StatusCode)
	}
	if string(body) != "hello world" {
		t.Fatalf("unexpected download body: %q", body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "hello.txt") {
		t.Fatalf("unexpected content disposition: %q", cd)
	}

	resp, err = ts.Client().Get(ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	decodeBody(t, resp, &files)
	if files[0].DownloadCount != 1 {
		t.Fatalf("expected download count 1, got %d", files[0].DownloadCount)
	}

	req, _ := stdhttp.NewRequest(stdhttp.MethodDelete, fmt.Sprintf("%s/api/files/%d", ts.URL, upload.File.ID), nil)
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("delete failed with %d", resp.StatusCode)
	}

	resp, err = ts.Client().Get(fmt.Sprintf("%s/api/download/%d", ts.URL, upload.File.ID))
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestDownloadByStoredName(t *testing.T) {
	ts := startTestServer(t)

	upload := uploadFile(t, ts, "notes.txt", "content")

	resp, err := ts.Client().Get(ts.URL + "/api/files")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	var files []FileSummary
	decodeBody(t, resp, &files)
	if len(files) != 1 {
		t.Fatalf("unexpected file list: %+v", files)
	}

	// The stored name differs from the original; fetch it from the database.
	resp, err = ts.Client().Get(fmt.Sprintf("%s/api/download/%d", ts.URL, upload.File.ID))
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "content" {
		t.Fatalf("unexpected body: %q", body)
	}

	resp, err = ts.Client().Get(ts.URL + "/api/download/filename/missing.txt")
	if err != nil {
		t.Fatalf("download request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 for unknown name, got %d", resp.StatusCode)
	}
}

func TestUploadWithoutFilePart(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/api/upload", "multipart/form-data; boundary=x", strings.NewReader("--x--\r\n"))
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChatMessagesFallback(t *testing.T) {
	ts := startTestServer(t)

	post := func(body string) *stdhttp.Response {
		resp, err := ts.Client().Post(ts.URL+"/api/chat/messages", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post message failed: %v", err)
		}
		return resp
	}

	resp := post(`{"username":"alice","message":"hello","room":"main"}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Empty names fall back to defaults.
	resp = post(`{"message":"anon message"}`)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(`{"username":"alice","message":"   "}`)
	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/chat/messages?room=main")
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	var messages []proto.MessagePayload
	decodeBody(t, resp, &messages)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	// Newest first over REST.
	if messages[0].Username != core.AnonymousName || messages[1].Username != "alice" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var snap core.StatsSnapshot
	decodeBody(t, resp, &snap)
	if snap.Timestamp == 0 {
		t.Fatal("expected a timestamp")
	}
	// The visitor middleware counted this very request.
	if snap.TotalVisits != 1 || snap.TotalUniqueVisitors != 1 {
		t.Fatalf("unexpected visit counters: %+v", snap)
	}
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil drains frames until one of the wanted type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()

	for {
		var outbound struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			t.Fatalf("read while waiting for %s: %v", typ, err)
		}
		if outbound.Type == typ {
			return outbound.Data
		}
	}
}

func TestWebSocketJoinAndChat(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	readUntil(t, ctx, connA, proto.OutboundTypeStatsUpdated)

	sendInbound(t, ctx, connA, proto.InboundTypeJoin, proto.JoinData{Room: "main", Username: "alice"})
	readUntil(t, ctx, connA, proto.OutboundTypeChatHistory)

	connB := dialWS(t, ctx, ts)
	sendInbound(t, ctx, connB, proto.InboundTypeJoin, proto.JoinData{Username: "bob"})

	// The room sees bob arrive; bob himself does not.
	var presence proto.PresenceData
	if err := json.Unmarshal(readUntil(t, ctx, connA, proto.OutboundTypeUserJoined), &presence); err != nil {
		t.Fatalf("unmarshal presence: %v", err)
	}
	if presence.Username != "bob" || presence.Room != "main" {
		t.Fatalf("unexpected presence: %+v", presence)
	}

	readUntil(t, ctx, connB, proto.OutboundTypeChatHistory)

	var count proto.UserCountData
	if err := json.Unmarshal(readUntil(t, ctx, connB, proto.OutboundTypeUserCount), &count); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if count.Count != 2 {
		t.Fatalf("expected 2 members, got %d", count.Count)
	}

	sendInbound(t, ctx, connA, proto.InboundTypeChatMessage, proto.ChatMessageData{
		Room:     "main",
		Username: "alice",
		Message:  "hi there",
	})

	for _, conn := range []*websocket.Conn{connA, connB} {
		var msg proto.MessagePayload
		if err := json.Unmarshal(readUntil(t, ctx, conn, proto.OutboundTypeChatMessage), &msg); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		if msg.Username != "alice" || msg.Message != "hi there" || msg.Room != "main" {
			t.Fatalf("unexpected message payload: %+v", msg)
		}
	}
}

func TestWebSocketHistoryForLateJoiner(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts)
	sendInbound(t, ctx, connA, proto.InboundTypeJoin, proto.JoinData{Room: "main", Username: "alice"})
	readUntil(t, ctx, connA, proto.OutboundTypeChatHistory)

	sendInbound(t, ctx, connA, proto.InboundTypeChatMessage, proto.ChatMessageData{Room: "main", Username: "alice", Message: "first"})
	sendInbound(t, ctx, connA, proto.InboundTypeChatMessage, proto.ChatMessageData{Room: "main", Username: "alice", Message: "second"})
	readUntil(t, ctx, connA, proto.OutboundTypeChatMessage)
	readUntil(t, ctx, connA, proto.OutboundTypeChatMessage)

	connB := dialWS(t, ctx, ts)
	sendInbound(t, ctx, connB, proto.InboundTypeJoin, proto.JoinData{Room: "main", Username: "bob"})

	var history []proto.MessagePayload
	if err := json.Unmarshal(readUntil(t, ctx, connB, proto.OutboundTypeChatHistory), &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	// Oldest first, ready to render.
	if history[0].Message != "first" || history[1].Message != "second" {
		t.Fatalf("unexpected history order: %+v", history)
	}
}

func TestWebSocketStatsRequest(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	readUntil(t, ctx, conn, proto.OutboundTypeStatsUpdated)

	sendInbound(t, ctx, conn, proto.InboundTypeRequestStats, struct{}{})

	var snap core.StatsSnapshot
	if err := json.Unmarshal(readUntil(t, ctx, conn, proto.OutboundTypeStatsUpdated), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Timestamp == 0 {
		t.Fatal("expected a timestamp")
	}
}

func TestWebSocketFileListNotification(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	readUntil(t, ctx, conn, proto.OutboundTypeStatsUpdated)

	uploadFile(t, ts, "shared.txt", "data")

	readUntil(t, ctx, conn, proto.OutboundTypeFileListUpdated)
}

func TestWebSocketMalformedFrameIgnored(t *testing.T) {
	ts := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts)
	readUntil(t, ctx, conn, proto.OutboundTypeStatsUpdated)

	// A chat_message with unparseable data must not kill the connection.
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeChatMessage, Data: json.RawMessage(`"oops"`)}); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: "bogus_type"}); err != nil {
		t.Fatalf("write unknown frame: %v", err)
	}

	sendInbound(t, ctx, conn, proto.InboundTypeJoin, proto.JoinData{Room: "main", Username: "alice"})
	readUntil(t, ctx, conn, proto.OutboundTypeChatHistory)
}
