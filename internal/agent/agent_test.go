package agent

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"
)

func TestTokenRoundTrip(t *testing.T) {
	token, err := MintToken("srv-1", "agent-9", "secret", time.Hour)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	claims, err := ParseToken(token, "secret")
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.ServerID != "srv-1" || claims.AgentID != "agent-9" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "syntra" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := MintToken("srv-1", "", "secret", time.Hour)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if _, err := ParseToken(token, "other-secret"); err == nil {
		t.Fatalf("wrong secret must be rejected")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := MintToken("srv-1", "", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if _, err := ParseToken(token, "secret"); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}

func TestNewCommandStampsEnvelope(t *testing.T) {
	cmd, err := NewCommand(CommandDeploy, DeployPayload{DeploymentID: "dep-1", Image: "img:tag", Name: "syntra-app"})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if cmd.ID == "" || cmd.Type != CommandDeploy {
		t.Fatalf("envelope not stamped: %+v", cmd)
	}
	if _, err := time.Parse(time.RFC3339, cmd.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", cmd.Timestamp)
	}
	var payload DeployPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.DeploymentID != "dep-1" || payload.Image != "img:tag" {
		t.Fatalf("payload mangled: %+v", payload)
	}
}

func TestHTTPDispatcherRelaysThroughAPI(t *testing.T) {
	var gotToken string
	var gotCommand Command
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Internal-Token")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/internal/v1/agents/srv-1/connected":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"connected": true},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/internal/v1/agents/srv-1/commands":
			if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
				t.Errorf("decode relayed command: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"delivered": true},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewHTTPDispatcher(srv.URL+"/", "internal-token", log)

	if !d.IsConnected("srv-1") {
		t.Fatalf("expected connected=true from the API")
	}
	if gotToken != "internal-token" {
		t.Fatalf("internal token not forwarded, got %q", gotToken)
	}

	cmd, err := NewCommand(CommandContainerRestart, RestartPayload{Container: "syntra-app"})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if !d.Send("srv-1", cmd) {
		t.Fatalf("expected delivered=true from the API")
	}
	if gotCommand.Type != CommandContainerRestart {
		t.Fatalf("relayed command mangled: %+v", gotCommand)
	}
}

func TestHTTPDispatcherFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewHTTPDispatcher(srv.URL, "wrong", log)

	if d.IsConnected("srv-1") {
		t.Fatalf("errors must report not connected")
	}
	cmd, err := NewCommand(CommandContainerStop, StopPayload{Container: "syntra-app", Remove: true})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if d.Send("srv-1", cmd) {
		t.Fatalf("errors must report not delivered")
	}
}
