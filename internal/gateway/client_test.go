package gateway

import (
	"context"
	jsonstd "encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(srv *httptest.Server) *Client {
	return New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})
}

func TestCreateInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instance/create" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "test-key" {
			t.Errorf("missing apikey header")
		}
		var body map[string]interface{}
		raw, _ := io.ReadAll(r.Body)
		_ = jsonstd.Unmarshal(raw, &body)
		if body["instanceName"] != "line-42" {
			t.Errorf("instanceName = %v", body["instanceName"])
		}
		if body["integration"] != "WHATSAPP-BAILEYS" {
			t.Errorf("integration = %v", body["integration"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"line-42","instanceId":"abc-123"},"qrcode":{"base64":"data:image/png;base64,xxx"}}`))
	}))
	defer srv.Close()

	res, err := testClient(srv).CreateInstance(context.Background(), "line-42")
	if err != nil {
		t.Fatal(err)
	}
	if res.InstanceID != "abc-123" {
		t.Errorf("InstanceID = %s", res.InstanceID)
	}
	if res.AlreadyExists {
		t.Error("AlreadyExists should be false")
	}
	if res.Qr == nil || res.Qr["base64"] == "" {
		t.Errorf("Qr = %v", res.Qr)
	}
}

func TestCreateInstanceAlreadyExists(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
	}{
		{"forbidden", http.StatusForbidden, `{"error":"Forbidden"}`},
		{"error text", http.StatusBadRequest, `{"message":"This name \"line-42\" already exists"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			res, err := testClient(srv).CreateInstance(context.Background(), "line-42")
			if err != nil {
				t.Fatal(err)
			}
			if !res.AlreadyExists {
				t.Error("expected AlreadyExists")
			}
			if res.InstanceID != "line-42" {
				t.Errorf("InstanceID = %s", res.InstanceID)
			}
		})
	}
}

func TestCreateInstanceHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	if _, err := testClient(srv).CreateInstance(context.Background(), "line-42"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestConnectionState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instance/connectionState/line-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"line-42","state":"open"}}`))
	}))
	defer srv.Close()

	state, err := testClient(srv).ConnectionState(context.Background(), "line-42")
	if err != nil {
		t.Fatal(err)
	}
	if state != "open" {
		t.Errorf("state = %s", state)
	}
}

func TestOwnerJidShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"v2 array", `[{"instanceName":"line-42","ownerJid":"5511999@s.whatsapp.net"}]`, "5511999@s.whatsapp.net"},
		{"nested instance", `[{"instance":{"instanceName":"line-42","ownerJid":"5511888@s.whatsapp.net"}}]`, "5511888@s.whatsapp.net"},
		{"legacy owner field", `{"instanceName":"line-42","owner":"5511777@s.whatsapp.net"}`, "5511777@s.whatsapp.net"},
		{"not paired yet", `[{"instanceName":"line-42"}]`, ""},
		{"picks matching instance", `[{"instanceName":"other","ownerJid":"x@s.whatsapp.net"},{"instanceName":"line-42","ownerJid":"y@s.whatsapp.net"}]`, "y@s.whatsapp.net"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("instanceName") != "line-42" {
					t.Errorf("instanceName query = %s", r.URL.Query().Get("instanceName"))
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			jid, err := testClient(srv).OwnerJid(context.Background(), "line-42")
			if err != nil {
				t.Fatal(err)
			}
			if jid != tc.want {
				t.Errorf("jid = %q, want %q", jid, tc.want)
			}
		})
	}
}

func TestFindContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/findContacts/line-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"111@s.whatsapp.net","pushName":"Alice"},{"id":"222@s.whatsapp.net"},{"name":"no jid"}]`))
	}))
	defer srv.Close()

	contacts, err := testClient(srv).FindContacts(context.Background(), "line-42")
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len = %d", len(contacts))
	}
	if contacts[0].Name != "Alice" {
		t.Errorf("name = %s", contacts[0].Name)
	}
	if contacts[1].Name != "222@s.whatsapp.net" {
		t.Errorf("fallback name = %s", contacts[1].Name)
	}
}

func TestFindMessagesWrappedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = jsonstd.Unmarshal(raw, &body)
		where, _ := body["where"].(map[string]interface{})
		key, _ := where["key"].(map[string]interface{})
		if key["remoteJid"] != "111@s.whatsapp.net" {
			t.Errorf("remoteJid = %v", key["remoteJid"])
		}
		_, _ = w.Write([]byte(`{"messages":{"records":[
			{"key":{"id":"MSG1","remoteJid":"111@s.whatsapp.net","fromMe":false},"messageTimestamp":1700000000,"messageType":"conversation","message":{"conversation":"oi"}},
			{"key":{"remoteJid":"111@s.whatsapp.net"},"messageTimestamp":1700000001}
		]}}`))
	}))
	defer srv.Close()

	records, err := testClient(srv).FindMessages(context.Background(), "line-42", "111@s.whatsapp.net", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("len = %d, records without an id must be skipped", len(records))
	}
	rec := records[0]
	if rec.ID != "MSG1" || rec.FromMe || rec.Timestamp != 1700000000 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Message["conversation"] != "oi" {
		t.Errorf("message payload = %v", rec.Message)
	}
}

func TestSetWebhookFallbackChain(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = jsonstd.Unmarshal(raw, &body)
		_, nested := body["webhook"]
		calls = append(calls, r.URL.Path)
		// reject the nested shape on /webhook/set, accept the flat one
		if r.URL.Path == "/webhook/set/line-42" && nested {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad payload"}`))
			return
		}
		_, _ = w.Write([]byte(`{"webhook":{"enabled":true}}`))
	}))
	defer srv.Close()

	err := testClient(srv).SetWebhook(context.Background(), "line-42", "https://cb.example/webhooks", []string{"MESSAGES_UPSERT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %v", calls)
	}
}

func TestSetWebhookAllShapesRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := testClient(srv).SetWebhook(context.Background(), "line-42", "https://cb.example/webhooks", nil); err == nil {
		t.Fatal("expected error when every shape is rejected")
	}
}

func TestConnectQr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instance/connect/line-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"base64":"data:image/png;base64,yyy","code":"2@abc"}`))
	}))
	defer srv.Close()

	qr, err := testClient(srv).Connect(context.Background(), "line-42")
	if err != nil {
		t.Fatal(err)
	}
	if qr["base64"] == "" || qr["code"] == "" {
		t.Errorf("qr = %v", qr)
	}
}
