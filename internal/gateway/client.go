package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the Evolution API endpoint settings for one client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the Evolution instance-management API. Payload and route
// shapes differ between gateway versions, so responses are decoded loosely and
// probed instead of bound to one fixed schema. The client never retries on
// transient failures; retry policy belongs to the caller.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg}
}

// CreateResult is the outcome of instance creation. Qr carries the raw pairing
// payload when the gateway returned one.
type CreateResult struct {
	InstanceID    string
	Qr            map[string]interface{}
	AlreadyExists bool
}

// Contact is one entry of the gateway contact/chat list.
type Contact struct {
	RemoteJid string
	Name      string
}

// MessageRecord is one message from the bulk history endpoint. Message holds
// the polymorphic payload as decoded JSON for content extraction downstream.
type MessageRecord struct {
	ID          string
	RemoteJid   string
	FromMe      bool
	Timestamp   int64
	MessageType string
	Status      string
	Message     map[string]interface{}
}

func (c *Client) request(ctx context.Context, method, url string, body interface{}) (int, string, error) {
	var df *dataflow.DataFlow
	switch method {
	case http.MethodGet:
		df = gout.GET(url)
	default:
		df = gout.POST(url)
	}
	if body != nil {
		df = df.SetJSON(body)
	}

	var raw string
	code := 0
	err := df.WithContext(ctx).
		SetTimeout(c.cfg.Timeout).
		SetHeader(gout.H{"apikey": c.cfg.APIKey}).
		BindBody(&raw).
		Code(&code).
		Do()
	return code, raw, err
}

// CreateInstance requests instance creation. An "already exists" answer is an
// alternate success: the result is synthesized from the instance name so the
// provisioning flow can continue.
func (c *Client) CreateInstance(ctx context.Context, instanceName string) (*CreateResult, error) {
	url := fmt.Sprintf("%s/instance/create", c.cfg.BaseURL)
	code, raw, err := c.request(ctx, http.MethodPost, url, gout.H{
		"instanceName": instanceName,
		"token":        instanceName,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "gateway: create instance %s", instanceName)
	}
	if code >= http.StatusBadRequest {
		if code == http.StatusForbidden || strings.Contains(strings.ToLower(raw), "already exists") {
			zap.L().Warn("gateway: instance already exists, reusing",
				zap.String("instance", instanceName), zap.Int("status", code))
			return &CreateResult{InstanceID: instanceName, AlreadyExists: true}, nil
		}
		return nil, errors.Errorf("gateway: create instance %s: status %d: %s", instanceName, code, snippet(raw))
	}

	doc := decodeMap(raw)
	id := probeString(doc, "instance.instanceId", "instance.id", "instanceId", "id")
	if id == "" {
		id = instanceName
	}
	res := &CreateResult{InstanceID: id}
	if qr, ok := doc["qrcode"].(map[string]interface{}); ok {
		res.Qr = qr
	} else if b64 := probeString(doc, "base64"); b64 != "" {
		res.Qr = map[string]interface{}{"base64": b64}
	}
	return res, nil
}

// ConnectionState returns the gateway's raw state token (e.g. "open"/"close").
// Normalization to the line status enum is the caller's concern.
func (c *Client) ConnectionState(ctx context.Context, instanceName string) (string, error) {
	url := fmt.Sprintf("%s/instance/connectionState/%s", c.cfg.BaseURL, instanceName)
	code, raw, err := c.request(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrapf(err, "gateway: connection state %s", instanceName)
	}
	if code >= http.StatusBadRequest {
		return "", errors.Errorf("gateway: connection state %s: status %d: %s", instanceName, code, snippet(raw))
	}
	doc := decodeMap(raw)
	return probeString(doc, "instance.state", "instance.status", "state", "status"), nil
}

// OwnerJid resolves the owning phone number's address of a paired instance.
// The fetchInstances response is an array in v2 and a single object in older
// versions, with the owner field at varying depths. An empty result means the
// instance has not been paired yet and is not an error.
func (c *Client) OwnerJid(ctx context.Context, instanceName string) (string, error) {
	url := fmt.Sprintf("%s/instance/fetchInstances?instanceName=%s", c.cfg.BaseURL, instanceName)
	code, raw, err := c.request(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrapf(err, "gateway: fetch instances %s", instanceName)
	}
	if code >= http.StatusBadRequest {
		return "", errors.Errorf("gateway: fetch instances %s: status %d: %s", instanceName, code, snippet(raw))
	}

	items := decodeList(raw)
	if len(items) == 0 {
		return "", nil
	}
	match := items[0]
	for _, item := range items {
		name := probeString(item, "instance.instanceName", "instanceName", "name")
		if name == instanceName {
			match = item
			break
		}
	}
	return probeString(match, "ownerJid", "instance.ownerJid", "owner"), nil
}

// FindContacts fetches the contact/chat list of an instance.
func (c *Client) FindContacts(ctx context.Context, instanceName string) ([]Contact, error) {
	url := fmt.Sprintf("%s/chat/findContacts/%s", c.cfg.BaseURL, instanceName)
	code, raw, err := c.request(ctx, http.MethodPost, url, gout.H{})
	if err != nil {
		return nil, errors.Wrapf(err, "gateway: find contacts %s", instanceName)
	}
	if code >= http.StatusBadRequest {
		return nil, errors.Errorf("gateway: find contacts %s: status %d: %s", instanceName, code, snippet(raw))
	}

	var contacts []Contact
	for _, item := range decodeList(raw) {
		jid := probeString(item, "id", "remoteJid")
		if jid == "" {
			continue
		}
		name := probeString(item, "name", "pushName")
		if name == "" {
			name = jid
		}
		contacts = append(contacts, Contact{RemoteJid: jid, Name: name})
	}
	return contacts, nil
}

// FindMessages fetches up to limit messages of one chat.
func (c *Client) FindMessages(ctx context.Context, instanceName, remoteJid string, limit int) ([]MessageRecord, error) {
	url := fmt.Sprintf("%s/chat/findMessages/%s", c.cfg.BaseURL, instanceName)
	code, raw, err := c.request(ctx, http.MethodPost, url, gout.H{
		"where": gout.H{"key": gout.H{"remoteJid": remoteJid}},
		"limit": limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "gateway: find messages %s/%s", instanceName, remoteJid)
	}
	if code >= http.StatusBadRequest {
		return nil, errors.Errorf("gateway: find messages %s/%s: status %d: %s", instanceName, remoteJid, code, snippet(raw))
	}

	var records []MessageRecord
	for _, item := range decodeList(raw) {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rec := MessageRecord{
			ID:          probeString(m, "key.id"),
			RemoteJid:   probeString(m, "key.remoteJid"),
			FromMe:      cast.ToBool(lookupPath(m, "key.fromMe")),
			Timestamp:   cast.ToInt64(m["messageTimestamp"]),
			MessageType: cast.ToString(m["messageType"]),
			Status:      cast.ToString(m["status"]),
		}
		if payload, ok := m["message"].(map[string]interface{}); ok {
			rec.Message = payload
		}
		if rec.ID == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// SetWebhook registers the callback URL for async event delivery. Gateway
// versions disagree on both the payload shape (nested under "webhook" vs flat)
// and the route, so each known combination is tried until one is accepted.
// This is a structural fallback chain, not a transient-failure retry.
func (c *Client) SetWebhook(ctx context.Context, instanceName, callbackURL string, events []string) error {
	webhookConfig := gout.H{
		"url":               callbackURL,
		"webhook_by_events": true,
		"webhookByEvents":   true,
		"events":            events,
		"enabled":           true,
	}

	attempts := []struct {
		url  string
		body interface{}
	}{
		{fmt.Sprintf("%s/webhook/set/%s", c.cfg.BaseURL, instanceName), gout.H{"webhook": webhookConfig}},
		{fmt.Sprintf("%s/webhook/set/%s", c.cfg.BaseURL, instanceName), webhookConfig},
		{fmt.Sprintf("%s/webhook/instance/%s", c.cfg.BaseURL, instanceName), gout.H{"webhook": webhookConfig}},
	}

	var lastErr error
	for i, attempt := range attempts {
		code, raw, err := c.request(ctx, http.MethodPost, attempt.url, attempt.body)
		if err == nil && code < http.StatusBadRequest {
			if i > 0 {
				zap.L().Info("gateway: webhook registered via fallback shape",
					zap.String("instance", instanceName), zap.Int("attempt", i+1))
			}
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.Errorf("status %d: %s", code, snippet(raw))
		}
		zap.L().Warn("gateway: webhook registration attempt failed",
			zap.String("instance", instanceName), zap.Int("attempt", i+1),
			zap.String("url", attempt.url), zap.Error(lastErr))
	}
	return errors.Wrapf(lastErr, "gateway: set webhook %s", instanceName)
}

// Connect requests a pairing QR code for a not-yet-connected instance. The
// payload is returned as-is (shape differs across versions, typically
// {"base64": "..."} or {"code": "..."}).
func (c *Client) Connect(ctx context.Context, instanceName string) (map[string]interface{}, error) {
	url := fmt.Sprintf("%s/instance/connect/%s", c.cfg.BaseURL, instanceName)
	code, raw, err := c.request(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "gateway: connect %s", instanceName)
	}
	if code >= http.StatusBadRequest {
		return nil, errors.Errorf("gateway: connect %s: status %d: %s", instanceName, code, snippet(raw))
	}
	return decodeMap(raw), nil
}

func snippet(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 256 {
		return raw[:256] + "..."
	}
	return raw
}
