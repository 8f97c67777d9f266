package webhooks

import (
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/pkg/common"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TopicLineConnected is published when an instance transitions to connected,
// carrying (instanceName string, lineID int64). Subscribers use it to kick
// off post-pairing work such as history backfill.
const TopicLineConnected = "line.connected"

// Envelope is the common outer shape of gateway webhook deliveries.
type Envelope struct {
	Event    string                 `json:"event"`
	Instance string                 `json:"instance"`
	Data     map[string]interface{} `json:"data"`
}

type messageKey struct {
	ID        string `mapstructure:"id"`
	RemoteJid string `mapstructure:"remoteJid"`
	FromMe    bool   `mapstructure:"fromMe"`
}

type connectionData struct {
	State        string `mapstructure:"state"`
	StatusReason int    `mapstructure:"statusReason"`
}

// Processor consumes queued webhook jobs and applies them to the store.
// Handlers are idempotent so the queue's at-least-once delivery never
// duplicates rows.
type Processor struct {
	db  *gorm.DB
	bus EventBus.Bus
}

func NewProcessor(db *gorm.DB, bus EventBus.Bus) *Processor {
	return &Processor{db: db, bus: bus}
}

// Handle dispatches one queued webhook job by event name. Unknown events and
// structurally unusable payloads are discarded rather than retried: replaying
// them can never succeed and would only burn the attempt budget.
func (p *Processor) Handle(job *domain.WebhookJob) error {
	var env Envelope
	if err := json.UnmarshalFromString(job.Payload, &env); err != nil {
		zap.S().Warnf("webhook job %d: undecodable payload discarded: %s", job.ID, err)
		return nil
	}
	switch normalizeEvent(env.Event) {
	case "messages.upsert":
		return p.handleMessageUpsert(&env)
	case "connection.update":
		return p.handleConnectionUpdate(&env)
	default:
		zap.S().Debugf("webhook job %d: event %q ignored", job.ID, env.Event)
		return nil
	}
}

// normalizeEvent folds the two casings the gateway uses ("messages.upsert"
// in event bodies, "MESSAGES_UPSERT" in subscription config) into one form.
func normalizeEvent(event string) string {
	return strings.ReplaceAll(strings.ToLower(event), "_", ".")
}

func (p *Processor) handleMessageUpsert(env *Envelope) error {
	var key messageKey
	if err := mapstructure.Decode(env.Data["key"], &key); err != nil || key.ID == "" || key.RemoteJid == "" {
		zap.S().Warnf("messages.upsert from %s: missing message key, discarded", env.Instance)
		return nil
	}

	var line domain.Line
	err := p.db.Where("instance_name = ?", env.Instance).First(&line).Error
	switch err {
	case nil:
	case gorm.ErrRecordNotFound:
		zap.S().Warnf("messages.upsert for unknown instance %s, discarded", env.Instance)
		return nil
	default:
		return errors.Wrap(err, "load line")
	}

	conv, err := UpsertConversation(p.db, line.ID, key.RemoteJid, cast.ToString(env.Data["pushName"]))
	if err != nil {
		return err
	}

	var payload map[string]interface{}
	if m, ok := env.Data["message"].(map[string]interface{}); ok {
		payload = m
	}
	msgType := cast.ToString(env.Data["messageType"])
	if msgType == "" {
		msgType = MessageKind(payload)
	}
	direction := domain.DirectionReceived
	if key.FromMe {
		direction = domain.DirectionSent
	}
	status := cast.ToString(env.Data["status"])
	if status == "" {
		status = "DELIVERED"
	}
	ts := cast.ToInt64(env.Data["messageTimestamp"])
	when := time.Now()
	if ts > 0 {
		when = time.Unix(ts, 0)
	}

	return InsertMessage(p.db, &domain.Message{
		ID:             common.UUIDint64(),
		EvolutionID:    key.ID,
		ConversationID: conv.ID,
		Content:        ExtractContent(payload),
		Type:           msgType,
		Direction:      direction,
		Status:         status,
		Timestamp:      when,
	})
}

func (p *Processor) handleConnectionUpdate(env *Envelope) error {
	var data connectionData
	if err := mapstructure.WeakDecode(env.Data, &data); err != nil {
		zap.S().Warnf("connection.update from %s: undecodable data, discarded", env.Instance)
		return nil
	}
	status := NormalizeState(data.State)

	var line domain.Line
	err := p.db.Where("instance_name = ?", env.Instance).First(&line).Error
	switch err {
	case nil:
	case gorm.ErrRecordNotFound:
		zap.S().Warnf("connection.update for unknown instance %s, discarded", env.Instance)
		return nil
	default:
		return errors.Wrap(err, "load line")
	}

	prev := line.Status
	if prev != status {
		if err := p.db.Model(&line).Update("status", status).Error; err != nil {
			return errors.Wrap(err, "update line status")
		}
		zap.S().Infof("line %s status %s -> %s (reason=%d)", line.InstanceName, prev, status, data.StatusReason)
	}
	if status == domain.LineStatusConnected && prev != domain.LineStatusConnected {
		p.bus.Publish(TopicLineConnected, line.InstanceName, line.ID)
	}
	return nil
}

// NormalizeState maps the gateway's raw connection tokens onto the line
// status enum. Anything unrecognized reads as disconnected.
func NormalizeState(state string) string {
	switch strings.ToLower(state) {
	case "open":
		return domain.LineStatusConnected
	case "connecting":
		return domain.LineStatusConnecting
	default:
		return domain.LineStatusDisconnected
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
