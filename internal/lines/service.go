package lines

import (
	"context"
	"strings"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/internal/gateway"
	"github.com/zapmirror/zapmirror/internal/webhooks"
	"github.com/zapmirror/zapmirror/pkg/common"
)

// WebhookEvents is the event subscription registered on every instance.
var WebhookEvents = []string{
	"MESSAGES_UPSERT",
	"MESSAGES_UPDATE",
	"CONNECTION_UPDATE",
	"QRCODE_UPDATED",
}

// Gateway is the instance-management surface the service needs. Satisfied by
// *gateway.Client; narrowed to an interface so tests can fake the far end.
type Gateway interface {
	CreateInstance(ctx context.Context, instanceName string) (*gateway.CreateResult, error)
	ConnectionState(ctx context.Context, instanceName string) (string, error)
	OwnerJid(ctx context.Context, instanceName string) (string, error)
	FindContacts(ctx context.Context, instanceName string) ([]gateway.Contact, error)
	FindMessages(ctx context.Context, instanceName, remoteJid string, limit int) ([]gateway.MessageRecord, error)
	SetWebhook(ctx context.Context, instanceName, callbackURL string, events []string) error
	Connect(ctx context.Context, instanceName string) (map[string]interface{}, error)
}

var ErrLineConnected = errors.New("line already connected")

type Config struct {
	CallbackURL  string
	HistoryDays  int
	ChatLimit    int
	ChatThrottle time.Duration
}

// Service owns the line lifecycle: provisioning instances at the gateway,
// pairing QR codes, status refresh and history backfill.
type Service struct {
	db  *gorm.DB
	gw  Gateway
	bus EventBus.Bus
	cfg Config
}

func New(db *gorm.DB, gw Gateway, bus EventBus.Bus, cfg Config) *Service {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 30
	}
	if cfg.ChatLimit <= 0 {
		cfg.ChatLimit = 100
	}
	return &Service{db: db, gw: gw, bus: bus, cfg: cfg}
}

// Start subscribes the post-pairing backfill to connection events. The
// subscription is async: webhook processing must never block on a full
// history sync.
func (s *Service) Start() error {
	return s.bus.SubscribeAsync(webhooks.TopicLineConnected, s.onLineConnected, false)
}

func (s *Service) onLineConnected(instanceName string, lineID int64) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("backfill for line %s panic: %v", instanceName, r)
		}
	}()
	ctx := context.Background()
	var line domain.Line
	if err := s.db.First(&line, lineID).Error; err != nil {
		zap.S().Errorf("backfill: load line %d: %s", lineID, err)
		return
	}
	if line.PhoneNumber == "" {
		s.resolvePhone(ctx, &line)
	}
	if err := s.SyncHistory(ctx, &line); err != nil {
		zap.S().Errorf("backfill for line %s failed: %s", line.InstanceName, err)
	}
}

// Provision creates (or re-attaches to) a gateway instance, registers the
// webhook subscription and persists the line. The returned map is the pairing
// QR payload when the instance still needs pairing.
func (s *Service) Provision(ctx context.Context, instanceName string, operatorID int64) (*domain.Line, map[string]interface{}, error) {
	res, err := s.gw.CreateInstance(ctx, instanceName)
	if err != nil {
		return nil, nil, err
	}

	// webhook registration is retried on the next sync pass if it fails now
	if err := s.gw.SetWebhook(ctx, instanceName, s.cfg.CallbackURL, WebhookEvents); err != nil {
		zap.S().Warnf("provision %s: webhook registration failed: %s", instanceName, err)
	}

	status := domain.LineStatusConnecting
	if state, err := s.gw.ConnectionState(ctx, instanceName); err == nil {
		status = webhooks.NormalizeState(state)
	}

	var line domain.Line
	err = s.db.Where("instance_name = ?", instanceName).First(&line).Error
	switch err {
	case nil:
		updates := map[string]interface{}{"status": status}
		if res.InstanceID != "" {
			updates["instance_id"] = res.InstanceID
		}
		if err := s.db.Model(&line).Updates(updates).Error; err != nil {
			return nil, nil, errors.Wrap(err, "update line")
		}
	case gorm.ErrRecordNotFound:
		line = domain.Line{
			ID:           common.UUIDint64(),
			InstanceName: instanceName,
			InstanceID:   res.InstanceID,
			Status:       status,
			OperatorID:   operatorID,
		}
		if err := s.db.Create(&line).Error; err != nil {
			return nil, nil, errors.Wrap(err, "create line")
		}
	default:
		return nil, nil, errors.Wrap(err, "load line")
	}

	if status == domain.LineStatusConnected {
		s.resolvePhone(ctx, &line)
		s.triggerBackfill(&line)
		return &line, nil, nil
	}
	s.triggerBackfill(&line)
	qr := res.Qr
	if qr == nil {
		if qr, err = s.gw.Connect(ctx, instanceName); err != nil {
			zap.S().Warnf("provision %s: qr fetch failed: %s", instanceName, err)
			qr = nil
		}
	}
	return &line, qr, nil
}

// triggerBackfill starts a history sync in the background. The caller never
// waits on it; failures end in the log.
func (s *Service) triggerBackfill(line *domain.Line) {
	snapshot := *line
	go func() {
		defer func() {
			if r := recover(); r != nil {
				zap.S().Errorf("backfill for line %s panic: %v", snapshot.InstanceName, r)
			}
		}()
		if err := s.SyncHistory(context.Background(), &snapshot); err != nil {
			zap.S().Warnf("backfill for line %s failed: %s", snapshot.InstanceName, err)
		}
	}()
}

// GetQr refreshes the line's status and returns a fresh pairing QR when the
// line is not connected. A connected line reports ErrLineConnected instead of
// a QR, after resolving its phone number and scheduling a backfill. A failed
// state check still falls through to the QR fetch.
func (s *Service) GetQr(ctx context.Context, lineID int64) (map[string]interface{}, error) {
	var line domain.Line
	if err := s.db.First(&line, lineID).Error; err != nil {
		return nil, errors.Wrap(err, "load line")
	}
	state, err := s.gw.ConnectionState(ctx, line.InstanceName)
	if err == nil {
		status := webhooks.NormalizeState(state)
		if status != line.Status {
			if err := s.db.Model(&domain.Line{}).Where("id = ?", line.ID).Update("status", status).Error; err != nil {
				return nil, errors.Wrap(err, "update line status")
			}
			line.Status = status
		}
		if status == domain.LineStatusConnected {
			s.resolvePhone(ctx, &line)
			s.triggerBackfill(&line)
			return nil, ErrLineConnected
		}
	} else {
		zap.S().Warnf("qr %s: state check failed, trying qr anyway: %s", line.InstanceName, err)
	}
	return s.gw.Connect(ctx, line.InstanceName)
}

// SyncOne refreshes a line's status and phone number from the gateway and,
// when connected, runs a history backfill.
func (s *Service) SyncOne(ctx context.Context, lineID int64) error {
	var line domain.Line
	if err := s.db.First(&line, lineID).Error; err != nil {
		return errors.Wrap(err, "load line")
	}
	return s.syncLine(ctx, &line)
}

func (s *Service) syncLine(ctx context.Context, line *domain.Line) error {
	state, err := s.gw.ConnectionState(ctx, line.InstanceName)
	if err != nil {
		return err
	}
	status := webhooks.NormalizeState(state)
	if status != line.Status {
		if err := s.db.Model(&domain.Line{}).Where("id = ?", line.ID).Update("status", status).Error; err != nil {
			return errors.Wrap(err, "update line status")
		}
		line.Status = status
	}
	if status != domain.LineStatusConnected {
		return nil
	}
	if line.PhoneNumber == "" {
		s.resolvePhone(ctx, line)
	}
	return s.SyncHistory(ctx, line)
}

// LineSyncResult reports the outcome of one line inside a sync-all pass.
type LineSyncResult struct {
	LineID       int64  `json:"lineId"`
	InstanceName string `json:"instanceName"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// SyncSummary tallies one sync-all pass, with one result entry per line.
type SyncSummary struct {
	Total   int              `json:"total"`
	Synced  int              `json:"synced"`
	Failed  int              `json:"failed"`
	Results []LineSyncResult `json:"results"`
}

// SyncAll walks every line sequentially. A failing line is recorded and
// skipped; it never aborts the pass.
func (s *Service) SyncAll(ctx context.Context) (*SyncSummary, error) {
	var all []domain.Line
	if err := s.db.Order("created_at asc").Find(&all).Error; err != nil {
		return nil, errors.Wrap(err, "list lines")
	}
	summary := &SyncSummary{Total: len(all), Results: make([]LineSyncResult, 0, len(all))}
	for i := range all {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		line := &all[i]
		result := LineSyncResult{LineID: line.ID, InstanceName: line.InstanceName}
		if err := s.syncLine(ctx, line); err != nil {
			summary.Failed++
			result.Status = "failed"
			result.Error = err.Error()
			summary.Results = append(summary.Results, result)
			zap.S().Warnf("sync-all: line %s failed: %s", line.InstanceName, err)
			continue
		}
		summary.Synced++
		result.Status = line.Status
		summary.Results = append(summary.Results, result)
	}
	zap.S().Infof("sync-all done: total=%d synced=%d failed=%d", summary.Total, summary.Synced, summary.Failed)
	return summary, nil
}

// SyncHistory backfills recent conversations and messages for one line.
// Messages older than the cutoff window are skipped; a message exactly at the
// cutoff boundary is kept. Per-chat failures are logged and skipped so one
// bad chat never loses the rest.
func (s *Service) SyncHistory(ctx context.Context, line *domain.Line) error {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.HistoryDays)
	contacts, err := s.gw.FindContacts(ctx, line.InstanceName)
	if err != nil {
		return err
	}

	for _, contact := range contacts {
		if contact.RemoteJid == "status@broadcast" {
			continue
		}
		if err := s.syncChat(ctx, line, contact, cutoff); err != nil {
			zap.S().Warnf("history %s: chat %s failed: %s", line.InstanceName, contact.RemoteJid, err)
		}
		if s.cfg.ChatThrottle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.ChatThrottle):
			}
		}
	}
	return nil
}

func (s *Service) syncChat(ctx context.Context, line *domain.Line, contact gateway.Contact, cutoff time.Time) error {
	conv, err := webhooks.UpsertConversation(s.db, line.ID, contact.RemoteJid, contact.Name)
	if err != nil {
		return err
	}
	records, err := s.gw.FindMessages(ctx, line.InstanceName, contact.RemoteJid, s.cfg.ChatLimit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		// records without a timestamp cannot be placed against the cutoff
		if rec.Timestamp <= 0 {
			continue
		}
		when := time.Unix(rec.Timestamp, 0)
		if when.Before(cutoff) {
			continue
		}
		msgType := rec.MessageType
		if msgType == "" {
			msgType = webhooks.MessageKind(rec.Message)
		}
		direction := domain.DirectionReceived
		if rec.FromMe {
			direction = domain.DirectionSent
		}
		status := rec.Status
		if status == "" {
			status = "DELIVERED"
		}
		err := webhooks.InsertMessage(s.db, &domain.Message{
			ID:             common.UUIDint64(),
			EvolutionID:    rec.ID,
			ConversationID: conv.ID,
			Content:        webhooks.ExtractContent(rec.Message),
			Type:           msgType,
			Direction:      direction,
			Status:         status,
			Timestamp:      when,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// resolvePhone derives the line's phone number from the paired owner jid,
// e.g. "5511999999999:2@s.whatsapp.net" -> "5511999999999". Best effort.
func (s *Service) resolvePhone(ctx context.Context, line *domain.Line) {
	jid, err := s.gw.OwnerJid(ctx, line.InstanceName)
	if err != nil || jid == "" {
		return
	}
	phone := jid
	if i := strings.IndexAny(phone, ":@"); i > 0 {
		phone = phone[:i]
	}
	if phone == line.PhoneNumber {
		return
	}
	if err := s.db.Model(&domain.Line{}).Where("id = ?", line.ID).Update("phone_number", phone).Error; err != nil {
		zap.S().Warnf("line %s: phone update failed: %s", line.InstanceName, err)
		return
	}
	line.PhoneNumber = phone
}
