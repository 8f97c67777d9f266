package lines

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/internal/gateway"
	"github.com/zapmirror/zapmirror/pkg/common"
)

type fakeGateway struct {
	createFn       func(name string) (*gateway.CreateResult, error)
	stateFn        func(name string) (string, error)
	ownerFn        func(name string) (string, error)
	findContactsFn func(name string) ([]gateway.Contact, error)
	findMessagesFn func(name, jid string, limit int) ([]gateway.MessageRecord, error)
	setWebhookFn   func(name, cb string, events []string) error
	connectFn      func(name string) (map[string]interface{}, error)
}

func (f *fakeGateway) CreateInstance(_ context.Context, name string) (*gateway.CreateResult, error) {
	if f.createFn != nil {
		return f.createFn(name)
	}
	return &gateway.CreateResult{InstanceID: name}, nil
}

func (f *fakeGateway) ConnectionState(_ context.Context, name string) (string, error) {
	if f.stateFn != nil {
		return f.stateFn(name)
	}
	return "connecting", nil
}

func (f *fakeGateway) OwnerJid(_ context.Context, name string) (string, error) {
	if f.ownerFn != nil {
		return f.ownerFn(name)
	}
	return "", nil
}

func (f *fakeGateway) FindContacts(_ context.Context, name string) ([]gateway.Contact, error) {
	if f.findContactsFn != nil {
		return f.findContactsFn(name)
	}
	return nil, nil
}

func (f *fakeGateway) FindMessages(_ context.Context, name, jid string, limit int) ([]gateway.MessageRecord, error) {
	if f.findMessagesFn != nil {
		return f.findMessagesFn(name, jid, limit)
	}
	return nil, nil
}

func (f *fakeGateway) SetWebhook(_ context.Context, name, cb string, events []string) error {
	if f.setWebhookFn != nil {
		return f.setWebhookFn(name, cb, events)
	}
	return nil
}

func (f *fakeGateway) Connect(_ context.Context, name string) (map[string]interface{}, error) {
	if f.connectFn != nil {
		return f.connectFn(name)
	}
	return map[string]interface{}{"base64": "qr"}, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:lines%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(domain.Tables...); err != nil {
		t.Fatal(err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB, gw Gateway) *Service {
	t.Helper()
	return New(db, gw, EventBus.New(), Config{CallbackURL: "https://cb.example/webhooks", HistoryDays: 30, ChatLimit: 100})
}

func TestProvisionNewLine(t *testing.T) {
	db := openTestDB(t)
	var gotEvents []string
	gw := &fakeGateway{
		createFn: func(name string) (*gateway.CreateResult, error) {
			return &gateway.CreateResult{InstanceID: "abc-123", Qr: map[string]interface{}{"base64": "qr-data"}}, nil
		},
		setWebhookFn: func(name, cb string, events []string) error {
			if cb != "https://cb.example/webhooks" {
				t.Errorf("callback = %s", cb)
			}
			gotEvents = events
			return nil
		},
	}

	line, qr, err := newService(t, db, gw).Provision(context.Background(), "line-42", 7)
	if err != nil {
		t.Fatal(err)
	}
	if line.InstanceID != "abc-123" || line.Status != domain.LineStatusConnecting || line.OperatorID != 7 {
		t.Errorf("line = %+v", line)
	}
	if qr == nil || qr["base64"] != "qr-data" {
		t.Errorf("qr = %v", qr)
	}
	if len(gotEvents) == 0 {
		t.Error("webhook events not registered")
	}

	var stored domain.Line
	if err := db.Where("instance_name = ?", "line-42").First(&stored).Error; err != nil {
		t.Fatal(err)
	}
}

func TestProvisionExistingInstance(t *testing.T) {
	db := openTestDB(t)
	existing := domain.Line{ID: common.UUIDint64(), InstanceName: "line-42", Status: domain.LineStatusDisconnected}
	if err := db.Create(&existing).Error; err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{
		createFn: func(name string) (*gateway.CreateResult, error) {
			return &gateway.CreateResult{InstanceID: name, AlreadyExists: true}, nil
		},
		stateFn: func(name string) (string, error) { return "open", nil },
		ownerFn: func(name string) (string, error) { return "5511999999999:2@s.whatsapp.net", nil },
	}

	line, qr, err := newService(t, db, gw).Provision(context.Background(), "line-42", 0)
	if err != nil {
		t.Fatal(err)
	}
	if line.ID != existing.ID {
		t.Error("existing line not reused")
	}
	if qr != nil {
		t.Error("connected line must not return a qr")
	}

	var stored domain.Line
	if err := db.First(&stored, existing.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.LineStatusConnected {
		t.Errorf("status = %s", stored.Status)
	}
	if stored.PhoneNumber != "5511999999999" {
		t.Errorf("phone = %s", stored.PhoneNumber)
	}
}

func TestGetQr(t *testing.T) {
	db := openTestDB(t)
	line := domain.Line{ID: common.UUIDint64(), InstanceName: "line-42", Status: domain.LineStatusConnecting}
	if err := db.Create(&line).Error; err != nil {
		t.Fatal(err)
	}

	svc := newService(t, db, &fakeGateway{
		stateFn: func(name string) (string, error) { return "close", nil },
	})
	qr, err := svc.GetQr(context.Background(), line.ID)
	if err != nil {
		t.Fatal(err)
	}
	if qr["base64"] != "qr" {
		t.Errorf("qr = %v", qr)
	}

	svc = newService(t, db, &fakeGateway{
		stateFn: func(name string) (string, error) { return "open", nil },
	})
	if _, err := svc.GetQr(context.Background(), line.ID); !errors.Is(err, ErrLineConnected) {
		t.Errorf("err = %v", err)
	}
	var stored domain.Line
	if err := db.First(&stored, line.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.LineStatusConnected {
		t.Errorf("status not refreshed: %s", stored.Status)
	}
}

func TestGetQrStateCheckFailureStillFetchesQr(t *testing.T) {
	db := openTestDB(t)
	line := domain.Line{ID: common.UUIDint64(), InstanceName: "line-42", Status: domain.LineStatusConnecting}
	if err := db.Create(&line).Error; err != nil {
		t.Fatal(err)
	}
	svc := newService(t, db, &fakeGateway{
		stateFn: func(name string) (string, error) { return "", errors.New("gateway timeout") },
	})
	qr, err := svc.GetQr(context.Background(), line.ID)
	if err != nil {
		t.Fatal(err)
	}
	if qr["base64"] != "qr" {
		t.Errorf("qr = %v", qr)
	}
}

func TestSyncHistoryCutoff(t *testing.T) {
	db := openTestDB(t)
	line := domain.Line{ID: common.UUIDint64(), InstanceName: "line-42", Status: domain.LineStatusConnected}
	if err := db.Create(&line).Error; err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	gw := &fakeGateway{
		findContactsFn: func(name string) ([]gateway.Contact, error) {
			return []gateway.Contact{
				{RemoteJid: "111@s.whatsapp.net", Name: "Alice"},
				{RemoteJid: "status@broadcast", Name: "status"},
			}, nil
		},
		findMessagesFn: func(name, jid string, limit int) ([]gateway.MessageRecord, error) {
			return []gateway.MessageRecord{
				{ID: "OLD", RemoteJid: jid, Timestamp: now.AddDate(0, 0, -31).Unix(), Message: map[string]interface{}{"conversation": "velha"}},
				{ID: "NEW", RemoteJid: jid, Timestamp: now.Unix(), FromMe: true, Message: map[string]interface{}{"conversation": "nova"}},
				{ID: "NOTS", RemoteJid: jid, Timestamp: 0, Message: map[string]interface{}{"conversation": "sem data"}},
			}, nil
		},
	}
	svc := newService(t, db, gw)

	if err := svc.SyncHistory(context.Background(), &line); err != nil {
		t.Fatal(err)
	}

	var msgs []domain.Message
	if err := db.Find(&msgs).Error; err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, only the recent dated record survives", len(msgs))
	}
	if msgs[0].EvolutionID != "NEW" || msgs[0].Direction != domain.DirectionSent {
		t.Errorf("message = %+v", msgs[0])
	}

	var convs int64
	db.Model(&domain.Conversation{}).Count(&convs)
	if convs != 1 {
		t.Errorf("conversations = %d, status broadcast must be skipped", convs)
	}

	// replay is idempotent
	if err := svc.SyncHistory(context.Background(), &line); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&domain.Message{}).Count(&count)
	if count != 1 {
		t.Errorf("messages after replay = %d", count)
	}
}

func TestSyncAllFaultIsolation(t *testing.T) {
	db := openTestDB(t)
	bad := domain.Line{ID: common.UUIDint64(), InstanceName: "bad", Status: domain.LineStatusConnected, CreatedAt: time.Now().Add(-time.Hour)}
	good := domain.Line{ID: common.UUIDint64(), InstanceName: "good", Status: domain.LineStatusConnected}
	if err := db.Create(&bad).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&good).Error; err != nil {
		t.Fatal(err)
	}

	gw := &fakeGateway{
		stateFn: func(name string) (string, error) {
			if name == "bad" {
				return "", errors.New("gateway timeout")
			}
			return "open", nil
		},
		ownerFn: func(name string) (string, error) { return "5511888888888@s.whatsapp.net", nil },
	}
	summary, err := newService(t, db, gw).SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 2 || summary.Synced != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Results) != 2 {
		t.Fatalf("results = %d, every line must appear", len(summary.Results))
	}
	byName := map[string]LineSyncResult{}
	for _, r := range summary.Results {
		byName[r.InstanceName] = r
	}
	if r := byName["bad"]; r.LineID != bad.ID || r.Status != "failed" || r.Error == "" {
		t.Errorf("bad result = %+v", r)
	}
	if r := byName["good"]; r.LineID != good.ID || r.Status != domain.LineStatusConnected || r.Error != "" {
		t.Errorf("good result = %+v", r)
	}

	var g domain.Line
	if err := db.First(&g, good.ID).Error; err != nil {
		t.Fatal(err)
	}
	if g.PhoneNumber != "5511888888888" {
		t.Errorf("phone = %s", g.PhoneNumber)
	}
}

func TestSyncOneDisconnectedSkipsHistory(t *testing.T) {
	db := openTestDB(t)
	line := domain.Line{ID: common.UUIDint64(), InstanceName: "line-42", Status: domain.LineStatusConnected}
	if err := db.Create(&line).Error; err != nil {
		t.Fatal(err)
	}

	contactsCalled := false
	gw := &fakeGateway{
		stateFn: func(name string) (string, error) { return "close", nil },
		findContactsFn: func(name string) ([]gateway.Contact, error) {
			contactsCalled = true
			return nil, nil
		},
	}
	if err := newService(t, db, gw).SyncOne(context.Background(), line.ID); err != nil {
		t.Fatal(err)
	}
	if contactsCalled {
		t.Error("history sync must be skipped for a disconnected line")
	}

	var stored domain.Line
	if err := db.First(&stored, line.ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.LineStatusDisconnected {
		t.Errorf("status = %s", stored.Status)
	}
}
