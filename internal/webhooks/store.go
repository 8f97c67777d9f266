package webhooks

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/zapmirror/zapmirror/internal/domain"
	"github.com/zapmirror/zapmirror/pkg/common"
)

// UpsertConversation finds or creates the (line, remoteJid) conversation.
// The contact name is best effort: only a non-empty name ever overwrites what
// is already stored. Both live ingestion and history backfill go through
// here so the composite unique index is never raced into a duplicate.
func UpsertConversation(db *gorm.DB, lineID int64, remoteJid, contactName string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := db.Where("line_id = ? and remote_jid = ?", lineID, remoteJid).First(&conv).Error
	switch err {
	case nil:
		updates := map[string]interface{}{"updated_at": time.Now()}
		if contactName != "" && contactName != conv.ContactName {
			updates["contact_name"] = contactName
		}
		if err := db.Model(&conv).Updates(updates).Error; err != nil {
			return nil, errors.Wrap(err, "touch conversation")
		}
		return &conv, nil
	case gorm.ErrRecordNotFound:
		conv = domain.Conversation{
			ID:          common.UUIDint64(),
			LineID:      lineID,
			RemoteJid:   remoteJid,
			ContactName: contactName,
		}
		if err := db.Create(&conv).Error; err != nil {
			if isDuplicateKey(err) {
				// concurrent upsert won the race, reload
				if err := db.Where("line_id = ? and remote_jid = ?", lineID, remoteJid).First(&conv).Error; err != nil {
					return nil, errors.Wrap(err, "reload conversation")
				}
				return &conv, nil
			}
			return nil, errors.Wrap(err, "create conversation")
		}
		return &conv, nil
	default:
		return nil, errors.Wrap(err, "load conversation")
	}
}

// InsertMessage creates the row unless the gateway message id was already
// ingested. The unique index on evolution_id backstops the pre-check under
// concurrent delivery.
func InsertMessage(db *gorm.DB, msg *domain.Message) error {
	var count int64
	if err := db.Model(&domain.Message{}).Where("evolution_id = ?", msg.EvolutionID).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check message")
	}
	if count > 0 {
		return nil
	}
	if err := db.Create(msg).Error; err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return errors.Wrap(err, "create message")
	}
	return nil
}
