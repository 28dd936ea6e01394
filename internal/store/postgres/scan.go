package postgres

import (
	"database/sql"
	"encoding/json"

	"github.com/alfredjeanlab/hpit/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (*model.Subscription, error) {
	var s model.Subscription
	if err := row.Scan(&s.PluginName, &s.EventName, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

// scanMessage scans a row in messageColumns order.
func scanMessage(row scannable) (*model.Message, error) {
	var m model.Message
	var payload []byte
	if err := row.Scan(&m.ID, &m.EventName, &payload, &m.PublisherID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Payload = rawJSON(payload)
	return &m, nil
}

// scanDelivery scans a row in deliveryColumns order.
func scanDelivery(row scannable) (*model.Delivery, error) {
	var d model.Delivery
	var payload []byte
	err := row.Scan(
		&d.ID,
		&d.MessageID,
		&d.PluginName,
		&d.EventName,
		&d.SenderID,
		&payload,
		&d.Delivered,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Payload = rawJSON(payload)
	return &d, nil
}

func scanDeliveries(rows *sql.Rows) ([]*model.Delivery, error) {
	var out []*model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanResponse scans a row in responseColumns order and rebuilds the
// embedded message snapshot.
func scanResponse(row scannable) (*model.Response, error) {
	var r model.Response
	var msgPayload, payload []byte
	err := row.Scan(
		&r.ID,
		&r.MessageID,
		&r.Message.EventName,
		&msgPayload,
		&r.Message.EntityID,
		&payload,
		&r.Delivered,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Message.MessageID = r.MessageID
	r.Message.Payload = rawJSON(msgPayload)
	r.Payload = rawJSON(payload)
	return &r, nil
}

// scanMastery scans a row in masteryColumns order.
func scanMastery(row scannable) (*model.Mastery, error) {
	var m model.Mastery
	err := row.Scan(
		&m.PublisherID,
		&m.SkillID,
		&m.StudentID,
		&m.PKnown,
		&m.PLearned,
		&m.PGuess,
		&m.PMistake,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMasteries(rows *sql.Rows) ([]*model.Mastery, error) {
	var out []*model.Mastery
	for rows.Next() {
		m, err := scanMastery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonbBytes converts json.RawMessage to a []byte suitable for JSONB columns.
// Empty payloads are stored as an empty object.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	return []byte(m)
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
