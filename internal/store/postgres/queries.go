package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
)

const (
	subscriptionColumns = `plugin_name, event_name, created_at`
	messageColumns      = `id, event_name, payload, publisher_id, created_at`
	deliveryColumns     = `id, message_id, plugin_name, event_name, sender_id, payload, delivered, created_at`
	responseColumns     = `id, message_id, msg_event_name, msg_payload, msg_entity_id, payload, delivered, created_at`
	masteryColumns      = `publisher_id, skill_id, student_id, probability_known, probability_learned,
	probability_guess, probability_mistake, updated_at`
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// notFound maps sql.ErrNoRows onto store.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func queryAddSubscription(ctx context.Context, db executor, sub *model.Subscription) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO subscriptions (plugin_name, event_name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (plugin_name, event_name) DO NOTHING`,
		sub.PluginName, sub.EventName, sub.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func queryRemoveSubscription(ctx context.Context, db executor, pluginName, eventName string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE plugin_name = $1 AND event_name = $2`,
		pluginName, eventName,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryListSubscriptions(ctx context.Context, db executor, pluginName string) ([]*model.Subscription, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE plugin_name = $1 ORDER BY event_name`,
		pluginName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func queryListAllSubscriptions(ctx context.Context, db executor) ([]*model.Subscription, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY plugin_name, event_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func queryListSubscribers(ctx context.Context, db executor, eventName string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT plugin_name FROM subscriptions WHERE event_name = $1 ORDER BY plugin_name`,
		eventName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func queryCreateMessage(ctx context.Context, db executor, m *model.Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, event_name, payload, publisher_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.EventName, jsonbBytes(m.Payload), m.PublisherID, m.CreatedAt,
	)
	return err
}

func queryGetMessage(ctx context.Context, db executor, id string) (*model.Message, error) {
	row := db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func queryListAllMessages(ctx context.Context, db executor) ([]*model.Message, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func queryCreateDelivery(ctx context.Context, db executor, d *model.Delivery) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO deliveries (
			id, message_id, plugin_name, event_name, channel, sender_id, payload, delivered, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.MessageID, d.PluginName, d.EventName, string(model.ChannelFor(d.EventName)),
		d.SenderID, jsonbBytes(d.Payload), d.Delivered, d.CreatedAt,
	)
	return err
}

func queryListDeliveries(ctx context.Context, db executor, filter model.DeliveryFilter) ([]*model.Delivery, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	whereClauses = append(whereClauses, "plugin_name = "+nextArg())
	args = append(args, filter.PluginName)

	if filter.Channel != "" {
		whereClauses = append(whereClauses, "channel = "+nextArg())
		args = append(args, string(filter.Channel))
	}
	if filter.UndeliveredOnly {
		whereClauses = append(whereClauses, "NOT delivered")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE `+strings.Join(whereClauses, " AND ")+` ORDER BY seq`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// queryClaimDeliveries flips every pending delivery for the plugin and channel
// in a single statement. Rows locked by a concurrent claim are skipped, so two
// pollers never return the same record.
func queryClaimDeliveries(ctx context.Context, db executor, pluginName string, channel model.Channel) ([]*model.Delivery, error) {
	rows, err := db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE deliveries SET delivered = true
			WHERE id IN (
				SELECT id FROM deliveries
				WHERE plugin_name = $1 AND channel = $2 AND NOT delivered
				ORDER BY seq
				FOR UPDATE SKIP LOCKED
			)
			RETURNING seq, `+deliveryColumns+`
		)
		SELECT `+deliveryColumns+` FROM claimed ORDER BY seq`,
		pluginName, string(channel),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

func queryCreateResponse(ctx context.Context, db executor, r *model.Response) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO responses (
			id, message_id, msg_event_name, msg_payload, msg_entity_id, payload, delivered, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.MessageID, r.Message.EventName, jsonbBytes(r.Message.Payload), r.Message.EntityID,
		jsonbBytes(r.Payload), r.Delivered, r.CreatedAt,
	)
	return err
}

func queryClaimResponses(ctx context.Context, db executor, entityID string) ([]*model.Response, error) {
	rows, err := db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE responses SET delivered = true
			WHERE id IN (
				SELECT id FROM responses
				WHERE msg_entity_id = $1 AND NOT delivered
				ORDER BY seq
				FOR UPDATE SKIP LOCKED
			)
			RETURNING seq, `+responseColumns+`
		)
		SELECT `+responseColumns+` FROM claimed ORDER BY seq`,
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func queryGetMastery(ctx context.Context, db executor, key model.MasteryKey) (*model.Mastery, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+masteryColumns+` FROM mastery WHERE publisher_id = $1 AND skill_id = $2 AND student_id = $3`,
		key.PublisherID, key.SkillID, key.StudentID,
	)
	m, err := scanMastery(row)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func queryFindMastery(ctx context.Context, db executor, publisherID, studentID string, skillIDs []string) ([]*model.Mastery, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+masteryColumns+` FROM mastery
		WHERE publisher_id = $1 AND student_id = $2 AND skill_id = ANY($3)
		ORDER BY skill_id`,
		publisherID, studentID, pq.Array(skillIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMasteries(rows)
}

func queryUpsertMastery(ctx context.Context, db executor, m *model.Mastery) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO mastery (`+masteryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (publisher_id, skill_id, student_id) DO UPDATE SET
			probability_known = EXCLUDED.probability_known,
			probability_learned = EXCLUDED.probability_learned,
			probability_guess = EXCLUDED.probability_guess,
			probability_mistake = EXCLUDED.probability_mistake,
			updated_at = EXCLUDED.updated_at`,
		m.PublisherID, m.SkillID, m.StudentID,
		m.PKnown, m.PLearned, m.PGuess, m.PMistake, m.UpdatedAt,
	)
	return err
}

func queryListMasteryByStudent(ctx context.Context, db executor, studentID string) ([]*model.Mastery, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+masteryColumns+` FROM mastery WHERE student_id = $1 ORDER BY publisher_id, skill_id`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMasteries(rows)
}

func queryListAllMastery(ctx context.Context, db executor) ([]*model.Mastery, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+masteryColumns+` FROM mastery ORDER BY student_id, publisher_id, skill_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMasteries(rows)
}
