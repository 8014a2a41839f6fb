package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"pricewatch/common"
)

const alertColumns = `id, symbol, threshold_price, direction, active, triggered_at, created_at, updated_at`

func scanAlert(row interface{ Scan(...any) error }) (*common.Alert, error) {
	var alert common.Alert
	var triggeredAt sql.NullTime
	err := row.Scan(
		&alert.ID,
		&alert.Symbol,
		&alert.ThresholdPrice,
		&alert.Direction,
		&alert.Active,
		&triggeredAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if triggeredAt.Valid {
		t := triggeredAt.Time
		alert.TriggeredAt = &t
	}
	return &alert, nil
}

// ActiveUntriggeredAlerts returns every alert eligible for subscription,
// with its channel ids loaded.
func (s *Store) ActiveUntriggeredAlerts() ([]*common.Alert, error) {
	query := `
        SELECT ` + alertColumns + `
        FROM alerts
        WHERE active = TRUE AND triggered_at IS NULL
        ORDER BY id ASC`
	rows, err := s.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alertsList []*common.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alertsList = append(alertsList, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, alert := range alertsList {
		if err := s.loadChannelIDs(alert); err != nil {
			return nil, err
		}
	}
	return alertsList, nil
}

// GetAlert returns the alert or nil when it does not exist.
func (s *Store) GetAlert(id int64) (*common.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	alert, err := scanAlert(s.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadChannelIDs(alert); err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *Store) loadChannelIDs(alert *common.Alert) error {
	rows, err := s.DB.Query(
		`SELECT channel_id FROM alert_notification_channels WHERE alert_id = $1 ORDER BY channel_id ASC`,
		alert.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	alert.ChannelIDs = nil
	for rows.Next() {
		var channelID int64
		if err := rows.Scan(&channelID); err != nil {
			return err
		}
		alert.ChannelIDs = append(alert.ChannelIDs, channelID)
	}
	return rows.Err()
}

func (s *Store) CreateAlert(alert *common.Alert) error {
	query := `
        INSERT INTO alerts (symbol, threshold_price, direction, active)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`
	err := s.DB.QueryRow(query, alert.Symbol, alert.ThresholdPrice, alert.Direction, alert.Active).
		Scan(&alert.ID, &alert.CreatedAt, &alert.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error inserting alert: %w", err)
	}

	for _, channelID := range alert.ChannelIDs {
		if err := s.LinkChannel(alert.ID, channelID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpdateAlert(alert *common.Alert) error {
	query := `
        UPDATE alerts
        SET symbol = $1, threshold_price = $2, direction = $3, active = $4,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $5`
	result, err := s.DB.Exec(query, alert.Symbol, alert.ThresholdPrice, alert.Direction, alert.Active, alert.ID)
	if err != nil {
		return fmt.Errorf("error updating alert %d: %w", alert.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("alert %d not found", alert.ID)
	}
	return nil
}

// MarkTriggered performs the idempotent trigger transition: it succeeds only
// when the alert is still active and untriggered, so of two concurrent
// triggers only the first wins.
func (s *Store) MarkTriggered(id int64, at time.Time) (bool, error) {
	query := `
        UPDATE alerts
        SET triggered_at = $1, active = FALSE, updated_at = CURRENT_TIMESTAMP
        WHERE id = $2 AND active = TRUE AND triggered_at IS NULL`
	result, err := s.DB.Exec(query, at, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ResetAlert clears triggered_at and reactivates the alert so it can be
// subscribed again.
func (s *Store) ResetAlert(id int64) error {
	query := `
        UPDATE alerts
        SET triggered_at = NULL, active = TRUE, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`
	result, err := s.DB.Exec(query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}

func (s *Store) DeleteAlert(id int64) error {
	_, err := s.DB.Exec(`DELETE FROM alerts WHERE id = $1`, id)
	return err
}

func (s *Store) ListAlerts() ([]*common.Alert, error) {
	rows, err := s.DB.Query(`SELECT ` + alertColumns + ` FROM alerts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alertsList []*common.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alertsList = append(alertsList, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, alert := range alertsList {
		if err := s.loadChannelIDs(alert); err != nil {
			return nil, err
		}
	}
	return alertsList, nil
}

// LinkChannel associates a channel with an alert; the pair is unique.
func (s *Store) LinkChannel(alertID, channelID int64) error {
	_, err := s.DB.Exec(
		`INSERT INTO alert_notification_channels (alert_id, channel_id) VALUES ($1, $2)`,
		alertID, channelID)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return nil
	}
	return err
}

func (s *Store) UnlinkChannel(alertID, channelID int64) error {
	_, err := s.DB.Exec(
		`DELETE FROM alert_notification_channels WHERE alert_id = $1 AND channel_id = $2`,
		alertID, channelID)
	return err
}
