package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"pricewatch/common"
)

func scanChannel(row interface{ Scan(...any) error }) (*common.NotificationChannel, error) {
	var channel common.NotificationChannel
	var configRaw []byte
	err := row.Scan(&channel.ID, &channel.Name, &channel.ChannelType, &configRaw, &channel.Active)
	if err != nil {
		return nil, err
	}
	channel.Config = make(map[string]string)
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &channel.Config); err != nil {
			return nil, fmt.Errorf("error decoding config for channel %d: %w", channel.ID, err)
		}
	}
	return &channel, nil
}

// GetChannel returns the channel or nil when it does not exist.
func (s *Store) GetChannel(id int64) (*common.NotificationChannel, error) {
	query := `SELECT id, name, channel_type, config, active FROM notification_channels WHERE id = $1`
	channel, err := scanChannel(s.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return channel, err
}

func (s *Store) ListChannels() ([]*common.NotificationChannel, error) {
	rows, err := s.DB.Query(`SELECT id, name, channel_type, config, active FROM notification_channels ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*common.NotificationChannel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

func (s *Store) CreateChannel(channel *common.NotificationChannel) error {
	configRaw, err := json.Marshal(channel.Config)
	if err != nil {
		return fmt.Errorf("error encoding channel config: %w", err)
	}
	query := `
        INSERT INTO notification_channels (name, channel_type, config, active)
        VALUES ($1, $2, $3, $4)
        RETURNING id`
	return s.DB.QueryRow(query, channel.Name, channel.ChannelType, configRaw, channel.Active).
		Scan(&channel.ID)
}

func (s *Store) DeleteChannel(id int64) error {
	_, err := s.DB.Exec(`DELETE FROM notification_channels WHERE id = $1`, id)
	return err
}
