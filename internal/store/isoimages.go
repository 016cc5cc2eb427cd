package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

func (s *Store) UpsertISO(ctx context.Context, iso models.ISOImage) error {
	now := time.Now().UTC()
	row := s.DB.QueryRowContext(ctx, `SELECT discovered_at FROM iso_images WHERE volid = ?`, iso.VolID)
	var discoveredAt string
	err := row.Scan(&discoveredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.DB.ExecContext(ctx, `INSERT INTO iso_images (volid, name, size, node, storage, cluster_id, discovered_at, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			iso.VolID, iso.Name, iso.SizeBytes, iso.Node, iso.Storage, iso.ClusterID, formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("insert iso %s: %w", iso.VolID, err)
		}
		return nil
	case err != nil:
		return err
	default:
		_, err := s.DB.ExecContext(ctx, `UPDATE iso_images SET name = ?, size = ?, node = ?, storage = ?, last_seen = ? WHERE volid = ?`,
			iso.Name, iso.SizeBytes, iso.Node, iso.Storage, formatTime(now), iso.VolID)
		if err != nil {
			return fmt.Errorf("update iso %s: %w", iso.VolID, err)
		}
		return nil
	}
}

func (s *Store) TouchISOSeen(ctx context.Context, volID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE iso_images SET last_seen = ? WHERE volid = ?`, formatTime(time.Now().UTC()), volID)
	return err
}

func (s *Store) DeleteISO(ctx context.Context, volID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM iso_images WHERE volid = ?`, volID)
	return err
}

func (s *Store) ListISOs(ctx context.Context, clusterID string) ([]models.ISOImage, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT volid, name, size, node, storage, cluster_id, discovered_at, last_seen FROM iso_images WHERE cluster_id = ?`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ISOImage
	for rows.Next() {
		var iso models.ISOImage
		var discoveredAt, lastSeen string
		if err := rows.Scan(&iso.VolID, &iso.Name, &iso.SizeBytes, &iso.Node, &iso.Storage, &iso.ClusterID, &discoveredAt, &lastSeen); err != nil {
			return nil, err
		}
		iso.DiscoveredAt, err = parseTime(discoveredAt)
		if err != nil {
			return nil, err
		}
		iso.LastSeen, err = parseTime(lastSeen)
		if err != nil {
			return nil, err
		}
		out = append(out, iso)
	}
	return out, rows.Err()
}
